// Package llm is the task-lifecycle client: it validates requests against a
// capability snapshot, tracks task handles and turns raw orchestrator events
// into a terminating, indexed event sequence.
package llm

import "github.com/matiasleandrokruk/nerve/internal/domain/orch"

// RequestBuilder validates a task request against a snapshot. Every method
// returns a new builder; the zero value has no snapshot and rejects every
// model.
type RequestBuilder struct {
	snap        *orch.CapabilitySnapshot
	model       string
	workload    orch.WorkloadKind
	hasWorkload bool
	maxTokens   *uint32
	prompt      string
}

// NewRequestBuilder starts a request validated against snap.
func NewRequestBuilder(snap *orch.CapabilitySnapshot) RequestBuilder {
	return RequestBuilder{snap: snap}
}

// Model sets the model id. It is required.
func (b RequestBuilder) Model(id string) RequestBuilder {
	b.model = id
	return b
}

// Workload pins the workload. Without it Build picks the first workload in
// snapshot order that supports the model.
func (b RequestBuilder) Workload(kind orch.WorkloadKind) RequestBuilder {
	b.workload = kind
	b.hasWorkload = true
	return b
}

// MaxTokens sets the output token ceiling. Zero is rejected by Build.
func (b RequestBuilder) MaxTokens(n uint32) RequestBuilder {
	b.maxTokens = &n
	return b
}

// Prompt sets the task input.
func (b RequestBuilder) Prompt(text string) RequestBuilder {
	b.prompt = text
	return b
}

// Build runs the checks in a fixed order: model presence, model existence,
// workload, then token limits (model limit before global limit).
func (b RequestBuilder) Build() (Request, error) {
	if b.model == "" {
		return Request{}, &BuildError{Kind: MissingModel}
	}

	snap := b.snap
	if snap == nil {
		snap = &orch.CapabilitySnapshot{}
	}

	model, ok := snap.Model(b.model)
	if !ok {
		return Request{}, &BuildError{Kind: UnknownModel, Model: b.model}
	}

	workload, err := b.resolveWorkload(snap)
	if err != nil {
		return Request{}, err
	}

	if b.maxTokens != nil {
		if err := checkTokens(*b.maxTokens, model, snap.Limits); err != nil {
			return Request{}, err
		}
	}

	req := Request{model: b.model, workload: workload, prompt: b.prompt}
	if b.maxTokens != nil {
		n := *b.maxTokens
		req.maxTokens = &n
	}
	return req, nil
}

func (b RequestBuilder) resolveWorkload(snap *orch.CapabilitySnapshot) (orch.WorkloadKind, error) {
	if b.hasWorkload {
		w, ok := snap.Workload(b.workload)
		if !ok {
			return "", &BuildError{Kind: UnknownWorkload, Workload: b.workload}
		}
		if !w.Supports(b.model) {
			return "", &BuildError{Kind: WorkloadUnsupported, Workload: b.workload, Model: b.model}
		}
		return w.Kind, nil
	}

	for _, w := range snap.Workloads {
		if w.Supports(b.model) {
			return w.Kind, nil
		}
	}
	return "", &BuildError{Kind: WorkloadUnavailable, Model: b.model}
}

func checkTokens(requested uint32, model orch.Model, limits orch.Limits) error {
	if requested == 0 {
		return &BuildError{Kind: InvalidTokenLimit, Requested: requested}
	}
	if model.MaxOutputTokens != nil && requested > *model.MaxOutputTokens {
		return &BuildError{
			Kind:      TokenLimitExceededForModel,
			Requested: requested,
			Limit:     *model.MaxOutputTokens,
			Model:     model.ID,
		}
	}
	if limits.MaxOutputTokens != nil && requested > *limits.MaxOutputTokens {
		return &BuildError{Kind: TokenLimitExceededGlobal, Requested: requested, Limit: *limits.MaxOutputTokens}
	}
	return nil
}

// Request is a validated, immutable task request.
type Request struct {
	model     string
	workload  orch.WorkloadKind
	maxTokens *uint32
	prompt    string
}

// Model returns the validated model id.
func (r Request) Model() string { return r.model }

// Workload returns the resolved workload.
func (r Request) Workload() orch.WorkloadKind { return r.workload }

func (r Request) Prompt() string { return r.prompt }

// MaxTokens returns the token ceiling, if one was requested.
func (r Request) MaxTokens() (uint32, bool) {
	if r.maxTokens == nil {
		return 0, false
	}
	return *r.maxTokens, true
}

// TaskRequest returns the wire form of r.
func (r Request) TaskRequest() orch.TaskRequest {
	tr := orch.TaskRequest{Model: r.model, Workload: r.workload, Prompt: r.prompt}
	if r.maxTokens != nil {
		n := *r.maxTokens
		tr.MaxTokens = &n
	}
	return tr
}
