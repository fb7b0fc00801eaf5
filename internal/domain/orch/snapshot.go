// Package orch is the boundary between nerve and an orchestrator: the
// capability snapshot it advertises, the task wire types and the four-call
// Client contract that every transport implements.
package orch

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// WorkloadKind is a categorical kind of task a model may run under.
type WorkloadKind string

const (
	WorkloadChat       WorkloadKind = "chat"
	WorkloadCompletion WorkloadKind = "completion"
	WorkloadToolUse    WorkloadKind = "tool_use"
	WorkloadEmbedding  WorkloadKind = "embedding"
	WorkloadAudio      WorkloadKind = "audio"
)

// CapabilitySnapshot is a point-in-time description of what an orchestrator
// supports. Workload to model references are not validated on load; the
// request builder checks them when a request is built.
type CapabilitySnapshot struct {
	Metadata   Metadata   `json:"metadata" yaml:"metadata"`
	Limits     Limits     `json:"limits" yaml:"limits"`
	Workloads  []Workload `json:"workloads" yaml:"workloads"`
	Models     []Model    `json:"models" yaml:"models"`
	Hardware   Hardware   `json:"hardware" yaml:"hardware"`
	Tools      []Tool     `json:"tools,omitempty" yaml:"tools,omitempty"`
	CapturedAt time.Time  `json:"captured_at" yaml:"captured_at"`
}

type Metadata struct {
	Engine  string `json:"engine" yaml:"engine"`
	Version string `json:"version" yaml:"version"`
	Build   string `json:"build,omitempty" yaml:"build,omitempty"`
	Commit  string `json:"commit,omitempty" yaml:"commit,omitempty"`
}

type Limits struct {
	ContextMax            uint32  `json:"context_max" yaml:"context_max"`
	MaxOutputTokens       *uint32 `json:"max_output_tokens,omitempty" yaml:"max_output_tokens,omitempty"`
	MaxConcurrentRequests *uint32 `json:"max_concurrent_requests,omitempty" yaml:"max_concurrent_requests,omitempty"`
	QueueDepthLimit       *uint32 `json:"queue_depth_limit,omitempty" yaml:"queue_depth_limit,omitempty"`
}

// Workload lists the models that accept a kind of task.
type Workload struct {
	Kind         WorkloadKind `json:"kind" yaml:"kind"`
	Models       []string     `json:"models" yaml:"models"`
	DefaultModel string       `json:"default_model,omitempty" yaml:"default_model,omitempty"`
	Guardrails   bool         `json:"guardrails" yaml:"guardrails"`
}

// Supports reports whether model is in the workload's model set.
func (w Workload) Supports(model string) bool {
	for _, id := range w.Models {
		if id == model {
			return true
		}
	}
	return false
}

type Model struct {
	ID                        string   `json:"id" yaml:"id"`
	DisplayName               string   `json:"display_name" yaml:"display_name"`
	Family                    string   `json:"family" yaml:"family"`
	Modality                  []string `json:"modality,omitempty" yaml:"modality,omitempty"`
	ContextMax                uint32   `json:"context_max" yaml:"context_max"`
	MaxOutputTokens           *uint32  `json:"max_output_tokens,omitempty" yaml:"max_output_tokens,omitempty"`
	SupportsToolCalls         bool     `json:"supports_tool_calls" yaml:"supports_tool_calls"`
	SupportsParallelToolCalls bool     `json:"supports_parallel_tool_calls" yaml:"supports_parallel_tool_calls"`
	// ThroughputTokensPerSec is an advisory hint.
	ThroughputTokensPerSec *float64 `json:"throughput_tokens_per_sec,omitempty" yaml:"throughput_tokens_per_sec,omitempty"`
}

type Hardware struct {
	GPUs []GPU `json:"gpus" yaml:"gpus"`
	CPUs []CPU `json:"cpus,omitempty" yaml:"cpus,omitempty"`
}

type GPU struct {
	ID       string `json:"id" yaml:"id"`
	Vendor   string `json:"vendor" yaml:"vendor"`
	Name     string `json:"name" yaml:"name"`
	MemoryMB uint64 `json:"memory_mb" yaml:"memory_mb"`
	Driver   string `json:"driver,omitempty" yaml:"driver,omitempty"`
	Arch     string `json:"arch,omitempty" yaml:"arch,omitempty"`
}

type CPU struct {
	Model   string `json:"model" yaml:"model"`
	Cores   uint32 `json:"cores" yaml:"cores"`
	Threads uint32 `json:"threads" yaml:"threads"`
}

// Tool is a server-side tool the orchestrator can invoke during a task.
type Tool struct {
	Name         string         `json:"name" yaml:"name"`
	Description  string         `json:"description,omitempty" yaml:"description,omitempty"`
	InputSchema  map[string]any `json:"input_schema,omitempty" yaml:"input_schema,omitempty"`
	OutputSchema map[string]any `json:"output_schema,omitempty" yaml:"output_schema,omitempty"`
	TimeoutMs    *uint64        `json:"timeout_ms,omitempty" yaml:"timeout_ms,omitempty"`
}

// Model returns the model with the given id.
func (s *CapabilitySnapshot) Model(id string) (Model, bool) {
	for _, m := range s.Models {
		if m.ID == id {
			return m, true
		}
	}
	return Model{}, false
}

// Workload returns the workload of the given kind.
func (s *CapabilitySnapshot) Workload(kind WorkloadKind) (Workload, bool) {
	for _, w := range s.Workloads {
		if w.Kind == kind {
			return w, true
		}
	}
	return Workload{}, false
}

// ParseSnapshot decodes a YAML or JSON snapshot document.
func ParseSnapshot(data []byte) (*CapabilitySnapshot, error) {
	var snap CapabilitySnapshot
	if err := yaml.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("orch: parse snapshot: %w", err)
	}
	return &snap, nil
}

// LoadSnapshot reads a snapshot file written by WriteSnapshot (or by hand).
func LoadSnapshot(path string) (*CapabilitySnapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("orch: load snapshot %s: %w", path, err)
	}
	return ParseSnapshot(data)
}

// WriteSnapshot stores snap as YAML.
func WriteSnapshot(path string, snap *CapabilitySnapshot) error {
	data, err := yaml.Marshal(snap)
	if err != nil {
		return fmt.Errorf("orch: encode snapshot: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("orch: write snapshot %s: %w", path, err)
	}
	return nil
}

// Ptr returns a pointer to v, for the optional snapshot and request fields.
func Ptr[T any](v T) *T { return &v }
