package devorch

import (
	"time"

	"github.com/matiasleandrokruk/nerve/internal/domain/orch"
)

// Models served by DefaultSnapshot.
const (
	ModelChat  = "dev-chat"
	ModelEmbed = "dev-embed"
)

// DefaultSnapshot describes a small two-model orchestrator.
func DefaultSnapshot() *orch.CapabilitySnapshot {
	return &orch.CapabilitySnapshot{
		Metadata: orch.Metadata{Engine: "devorch", Version: "0.1.0"},
		Limits: orch.Limits{
			ContextMax:            8192,
			MaxOutputTokens:       orch.Ptr[uint32](1024),
			MaxConcurrentRequests: orch.Ptr[uint32](4),
		},
		Workloads: []orch.Workload{
			{Kind: orch.WorkloadChat, Models: []string{ModelChat}, DefaultModel: ModelChat, Guardrails: true},
			{Kind: orch.WorkloadCompletion, Models: []string{ModelChat}, DefaultModel: ModelChat},
			{Kind: orch.WorkloadEmbedding, Models: []string{ModelEmbed}, DefaultModel: ModelEmbed},
		},
		Models: []orch.Model{
			{
				ID:                ModelChat,
				DisplayName:       "Dev Chat",
				Family:            "dev",
				Modality:          []string{"text"},
				ContextMax:        8192,
				MaxOutputTokens:   orch.Ptr[uint32](512),
				SupportsToolCalls: true,
			},
			{
				ID:          ModelEmbed,
				DisplayName: "Dev Embed",
				Family:      "dev",
				Modality:    []string{"text"},
				ContextMax:  2048,
			},
		},
		Hardware: orch.Hardware{
			CPUs: []orch.CPU{{Model: "virtual", Cores: 4, Threads: 8}},
		},
		CapturedAt: time.Unix(0, 0).UTC(),
	}
}
