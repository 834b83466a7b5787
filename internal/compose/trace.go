package compose

import (
	"github.com/nah-dev/nah/internal/contract"
	"github.com/nah-dev/nah/internal/record"
)

// traceRecorder accumulates per-key contribution history while the
// environment layers fold. Disabled recorders are no-ops so the hot path
// pays nothing when tracing is off.
type traceRecorder struct {
	enabled bool
	history map[string][]contract.TraceContribution
}

func newTraceRecorder(enabled bool) *traceRecorder {
	tr := &traceRecorder{enabled: enabled}
	if enabled {
		tr.history = make(map[string][]contract.TraceContribution)
	}
	return tr
}

func (tr *traceRecorder) record(key, value, sourceKind, sourcePath string, rank int, op record.EnvOp, accepted bool) {
	if !tr.enabled {
		return
	}
	tr.history[key] = append(tr.history[key], contract.TraceContribution{
		Value:          value,
		SourceKind:     sourceKind,
		SourcePath:     sourcePath,
		PrecedenceRank: rank,
		Operation:      string(op),
		Accepted:       accepted,
	})
}

// build assembles the environment section of the trace: per key, the
// final value, the last accepted contribution as the winner, and the full
// history in layer order.
func (tr *traceRecorder) build(finalEnv map[string]string) contract.Trace {
	if !tr.enabled {
		return nil
	}
	entries := make(map[string]contract.TraceEntry, len(tr.history))
	for key, history := range tr.history {
		entry := contract.TraceEntry{History: history}
		entry.Value = finalEnv[key]
		for i := len(history) - 1; i >= 0; i-- {
			if history[i].Accepted {
				entry.SourceKind = history[i].SourceKind
				entry.SourcePath = history[i].SourcePath
				entry.PrecedenceRank = history[i].PrecedenceRank
				break
			}
		}
		entries[key] = entry
	}
	return contract.Trace{"environment": entries}
}
