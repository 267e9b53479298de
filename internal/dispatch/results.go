package dispatch

import "github.com/atlas-ocean/atlas/go/orchestrator/internal/agents"

var order = []agents.Kind{agents.KindProfiles, agents.KindMetadata, agents.KindRetrieval, agents.KindConversational}

// Results holds one settled result per launched agent. An agent that was
// not selected has no entry, which differs from a failed result.
type Results struct {
	byKind map[agents.Kind]*agents.Result
}

// NewResults builds a result set directly. Later entries of the same kind
// replace earlier ones.
func NewResults(rs ...agents.Result) Results {
	out := Results{byKind: make(map[agents.Kind]*agents.Result, len(rs))}
	for i := range rs {
		r := rs[i]
		out.byKind[r.Agent] = &r
	}
	return out
}

// Get returns nil for an agent that did not run.
func (r Results) Get(kind agents.Kind) *agents.Result {
	return r.byKind[kind]
}

func (r Results) Len() int { return len(r.byKind) }

// All lists the present results in a fixed agent order.
func (r Results) All() []agents.Result {
	out := make([]agents.Result, 0, len(r.byKind))
	for _, k := range order {
		if res, ok := r.byKind[k]; ok {
			out = append(out, *res)
		}
	}
	return out
}

// Structured lists present profile and metadata results.
func (r Results) Structured() []agents.Result {
	var out []agents.Result
	for _, res := range r.All() {
		if res.Agent.Structured() {
			out = append(out, res)
		}
	}
	return out
}

// AnySucceeded reports whether at least one present result succeeded.
func (r Results) AnySucceeded() bool {
	for _, res := range r.byKind {
		if res.Success {
			return true
		}
	}
	return false
}

// Conversational returns the conversational result when it is the only
// one present.
func (r Results) Conversational() (agents.Result, bool) {
	res, ok := r.byKind[agents.KindConversational]
	if !ok || len(r.byKind) != 1 {
		return agents.Result{}, false
	}
	return *res, true
}
