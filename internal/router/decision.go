// Package router classifies a research question and decides which agents
// should answer it.
package router

import (
	"strings"

	"github.com/atlas-ocean/atlas/go/orchestrator/internal/agents"
)

// Category is the closed set of intents the classifier may return.
type Category string

const (
	DataAnalysis     Category = "data_analysis"
	LiteratureReview Category = "literature_review"
	Hybrid           Category = "hybrid"
	Methodological   Category = "methodological"
	Forecasting      Category = "forecasting"
	General          Category = "general"
)

var categories = []Category{DataAnalysis, LiteratureReview, Hybrid, Methodological, Forecasting, General}

// ParseCategory accepts a label in any case, with spaces or dashes in
// place of underscores and surrounding quotes or punctuation.
func ParseCategory(label string) (Category, bool) {
	s := strings.ToLower(strings.TrimSpace(label))
	s = strings.Trim(s, "\"'`.,:;!*")
	s = strings.NewReplacer(" ", "_", "-", "_").Replace(s)
	for _, c := range categories {
		if Category(s) == c {
			return c, true
		}
	}
	return "", false
}

// Decision is the routing outcome for one query.
type Decision struct {
	ProfileSQL  bool     `json:"profile_sql"`
	MetadataSQL bool     `json:"metadata_sql"`
	Literature  bool     `json:"literature"`
	General     bool     `json:"general"`
	Category    Category `json:"category"`
	Confidence  float64  `json:"confidence"`
	Reasoning   string   `json:"reasoning,omitempty"`
	TokensUsed  int      `json:"tokens_used"`
	// Fallback marks the default route taken on failure or ambiguity.
	Fallback bool `json:"fallback,omitempty"`
	Cached   bool `json:"cached,omitempty"`
}

// ForCategory maps a category onto agent flags.
func ForCategory(c Category) Decision {
	d := Decision{Category: c}
	switch c {
	case DataAnalysis, Forecasting:
		d.ProfileSQL, d.MetadataSQL = true, true
	case LiteratureReview:
		d.Literature = true
	case Methodological, Hybrid:
		d.ProfileSQL, d.MetadataSQL, d.Literature = true, true, true
	case General:
		d.General = true
	default:
		return Default("unrecognised category")
	}
	return d
}

// Default is the conservative route: every data and literature agent.
func Default(reason string) Decision {
	return Decision{
		ProfileSQL:  true,
		MetadataSQL: true,
		Literature:  true,
		Category:    Hybrid,
		Confidence:  0,
		Reasoning:   reason,
		Fallback:    true,
	}
}

// Normalize enforces that the conversational route excludes all others.
func (d Decision) Normalize() Decision {
	if d.General {
		d.ProfileSQL, d.MetadataSQL, d.Literature = false, false, false
	}
	return d
}

// ApplyToggles clears agents the caller did not permit. The
// conversational route is never affected.
func (d Decision) ApplyToggles(q agents.Query) Decision {
	if !q.EnableData {
		d.ProfileSQL, d.MetadataSQL = false, false
	}
	if !q.EnableLiterature {
		d.Literature = false
	}
	return d
}

// ConversationalOnly reports the greeting short-circuit.
func (d Decision) ConversationalOnly() bool {
	return d.General && !d.ProfileSQL && !d.MetadataSQL && !d.Literature
}

// Selected lists the agents to run, in a fixed order.
func (d Decision) Selected() []agents.Kind {
	var out []agents.Kind
	if d.General {
		return append(out, agents.KindConversational)
	}
	if d.ProfileSQL {
		out = append(out, agents.KindProfiles)
	}
	if d.MetadataSQL {
		out = append(out, agents.KindMetadata)
	}
	if d.Literature {
		out = append(out, agents.KindRetrieval)
	}
	return out
}
