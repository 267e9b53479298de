package synthesis

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/atlas-ocean/atlas/go/orchestrator/internal/agents"
	"github.com/atlas-ocean/atlas/go/orchestrator/internal/dispatch"
	"github.com/atlas-ocean/atlas/go/orchestrator/internal/router"
	"github.com/atlas-ocean/atlas/go/orchestrator/internal/util"
)

// KnowledgeOnlyCaveat prefixes answers produced without any retrieved
// data or literature.
const KnowledgeOnlyCaveat = "Note: no Argo float data or literature could be retrieved for this question. " +
	"The answer below is based on general oceanographic knowledge only and has not been checked against observations."

const systemPrompt = `You are an oceanographic research assistant answering questions about Argo profiling floats.
Write a clear, accurate answer grounded in the evidence provided.
- Quote numbers from the data sections exactly; do not invent measurements.
- Cite literature by its bracketed number, e.g. [2].
- Say so when the evidence is partial or a source was unavailable.`

const knowledgeOnlyInstruction = `No float data or literature could be retrieved for this question.
Answer from general oceanographic knowledge and state clearly that the answer is not based on retrieved data.`

var agentTitles = map[agents.Kind]string{
	agents.KindProfiles: "Float profile measurements",
	agents.KindMetadata: "Float metadata",
}

type promptBuilder struct {
	maxRows, maxBytes, maxExcerpt int
}

func (p promptBuilder) build(q agents.Query, d router.Decision, results dispatch.Results, knowledgeOnly bool) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Question: %s\n", strings.TrimSpace(q.Text))
	fmt.Fprintf(&b, "Detected category: %s\n", d.Category)
	if q.FloatID != "" {
		fmt.Fprintf(&b, "Float: %s\n", q.FloatID)
	}

	for _, r := range results.Structured() {
		b.WriteString("\n## ")
		b.WriteString(agentTitles[r.Agent])
		b.WriteString("\n")
		if !r.Success {
			b.WriteString("(unavailable)\n")
			continue
		}
		p.writeRows(&b, r)
	}

	if lit := results.Get(agents.KindRetrieval); lit != nil {
		b.WriteString("\n## Literature\n")
		switch {
		case !lit.Success:
			b.WriteString("(unavailable)\n")
		case len(lit.Documents) == 0:
			b.WriteString("(no matching publications)\n")
		default:
			p.writeDocuments(&b, lit.Documents)
		}
	}

	if conv := results.Get(agents.KindConversational); conv != nil && !conv.Success {
		b.WriteString("\n## Conversation\n(unavailable)\n")
	}

	if knowledgeOnly {
		b.WriteString("\n")
		b.WriteString(knowledgeOnlyInstruction)
		b.WriteString("\n")
	}
	return b.String()
}

func (p promptBuilder) writeRows(b *strings.Builder, r agents.Result) {
	fmt.Fprintf(b, "Query: %s\n", r.Query)
	total := r.RowCount()
	if total == 0 {
		b.WriteString("Rows: none\n")
		return
	}

	shown, used := 0, 0
	var lines []string
	for _, row := range r.Rows {
		if shown >= p.maxRows {
			break
		}
		raw, err := json.Marshal(row)
		if err != nil {
			continue
		}
		if used+len(raw)+1 > p.maxBytes && shown > 0 {
			break
		}
		lines = append(lines, string(raw))
		used += len(raw) + 1
		shown++
	}

	fmt.Fprintf(b, "Columns: %s\n", strings.Join(r.Columns, ", "))
	for _, l := range lines {
		b.WriteString(l)
		b.WriteString("\n")
	}
	if shown < total || r.Truncated {
		more := ""
		if r.Truncated {
			more = "+"
		}
		fmt.Fprintf(b, "(showing %d of %d%s rows)\n", shown, total, more)
	}
}

func (p promptBuilder) writeDocuments(b *strings.Builder, docs []agents.Document) {
	for i, d := range docs {
		fmt.Fprintf(b, "[%d] %s", i+1, d.Title)
		if len(d.Authors) > 0 {
			fmt.Fprintf(b, " - %s", strings.Join(d.Authors, ", "))
		}
		if d.Year > 0 {
			fmt.Fprintf(b, " (%d)", d.Year)
		}
		if d.Journal != "" {
			fmt.Fprintf(b, ", %s", d.Journal)
		}
		b.WriteString("\n")
		if excerpt := strings.TrimSpace(d.Excerpt); excerpt != "" {
			fmt.Fprintf(b, "    %s\n", util.TruncateString(excerpt, p.maxExcerpt, true))
		}
	}
}
