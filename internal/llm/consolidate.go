package llm

import (
	"bytes"
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"strings"
	"text/template"

	"github.com/m-mizutani/goerr/v2"
	"google.golang.org/genai"

	"github.com/rcliao/ryos-memory/internal/model"
)

//go:embed prompt/consolidate.md
var consolidatePromptRaw string

var consolidatePromptTmpl = template.Must(template.New("consolidate").Parse(consolidatePromptRaw))

// DefaultConsolidationTemperature is lower than extraction: merging should not invent.
const DefaultConsolidationTemperature float32 = 0.2

var consolidationSchema = &genai.Schema{
	Type: genai.TypeObject,
	Properties: map[string]*genai.Schema{
		"summary": {
			Type:        genai.TypeString,
			Description: fmt.Sprintf("One-sentence summary of the merged memory, at most %d characters", model.MaxSummaryLen),
		},
		"content": {
			Type:        genai.TypeString,
			Description: fmt.Sprintf("Merged memory content, at most %d characters", model.MaxContentLen),
		},
	},
	Required: []string{"summary", "content"},
}

// Consolidator merges a new candidate with related memories.
type Consolidator struct {
	gen  Generator
	opts stageOptions
}

// NewConsolidator creates a Consolidator backed by gen.
func NewConsolidator(gen Generator, opts ...Option) *Consolidator {
	return &Consolidator{gen: gen, opts: applyOptions(DefaultConsolidationTemperature, opts)}
}

// Consolidate returns one merged entry for req.Key.
func (c *Consolidator) Consolidate(ctx context.Context, req model.ConsolidationRequest) (*model.Consolidated, error) {
	var system bytes.Buffer
	if err := consolidatePromptTmpl.Execute(&system, map[string]any{
		"Key":           req.Key,
		"MaxSummaryLen": model.MaxSummaryLen,
		"MaxContentLen": model.MaxContentLen,
	}); err != nil {
		return nil, goerr.Wrap(err, "failed to execute consolidation prompt template")
	}

	contents := []*genai.Content{genai.NewContentFromText(renderConsolidationInput(req), genai.RoleUser)}

	resp, err := c.gen.GenerateContent(ctx, contents, structuredConfig(system.String(), c.opts.temperature, consolidationSchema))
	if err != nil {
		return nil, goerr.Wrap(err, "failed to generate consolidation", goerr.V("key", req.Key))
	}
	rawJSON, err := responseJSON(resp)
	if err != nil {
		return nil, err
	}

	var out model.Consolidated
	if err := json.Unmarshal([]byte(rawJSON), &out); err != nil {
		return nil, goerr.Wrap(err, "failed to unmarshal consolidation JSON", goerr.V("key", req.Key), goerr.V("json", rawJSON))
	}
	out.Summary = strings.TrimSpace(out.Summary)
	out.Content = strings.TrimSpace(out.Content)
	if out.Summary == "" || out.Content == "" {
		return nil, goerr.New("consolidation response without summary or content", goerr.V("key", req.Key), goerr.V("json", rawJSON))
	}
	out.Summary = model.Truncate(out.Summary, model.MaxSummaryLen)
	out.Content = model.Truncate(out.Content, model.MaxContentLen)
	return &out, nil
}

func renderConsolidationInput(req model.ConsolidationRequest) string {
	var b strings.Builder
	b.WriteString("## New fact\n\n")
	fmt.Fprintf(&b, "key: %s\nsummary: %s\ncontent: %s\n", req.Key, req.New.Summary, req.New.Content)

	b.WriteString("\n## Existing memories\n")
	if len(req.Existing) == 0 {
		b.WriteString("\n(none)\n")
	}
	for _, m := range req.Existing {
		fmt.Fprintf(&b, "\nkey: %s\nsummary: %s\ncontent: %s\n", m.Key, m.Summary, m.Content)
	}
	return b.String()
}
