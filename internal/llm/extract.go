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

	"github.com/rcliao/ryos-memory/internal/logging"
	"github.com/rcliao/ryos-memory/internal/model"
)

//go:embed prompt/extract.md
var extractPromptRaw string

var extractPromptTmpl = template.Must(template.New("extract").Parse(extractPromptRaw))

// DefaultExtractionTemperature keeps extraction conservative.
const DefaultExtractionTemperature float32 = 0.3

// CanonicalKeys are the preferred memory keys offered to the model.
var CanonicalKeys = []string{
	"name", "nickname", "birthday", "location", "hometown",
	"occupation", "education", "family", "pets", "relationships",
	"languages", "skills", "interests", "hobbies",
	"music_preferences", "food_preferences", "favorite_media", "communication_style",
	"work_projects", "goals", "health", "routines", "devices", "travel",
}

var extractionSchema = &genai.Schema{
	Type: genai.TypeObject,
	Properties: map[string]*genai.Schema{
		"memories": {
			Type:        genai.TypeArray,
			Description: "Long-term memories extracted from the day's notes. Empty when nothing qualifies.",
			Items: &genai.Schema{
				Type: genai.TypeObject,
				Properties: map[string]*genai.Schema{
					"key": {
						Type:        genai.TypeString,
						Description: fmt.Sprintf("Memory key, lowercase with underscores, at most %d characters", model.MaxKeyLen),
					},
					"summary": {
						Type:        genai.TypeString,
						Description: fmt.Sprintf("One-sentence summary, at most %d characters", model.MaxSummaryLen),
					},
					"content": {
						Type:        genai.TypeString,
						Description: fmt.Sprintf("Full fact, at most %d characters", model.MaxContentLen),
					},
					"confidence": {
						Type:        genai.TypeString,
						Enum:        []string{model.ConfidenceHigh, model.ConfidenceMedium},
						Description: "high when directly stated, medium when inferred",
					},
					"relatedKeys": {
						Type:        genai.TypeArray,
						Description: "Existing memory keys that overlap with this memory",
						Items:       &genai.Schema{Type: genai.TypeString},
					},
				},
				Required: []string{"key", "summary", "content", "confidence"},
			},
		},
	},
	Required: []string{"memories"},
}

// Extractor turns a day of notes into memory candidates.
type Extractor struct {
	gen  Generator
	opts stageOptions
}

// NewExtractor creates an Extractor backed by gen.
func NewExtractor(gen Generator, opts ...Option) *Extractor {
	return &Extractor{gen: gen, opts: applyOptions(DefaultExtractionTemperature, opts)}
}

// Extract asks the model for at most req.Limit candidates. A response that
// does not match the schema is an error; an empty list is not.
func (x *Extractor) Extract(ctx context.Context, req model.ExtractionRequest) ([]model.Candidate, error) {
	if req.Limit <= 0 {
		return nil, nil
	}

	var system bytes.Buffer
	if err := extractPromptTmpl.Execute(&system, map[string]any{
		"CanonicalKeys": CanonicalKeys,
		"Existing":      req.Existing,
		"Limit":         req.Limit,
		"AtCapacity":    req.AtCapacity,
		"MaxKeyLen":     model.MaxKeyLen,
		"MaxSummaryLen": model.MaxSummaryLen,
		"MaxContentLen": model.MaxContentLen,
	}); err != nil {
		return nil, goerr.Wrap(err, "failed to execute extraction prompt template")
	}

	user := fmt.Sprintf("Notes from %s:\n\n%s", req.Date, req.NoteText)
	contents := []*genai.Content{genai.NewContentFromText(user, genai.RoleUser)}

	resp, err := x.gen.GenerateContent(ctx, contents, structuredConfig(system.String(), x.opts.temperature, extractionSchema))
	if err != nil {
		return nil, goerr.Wrap(err, "failed to generate extraction", goerr.V("date", req.Date))
	}
	rawJSON, err := responseJSON(resp)
	if err != nil {
		return nil, err
	}

	candidates, err := parseExtraction(rawJSON)
	if err != nil {
		return nil, goerr.Wrap(err, "malformed extraction response", goerr.V("date", req.Date), goerr.V("json", rawJSON))
	}

	if len(candidates) > req.Limit {
		logging.From(ctx).Debug("model returned more candidates than requested",
			"returned", len(candidates), "limit", req.Limit)
		candidates = candidates[:req.Limit]
	}
	return candidates, nil
}

func parseExtraction(rawJSON string) ([]model.Candidate, error) {
	var out struct {
		Memories *[]model.Candidate `json:"memories"`
	}
	if err := json.Unmarshal([]byte(rawJSON), &out); err != nil {
		return nil, goerr.Wrap(err, "failed to unmarshal extraction JSON")
	}
	if out.Memories == nil {
		return nil, goerr.New("extraction response has no memories field")
	}

	candidates := *out.Memories
	for i := range candidates {
		c := &candidates[i]
		c.Key = strings.TrimSpace(c.Key)
		c.Summary = strings.TrimSpace(c.Summary)
		c.Content = strings.TrimSpace(c.Content)
		c.Confidence = strings.ToLower(strings.TrimSpace(c.Confidence))

		switch {
		case c.Key == "":
			return nil, goerr.New("candidate without key", goerr.V("index", i))
		case c.Summary == "" || c.Content == "":
			return nil, goerr.New("candidate without summary or content", goerr.V("key", c.Key))
		case c.Confidence != model.ConfidenceHigh && c.Confidence != model.ConfidenceMedium:
			return nil, goerr.New("candidate with unknown confidence", goerr.V("key", c.Key), goerr.V("confidence", c.Confidence))
		}
	}
	return candidates, nil
}
