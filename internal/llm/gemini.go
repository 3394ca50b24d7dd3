// Package llm implements the extraction and consolidation stages on Gemini
// structured output.
package llm

import (
	"context"

	"github.com/m-mizutani/goerr/v2"
	"google.golang.org/genai"
)

// DefaultModel is used when no model is configured.
const DefaultModel = "gemini-2.5-flash"

// Generator is the part of the Gemini API the stages use.
type Generator interface {
	GenerateContent(ctx context.Context, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// GeminiClient calls a single generative model.
type GeminiClient struct {
	client *genai.Client
	model  string
}

// GeminiConfig selects the backend. APIKey uses the Gemini API; otherwise
// Project and Location select Vertex AI.
type GeminiConfig struct {
	APIKey   string `yaml:"api_key"`
	Project  string `yaml:"project"`
	Location string `yaml:"location"`
	Model    string `yaml:"model"`
}

// NewGemini creates a client for cfg.
func NewGemini(ctx context.Context, cfg GeminiConfig) (*GeminiClient, error) {
	cc := &genai.ClientConfig{}
	switch {
	case cfg.APIKey != "":
		cc.APIKey = cfg.APIKey
		cc.Backend = genai.BackendGeminiAPI
	case cfg.Project != "":
		cc.Project = cfg.Project
		cc.Location = cfg.Location
		cc.Backend = genai.BackendVertexAI
	default:
		return nil, goerr.New("either a Gemini API key or a Vertex AI project is required")
	}

	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create genai client")
	}

	model := cfg.Model
	if model == "" {
		model = DefaultModel
	}
	return &GeminiClient{client: client, model: model}, nil
}

// GenerateContent calls the configured model.
func (g *GeminiClient) GenerateContent(ctx context.Context, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	resp, err := g.client.Models.GenerateContent(ctx, g.model, contents, config)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to generate content", goerr.V("model", g.model))
	}
	return resp, nil
}

// Option customizes a stage.
type Option func(*stageOptions)

type stageOptions struct {
	temperature float32
}

// WithTemperature sets the sampling temperature.
func WithTemperature(t float32) Option {
	return func(o *stageOptions) { o.temperature = t }
}

func applyOptions(defaultTemperature float32, opts []Option) stageOptions {
	o := stageOptions{temperature: defaultTemperature}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

func structuredConfig(system string, temperature float32, schema *genai.Schema) *genai.GenerateContentConfig {
	thinkingBudget := int32(0)
	return &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(system, ""),
		Temperature:       genai.Ptr(temperature),
		ResponseMIMEType:  "application/json",
		ResponseSchema:    schema,
		ThinkingConfig: &genai.ThinkingConfig{
			IncludeThoughts: false,
			ThinkingBudget:  &thinkingBudget,
		},
	}
}

func responseJSON(resp *genai.GenerateContentResponse) (string, error) {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil || len(resp.Candidates[0].Content.Parts) == 0 {
		return "", goerr.New("invalid response structure from gemini")
	}
	text := resp.Candidates[0].Content.Parts[0].Text
	if text == "" {
		return "", goerr.New("empty response from gemini")
	}
	return text, nil
}
