package llm

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"google.golang.org/genai"
)

// DefaultGeminiBaseURL is the public Generative Language API root. The SDK
// appends the API version and model path.
const DefaultGeminiBaseURL = "https://generativelanguage.googleapis.com/"

// GeminiConfig configures a Gemini client.
type GeminiConfig struct {
	BaseURL         string
	APIKey          string
	Model           string
	Temperature     float64
	MaxOutputTokens int
	Timeout         time.Duration
}

// Gemini generates replies through the Gemini API.
type Gemini struct {
	client  *genai.Client
	baseURL string
	model   string
	temp    float64
	maxOut  int
}

// NewGemini validates cfg and returns a client.
func NewGemini(cfg GeminiConfig) (*Gemini, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("gemini: api key is required")
	}
	if strings.TrimSpace(cfg.Model) == "" {
		cfg.Model = "gemini-1.5-flash"
	}
	if strings.TrimSpace(cfg.BaseURL) == "" {
		cfg.BaseURL = DefaultGeminiBaseURL
	}
	if cfg.Temperature <= 0 {
		cfg.Temperature = 0.7
	}
	if cfg.MaxOutputTokens <= 0 {
		cfg.MaxOutputTokens = 500
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}

	client, err := genai.NewClient(context.Background(), &genai.ClientConfig{
		APIKey:      cfg.APIKey,
		Backend:     genai.BackendGeminiAPI,
		HTTPClient:  &http.Client{Timeout: cfg.Timeout},
		HTTPOptions: genai.HTTPOptions{BaseURL: cfg.BaseURL},
	})
	if err != nil {
		return nil, fmt.Errorf("gemini: new client: %w", err)
	}
	return &Gemini{
		client:  client,
		baseURL: cfg.BaseURL,
		model:   cfg.Model,
		temp:    cfg.Temperature,
		maxOut:  cfg.MaxOutputTokens,
	}, nil
}

// buildContents maps history and prompt to SDK contents. Blank turns are
// dropped and "assistant" is accepted as the model role.
func buildContents(req Request) []*genai.Content {
	out := make([]*genai.Content, 0, len(req.History)+1)
	for _, t := range req.History {
		if strings.TrimSpace(t.Text) == "" {
			continue
		}
		role := genai.RoleUser
		if t.Role == RoleModel || t.Role == "assistant" {
			role = genai.RoleModel
		}
		out = append(out, genai.NewContentFromText(t.Text, genai.Role(role)))
	}
	return append(out, genai.NewContentFromText(req.Prompt, genai.RoleUser))
}

func (g *Gemini) buildConfig(req Request) *genai.GenerateContentConfig {
	system := Persona
	if len(req.Context) > 0 {
		system += "\n\nRelevant knowledge:\n" + strings.Join(req.Context, "\n\n")
	}
	return &genai.GenerateContentConfig{
		SystemInstruction: &genai.Content{Parts: []*genai.Part{genai.NewPartFromText(system)}},
		Temperature:       genai.Ptr(float32(g.temp)),
		MaxOutputTokens:   int32(g.maxOut),
	}
}

// Generate sends the persona, history and prompt and returns the first
// candidate's text.
func (g *Gemini) Generate(ctx context.Context, req Request) (string, error) {
	resp, err := g.client.Models.GenerateContent(ctx, g.model, buildContents(req), g.buildConfig(req))
	if err != nil {
		return "", fmt.Errorf("gemini: %w", err)
	}
	if resp.PromptFeedback != nil && resp.PromptFeedback.BlockReason != "" {
		return "", fmt.Errorf("gemini: prompt blocked: %s", resp.PromptFeedback.BlockReason)
	}
	if len(resp.Candidates) == 0 {
		return "", fmt.Errorf("gemini: response has no candidates")
	}
	text := strings.TrimSpace(resp.Text())
	if text == "" {
		return "", fmt.Errorf("gemini: empty reply (finish reason %q)", resp.Candidates[0].FinishReason)
	}
	return text, nil
}
