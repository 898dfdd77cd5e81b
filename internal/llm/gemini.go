package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"google.golang.org/genai"
)

const defaultGeminiModel = "gemini-2.0-flash-lite"

// GeminiClient calls the Gemini API through the official SDK.
type GeminiClient struct {
	client  *genai.Client
	model   string
	timeout time.Duration
}

func NewGeminiClient(ctx context.Context, cfg Config) (*GeminiClient, error) {
	cc := &genai.ClientConfig{
		APIKey:  strings.TrimSpace(cfg.GeminiAPIKey),
		Backend: genai.BackendGeminiAPI,
	}
	if u := strings.TrimSpace(cfg.GeminiBaseURL); u != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: u}
	}
	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = defaultGeminiModel
	}
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &GeminiClient{client: client, model: model, timeout: timeout}, nil
}

func (c *GeminiClient) Generate(ctx context.Context, req Request) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	contents, config := buildGeminiRequest(req)
	resp, err := c.client.Models.GenerateContent(ctx, c.model, contents, config)
	if err != nil {
		return "", geminiError(err)
	}
	text := resp.Text()
	if strings.TrimSpace(text) == "" {
		return "", &Error{Provider: "gemini", Message: "empty response"}
	}
	return text, nil
}

func (c *GeminiClient) GenerateStream(ctx context.Context, req Request, onDelta DeltaHandler) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	contents, config := buildGeminiRequest(req)
	var out strings.Builder
	for chunk, err := range c.client.Models.GenerateContentStream(ctx, c.model, contents, config) {
		if err != nil {
			return out.String(), geminiError(err)
		}
		delta := chunk.Text()
		out.WriteString(delta)
		if onDelta != nil {
			if err := onDelta(delta); err != nil {
				return out.String(), err
			}
		}
	}
	return out.String(), nil
}

func buildGeminiRequest(req Request) ([]*genai.Content, *genai.GenerateContentConfig) {
	var (
		system   []string
		contents []*genai.Content
	)
	for _, m := range req.Messages {
		switch m.Role {
		case RoleSystem:
			system = append(system, m.Text)
		case RoleAssistant:
			contents = append(contents, genai.NewContentFromText(m.Text, genai.RoleModel))
		default:
			contents = append(contents, genai.NewContentFromText(m.Text, genai.RoleUser))
		}
	}

	config := &genai.GenerateContentConfig{Temperature: req.Temperature}
	if len(contents) == 0 {
		// Gemini rejects requests without user content; a system-only prompt
		// is sent as the user turn instead.
		contents = append(contents, genai.NewContentFromText(strings.Join(system, "\n\n"), genai.RoleUser))
	} else if len(system) > 0 {
		config.SystemInstruction = genai.NewContentFromText(strings.Join(system, "\n\n"), genai.RoleUser)
	}
	if req.JSON {
		config.ResponseMIMEType = "application/json"
		config.ResponseSchema = req.Schema
		config.SafetySettings = unblockedSafetySettings()
	}
	return contents, config
}

// Report prompts quote candidate answers verbatim; default filters
// occasionally blank the whole response.
func unblockedSafetySettings() []*genai.SafetySetting {
	categories := []genai.HarmCategory{
		genai.HarmCategoryHarassment,
		genai.HarmCategoryHateSpeech,
		genai.HarmCategorySexuallyExplicit,
		genai.HarmCategoryDangerousContent,
	}
	out := make([]*genai.SafetySetting, 0, len(categories))
	for _, c := range categories {
		out = append(out, &genai.SafetySetting{Category: c, Threshold: genai.HarmBlockThresholdBlockNone})
	}
	return out
}

func geminiError(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return &Error{Provider: "gemini", Err: err}
	}
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return &Error{Provider: "gemini", Status: apiErr.Code, Message: apiErr.Message, Err: err}
	}
	return &Error{Provider: "gemini", Err: err}
}
