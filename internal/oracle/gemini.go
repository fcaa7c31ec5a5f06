package oracle

import (
	"context"
	"strings"

	"go.uber.org/zap"
	"google.golang.org/genai"

	"github.com/example/currency-check/internal/logging"
)

// DefaultModel is the Gemini model used when none is configured.
const DefaultModel = "gemini-2.0-flash"

type contentGenerator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// GeminiClient asks a Gemini multimodal model to judge a banknote image.
type GeminiClient struct {
	models contentGenerator
	model  string
	prompt string
	logger *zap.Logger
}

// NewGeminiClient builds a client for the Gemini API. An empty apiKey yields
// ErrNotConfigured so callers can keep serving without the oracle.
func NewGeminiClient(ctx context.Context, apiKey, model string, logger *zap.Logger) (*GeminiClient, error) {
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return nil, ErrNotConfigured
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		wrapped := logging.NewOperationError("oracle.new_gemini_client", "", err)
		logger.Error("failed to create gemini client", zap.Error(wrapped))
		return nil, wrapped
	}
	return newGeminiClient(client.Models, model, logger), nil
}

func newGeminiClient(models contentGenerator, model string, logger *zap.Logger) *GeminiClient {
	if model == "" {
		model = DefaultModel
	}
	return &GeminiClient{
		models: models,
		model:  model,
		prompt: Prompt,
		logger: logger.Named("gemini"),
	}
}

// Analyze sends the fixed prompt and image and returns the model's text.
func (g *GeminiClient) Analyze(ctx context.Context, image []byte, mimeType string) (string, error) {
	parts := []*genai.Part{
		genai.NewPartFromText(g.prompt),
		genai.NewPartFromBytes(image, mimeType),
	}
	contents := []*genai.Content{genai.NewContentFromParts(parts, genai.RoleUser)}

	resp, err := g.models.GenerateContent(ctx, g.model, contents, nil)
	if err != nil {
		g.logger.Error("generate content failed", zap.Error(err), zap.String("model", g.model))
		return "", logging.NewOperationError("oracle.generate_content", "", err)
	}
	if resp == nil {
		return "", ErrEmptyResponse
	}
	text := resp.Text()
	if strings.TrimSpace(text) == "" {
		g.logger.Warn("empty response from model", zap.String("model", g.model))
		return "", ErrEmptyResponse
	}
	return text, nil
}
