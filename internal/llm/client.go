package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

// ErrEmptyResponse is returned when the model answers without usable text.
var ErrEmptyResponse = errors.New("empty model response")

// Image is one encoded still handed to the model.
type Image struct {
	// Format is the image subtype, e.g. "jpeg".
	Format string
	Data   []byte
	// Label is sent as text just before the image.
	Label string
}

// Usage is the token accounting reported by the provider.
type Usage struct {
	PromptTokens   int32
	ResponseTokens int32
	TotalTokens    int32
}

// VisionRequest asks for one multimodal generation.
type VisionRequest struct {
	Instructions string
	Images       []Image
	Tier         ModelTier
	// JSON requests an application/json response.
	JSON bool
}

// VisionResponse is the raw text plus accounting.
type VisionResponse struct {
	Text  string
	Usage Usage
	Model string
}

// Client is an abstraction over LLM providers
type Client interface {
	// GenerateContent generates text for a text-only prompt.
	GenerateContent(ctx context.Context, prompt string, tier ModelTier) (string, error)
	// AnalyzeImages sends instructions plus images in a single call.
	AnalyzeImages(ctx context.Context, req VisionRequest) (*VisionResponse, error)
	// Close releases any resources held by the client
	Close() error
}

// GeminiClient implements Client for Google Gemini
type GeminiClient struct {
	client *genai.Client
	config *Config
}

// NewGeminiClient creates a new Gemini client
func NewGeminiClient(ctx context.Context, config *Config, apiKey string) (*GeminiClient, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("API key is required")
	}
	if config == nil {
		config = DefaultConfig()
	}

	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	return &GeminiClient{
		client: client,
		config: config,
	}, nil
}

func (c *GeminiClient) model(tier ModelTier) (*genai.GenerativeModel, string, error) {
	name := c.config.GetModel(tier)
	if name == "" {
		return nil, "", fmt.Errorf("no model configured for tier %s", tier)
	}
	model := c.client.GenerativeModel(name)
	model.SetTemperature(c.config.Temperature)
	if c.config.MaxOutputTokens > 0 {
		model.SetMaxOutputTokens(c.config.MaxOutputTokens)
	}
	return model, name, nil
}

// GenerateContent generates text content using the specified model tier
func (c *GeminiClient) GenerateContent(ctx context.Context, prompt string, tier ModelTier) (string, error) {
	model, _, err := c.model(tier)
	if err != nil {
		return "", err
	}

	resp, err := model.GenerateContent(ctx, genai.Text(prompt))
	if err != nil {
		return "", fmt.Errorf("failed to generate content: %w", err)
	}
	return extractTextFromResponse(resp)
}

// AnalyzeImages interleaves each image's label and bytes after the instructions.
func (c *GeminiClient) AnalyzeImages(ctx context.Context, req VisionRequest) (*VisionResponse, error) {
	model, name, err := c.model(req.Tier)
	if err != nil {
		return nil, err
	}
	if req.JSON {
		model.ResponseMIMEType = "application/json"
	}

	parts := make([]genai.Part, 0, 1+2*len(req.Images))
	parts = append(parts, genai.Text(req.Instructions))
	for _, img := range req.Images {
		if img.Label != "" {
			parts = append(parts, genai.Text(img.Label))
		}
		format := img.Format
		if format == "" {
			format = "jpeg"
		}
		parts = append(parts, genai.ImageData(format, img.Data))
	}

	resp, err := model.GenerateContent(ctx, parts...)
	if err != nil {
		return nil, fmt.Errorf("failed to generate content: %w", err)
	}

	text, err := extractTextFromResponse(resp)
	if err != nil {
		return nil, err
	}
	if req.JSON {
		text = CleanJSONBlock(text)
	}

	out := &VisionResponse{Text: text, Model: name}
	if u := resp.UsageMetadata; u != nil {
		out.Usage = Usage{
			PromptTokens:   u.PromptTokenCount,
			ResponseTokens: u.CandidatesTokenCount,
			TotalTokens:    u.TotalTokenCount,
		}
	}
	return out, nil
}

// Close releases resources held by the client
func (c *GeminiClient) Close() error {
	if c.client != nil {
		return c.client.Close()
	}
	return nil
}

// extractTextFromResponse joins the text parts of the first candidate.
func extractTextFromResponse(resp *genai.GenerateContentResponse) (string, error) {
	if resp == nil || len(resp.Candidates) == 0 {
		return "", fmt.Errorf("no candidates in response: %w", ErrEmptyResponse)
	}

	candidate := resp.Candidates[0]
	if candidate.Content == nil || len(candidate.Content.Parts) == 0 {
		return "", fmt.Errorf("no content in response: %w", ErrEmptyResponse)
	}

	var parts []string
	for _, part := range candidate.Content.Parts {
		if text, ok := part.(genai.Text); ok {
			parts = append(parts, string(text))
		}
	}

	joined := strings.TrimSpace(strings.Join(parts, ""))
	if joined == "" {
		return "", fmt.Errorf("no text parts in response: %w", ErrEmptyResponse)
	}
	return joined, nil
}

// CleanJSONBlock strips a markdown code fence, with or without a language tag.
func CleanJSONBlock(text string) string {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "```") {
		return text
	}
	text = strings.TrimPrefix(text, "```")
	if nl := strings.IndexByte(text, '\n'); nl >= 0 {
		if tag := text[:nl]; !strings.ContainsAny(tag, " {[") {
			text = text[nl+1:]
		}
	}
	if end := strings.LastIndex(text, "```"); end >= 0 {
		text = text[:end]
	}
	return strings.TrimSpace(text)
}
