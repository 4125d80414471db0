package services

import (
	"context"
	"fmt"
	"strings"

	"cloud.google.com/go/vertexai/genai"
	"github.com/codehorse/codehorse/pkg/config"
	"google.golang.org/api/option"
)

// GeminiChatModel implements ChatModel using a Gemini model on Vertex AI
type GeminiChatModel struct {
	client *genai.Client
	model  *genai.GenerativeModel
}

// NewGeminiChatModel creates a new Gemini client for the configured project
func NewGeminiChatModel(ctx context.Context, cfg config.GoogleConfig) (*GeminiChatModel, error) {
	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}

	client, err := genai.NewClient(ctx, cfg.ProjectID, cfg.Location, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create Vertex AI client: %w", err)
	}

	model := client.GenerativeModel(cfg.ChatModel)
	model.SetTemperature(0.7)
	model.SetTopP(0.8)
	model.SetTopK(40)

	return &GeminiChatModel{
		client: client,
		model:  model,
	}, nil
}

// Generate generates a response for the prompt
func (g *GeminiChatModel) Generate(ctx context.Context, prompt string) (string, error) {
	resp, err := g.model.GenerateContent(ctx, genai.Text(prompt))
	if err != nil {
		return "", fmt.Errorf("failed to generate response: %w", err)
	}

	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", fmt.Errorf("no response generated")
	}

	var sb strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if text, ok := part.(genai.Text); ok {
			sb.WriteString(string(text))
		}
	}

	if sb.Len() == 0 {
		return "", fmt.Errorf("unexpected response type")
	}
	return sb.String(), nil
}

// Close closes the Vertex AI client
func (g *GeminiChatModel) Close() error {
	return g.client.Close()
}
