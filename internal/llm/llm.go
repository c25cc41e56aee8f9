package llm

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"strings"

	"github.com/pablosanz/examgen/internal/exam"

	openai "github.com/sashabaranov/go-openai"
)

// Client wraps an OpenAI-compatible API client used as the exam generation
// provider.
type Client struct {
	api   *openai.Client
	model string
}

// New creates a new generation provider client.
func New(baseURL, apiKey, modelName string) *Client {
	config := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		config.BaseURL = baseURL
	}
	return &Client{
		api:   openai.NewClientWithConfig(config),
		model: modelName,
	}
}

// Ping verifies the API endpoint is reachable and the key is accepted.
func (c *Client) Ping(ctx context.Context) error {
	if _, err := c.api.ListModels(ctx); err != nil {
		return fmt.Errorf("LLM endpoint check: %w", err)
	}
	return nil
}

// GenerateExam asks the provider for an exam constrained to JSON output.
// Exactly one of images or text carries the study material: images in
// direct-image mode, extracted text in OCR mode. The raw completion text
// is returned for the caller to parse and validate.
func (c *Client) GenerateExam(ctx context.Context, instruction string, images []exam.Material, text string) (string, error) {
	messages := []openai.ChatCompletionMessage{
		{Role: openai.ChatMessageRoleSystem, Content: buildSystemPrompt()},
	}

	if len(images) > 0 {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:         openai.ChatMessageRoleUser,
			MultiContent: buildImageParts(instruction, images),
		})
	} else {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleUser,
			Content: buildTextPrompt(instruction, text),
		})
	}

	resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:    c.model,
		Messages: messages,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
		Temperature: 0.3,
	})
	if err != nil {
		return "", fmt.Errorf("LLM API call: %w", err)
	}

	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("LLM returned no choices")
	}

	raw := resp.Choices[0].Message.Content
	slog.Debug("LLM response", "raw", raw)
	return raw, nil
}

func buildSystemPrompt() string {
	var sb strings.Builder
	sb.WriteString("You are an exam generator. You create multiple-choice exams from study material supplied by the user.\n\n")
	sb.WriteString("INSTRUCTIONS:\n")
	sb.WriteString("- Base every question strictly on the supplied material.\n")
	sb.WriteString("- Each question has exactly four options keyed a, b, c, d.\n")
	sb.WriteString("- Exactly one option is correct; name its key in correctOption.\n")
	sb.WriteString("- Number questions with sequential integer ids starting at 1.\n")
	sb.WriteString("- Write questions and options in the same language as the material.\n")
	sb.WriteString("\nRespond ONLY with a JSON object of this exact shape:\n")
	sb.WriteString(`{"questions": [{"id": 1, "text": "<question>", "options": {"a": "<text>", "b": "<text>", "c": "<text>", "d": "<text>"}, "correctOption": "a"}]}`)
	sb.WriteString("\n")
	return sb.String()
}

func buildTextPrompt(instruction, text string) string {
	var sb strings.Builder
	sb.WriteString(instruction)
	sb.WriteString("\n\nSTUDY MATERIAL:\n")
	sb.WriteString(text)
	return sb.String()
}

func buildImageParts(instruction string, images []exam.Material) []openai.ChatMessagePart {
	parts := []openai.ChatMessagePart{
		{Type: openai.ChatMessagePartTypeText, Text: instruction},
	}
	for _, img := range images {
		parts = append(parts, openai.ChatMessagePart{
			Type: openai.ChatMessagePartTypeImageURL,
			ImageURL: &openai.ChatMessageImageURL{
				URL: dataURL(img),
			},
		})
	}
	return parts
}

func dataURL(img exam.Material) string {
	mediaType := img.MediaType
	if mediaType == "" {
		mediaType = "application/octet-stream"
	}
	return fmt.Sprintf("data:%s;base64,%s", mediaType, base64.StdEncoding.EncodeToString(img.Data))
}
