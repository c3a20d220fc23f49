// internal/ocr/client.go
package ocr

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"strings"

	"github.com/sashabaranov/go-openai"
)

const DefaultModel = openai.GPT4o

// Client reads the text of a payment screenshot with a vision model.
type Client struct {
	client *openai.Client
	model  string
}

func NewClient(apiKey string) *Client {
	return NewClientWithConfig(openai.DefaultConfig(apiKey))
}

func NewClientWithConfig(cfg openai.ClientConfig) *Client {
	return &Client{
		client: openai.NewClientWithConfig(cfg),
		model:  DefaultModel,
	}
}

func (c *Client) WithModel(model string) *Client {
	if model != "" {
		c.model = model
	}
	return c
}

func (c *Client) ExtractText(ctx context.Context, image []byte, contentType string) (string, error) {
	if len(image) == 0 {
		return "", fmt.Errorf("image is empty")
	}
	if contentType == "" || !strings.HasPrefix(contentType, "image/") {
		contentType = http.DetectContentType(image)
	}
	dataURL := "data:" + contentType + ";base64," + base64.StdEncoding.EncodeToString(image)

	req := openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{
				Role:    openai.ChatMessageRoleSystem,
				Content: "Ты распознаешь текст на скриншотах банковских переводов. Верни только текст с изображения, без комментариев.",
			},
			{
				Role: openai.ChatMessageRoleUser,
				MultiContent: []openai.ChatMessagePart{
					{
						Type: openai.ChatMessagePartTypeText,
						Text: "Перепиши весь текст с этого скриншота: суммы, статусы, даты и время.",
					},
					{
						Type: openai.ChatMessagePartTypeImageURL,
						ImageURL: &openai.ChatMessageImageURL{
							URL:    dataURL,
							Detail: openai.ImageURLDetailHigh,
						},
					},
				},
			},
		},
		MaxTokens:   1000,
		Temperature: 0,
	}

	resp, err := c.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", fmt.Errorf("vision request failed: %w", err)
	}

	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("no response from vision model")
	}

	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

// Nop returns no text, which sends every screenshot to manual review.
type Nop struct{}

func (Nop) ExtractText(context.Context, []byte, string) (string, error) {
	return "", nil
}
