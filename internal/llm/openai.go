// Package llm provides the OpenAI-backed completion driver used for
// chat responses, vision analysis and guardrail classification.
package llm

import (
	"context"
	"encoding/base64"
	"fmt"
	"math"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/kbchat/kbchat/pkg/contracts"
	"github.com/kbchat/kbchat/pkg/models"
)

const (
	completionTimeout = 30 * time.Second
	visionTimeout     = 30 * time.Second

	defaultMaxTokens = 1024

	// classifierTemperature pins classification at temperature zero. A
	// literal 0 is dropped from the request by omitempty, so the
	// smallest representable value stands in for it.
	classifierTemperature = math.SmallestNonzeroFloat32
)

// OpenAIDriver implements contracts.CompletionDriver and
// contracts.TextClassifier against the OpenAI chat API.
type OpenAIDriver struct {
	client      *openai.Client
	chatModel   string
	visionModel string
}

func NewOpenAIDriver(apiKey, chatModel, visionModel string) *OpenAIDriver {
	if chatModel == "" {
		chatModel = openai.GPT4oMini
	}
	if visionModel == "" {
		visionModel = chatModel
	}
	return &OpenAIDriver{
		client:      openai.NewClient(apiKey),
		chatModel:   chatModel,
		visionModel: visionModel,
	}
}

func (d *OpenAIDriver) Kind() string { return "openai" }

// Complete sends the composed prompt and returns the model's reply.
func (d *OpenAIDriver) Complete(ctx context.Context, req contracts.CompletionRequest) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, completionTimeout)
	defer cancel()

	messages := make([]openai.ChatCompletionMessage, 0, len(req.Messages)+1)
	if req.System != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: req.System,
		})
	}
	for _, m := range req.Messages {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    apiRole(m.Role),
			Content: m.Content,
		})
	}

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}

	resp, err := d.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       d.chatModel,
		Messages:    messages,
		MaxTokens:   maxTokens,
		Temperature: req.Temperature,
	})
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("chat completion: empty response from %s", d.chatModel)
	}
	return resp.Choices[0].Message.Content, nil
}

// CompleteVision analyzes an image with the given instruction. The image
// is inlined as a base64 data URL.
func (d *OpenAIDriver) CompleteVision(ctx context.Context, instruction string, image []byte, mimeType string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, visionTimeout)
	defer cancel()

	if mimeType == "" {
		mimeType = "image/jpeg"
	}
	dataURL := fmt.Sprintf("data:%s;base64,%s", mimeType, base64.StdEncoding.EncodeToString(image))

	resp, err := d.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: d.visionModel,
		Messages: []openai.ChatCompletionMessage{
			{
				Role: openai.ChatMessageRoleUser,
				MultiContent: []openai.ChatMessagePart{
					{Type: openai.ChatMessagePartTypeText, Text: instruction},
					{
						Type:     openai.ChatMessagePartTypeImageURL,
						ImageURL: &openai.ChatMessageImageURL{URL: dataURL},
					},
				},
			},
		},
		MaxTokens: defaultMaxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("vision completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("vision completion: empty response from %s", d.visionModel)
	}
	return resp.Choices[0].Message.Content, nil
}

// Classify runs a structured classification instruction over the text.
// The raw output is returned unparsed; callers extract the JSON.
func (d *OpenAIDriver) Classify(ctx context.Context, instruction, text string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, completionTimeout)
	defer cancel()

	resp, err := d.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: d.chatModel,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: instruction},
			{Role: openai.ChatMessageRoleUser, Content: text},
		},
		MaxTokens:   256,
		Temperature: classifierTemperature,
	})
	if err != nil {
		return "", fmt.Errorf("classification: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("classification: empty response from %s", d.chatModel)
	}
	return resp.Choices[0].Message.Content, nil
}

func apiRole(r models.Role) string {
	switch r {
	case models.RoleAssistant:
		return openai.ChatMessageRoleAssistant
	case models.RoleSystem:
		return openai.ChatMessageRoleSystem
	default:
		return openai.ChatMessageRoleUser
	}
}
