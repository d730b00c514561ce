package llm

import (
	"encoding/json"
	"strings"
	"testing"

	openai "github.com/sashabaranov/go-openai"
)

func TestClassifierTemperatureSurvivesEncoding(t *testing.T) {
	body, err := json.Marshal(openai.ChatCompletionRequest{
		Model:       openai.GPT4oMini,
		Temperature: classifierTemperature,
	})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if !strings.Contains(string(body), `"temperature"`) {
		t.Errorf("temperature omitted from request body: %s", body)
	}

	// A literal zero is what omitempty drops; the stand-in must differ.
	zero, err := json.Marshal(openai.ChatCompletionRequest{Model: openai.GPT4oMini})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if strings.Contains(string(zero), `"temperature"`) {
		t.Errorf("zero temperature unexpectedly encoded: %s", zero)
	}
}
