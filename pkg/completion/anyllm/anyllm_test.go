package anyllm

import (
	"testing"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/aurahq/aura/pkg/completion"
)

func TestNew_EmptyProviderName(t *testing.T) {
	_, err := New("", "gpt-4o-mini")
	if err == nil {
		t.Fatal("expected error for empty providerName")
	}
}

func TestNew_EmptyModel(t *testing.T) {
	_, err := New("openai", "")
	if err == nil {
		t.Fatal("expected error for empty model")
	}
}

func TestNew_UnsupportedProvider(t *testing.T) {
	_, err := New("fakecloud", "some-model", anyllmlib.WithAPIKey("dummy"))
	if err == nil {
		t.Fatal("expected error for unsupported provider")
	}
}

func TestNew_SupportedProviders(t *testing.T) {
	for _, name := range []string{"openai", "anthropic", "gemini", "deepseek", "mistral", "groq"} {
		t.Run(name, func(t *testing.T) {
			s, err := New(name, "some-model", anyllmlib.WithAPIKey("sk-test"))
			if err != nil {
				t.Fatalf("New(%q): %v", name, err)
			}
			if s.model != "some-model" {
				t.Errorf("model = %q, want some-model", s.model)
			}
		})
	}
}

func TestNew_OllamaWithoutAPIKey(t *testing.T) {
	s, err := New("ollama", "llama3.1")
	if err != nil {
		t.Fatalf("New(ollama): %v", err)
	}
	if s == nil {
		t.Fatal("expected non-nil streamer")
	}
}

func TestBuildParams_OrdersMessages(t *testing.T) {
	s := &Streamer{model: "some-model"}

	params := s.buildParams(completion.Request{
		SystemInstruction: "be kind",
		History: []completion.Turn{
			{Role: completion.RoleAssistant, Text: "hello"},
			{Role: completion.RoleUser, Text: "hi"},
		},
		UserText: "how are you?",
	})

	if params.Model != "some-model" {
		t.Errorf("model = %q", params.Model)
	}
	// system + 2 history turns + current user text
	if len(params.Messages) != 4 {
		t.Fatalf("message count = %d, want 4", len(params.Messages))
	}
	if params.Messages[0].Role != "system" {
		t.Errorf("first message role = %q, want system", params.Messages[0].Role)
	}
	last := params.Messages[len(params.Messages)-1]
	if last.Role != "user" || last.Content != "how are you?" {
		t.Errorf("last message = %+v, want the pending user text", last)
	}
}
