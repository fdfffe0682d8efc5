// Package anyllm provides a universal completion streamer backed by
// github.com/mozilla-ai/any-llm-go, a unified multi-provider interface that
// supports OpenAI, Anthropic, Gemini, Ollama, DeepSeek, Mistral, Groq, and
// more.
//
// Usage:
//
//	s, err := anyllm.New("gemini", "gemini-2.5-flash", anyllmlib.WithAPIKey("..."))
package anyllm

import (
	"context"
	"fmt"
	"strings"

	anyllmlib "github.com/mozilla-ai/any-llm-go"
	"github.com/mozilla-ai/any-llm-go/providers/anthropic"
	"github.com/mozilla-ai/any-llm-go/providers/deepseek"
	"github.com/mozilla-ai/any-llm-go/providers/gemini"
	"github.com/mozilla-ai/any-llm-go/providers/groq"
	"github.com/mozilla-ai/any-llm-go/providers/mistral"
	"github.com/mozilla-ai/any-llm-go/providers/ollama"
	anyllmoai "github.com/mozilla-ai/any-llm-go/providers/openai"

	"github.com/aurahq/aura/pkg/completion"
)

// Compile-time interface check.
var _ completion.Streamer = (*Streamer)(nil)

// Streamer implements completion.Streamer by wrapping any-llm-go.
type Streamer struct {
	backend anyllmlib.Provider
	model   string
}

// New creates a Streamer backed by the given provider name.
//
// providerName is one of: "openai", "anthropic", "gemini", "ollama",
// "deepseek", "mistral", "groq". model is the specific model to use (e.g.
// "gemini-2.5-flash", "claude-3-5-sonnet-latest").
//
// opts are any-llm-go configuration options. If no API key option is
// provided, the provider falls back to the relevant environment variable
// (OPENAI_API_KEY, GEMINI_API_KEY, …).
func New(providerName, model string, opts ...anyllmlib.Option) (*Streamer, error) {
	if providerName == "" {
		return nil, fmt.Errorf("anyllm: providerName must not be empty")
	}
	if model == "" {
		return nil, fmt.Errorf("anyllm: model must not be empty")
	}

	backend, err := createBackend(providerName, opts...)
	if err != nil {
		return nil, fmt.Errorf("anyllm: create %q backend: %w", providerName, err)
	}
	return &Streamer{backend: backend, model: model}, nil
}

// createBackend creates the underlying any-llm-go provider.
func createBackend(providerName string, opts ...anyllmlib.Option) (anyllmlib.Provider, error) {
	switch strings.ToLower(providerName) {
	case "openai":
		return anyllmoai.New(opts...)
	case "anthropic":
		return anthropic.New(opts...)
	case "gemini":
		return gemini.New(opts...)
	case "ollama":
		return ollama.New(opts...)
	case "deepseek":
		return deepseek.New(opts...)
	case "mistral":
		return mistral.New(opts...)
	case "groq":
		return groq.New(opts...)
	default:
		return nil, fmt.Errorf("unsupported provider %q; supported: openai, anthropic, gemini, ollama, deepseek, mistral, groq", providerName)
	}
}

// StreamChat implements [completion.Streamer].
func (s *Streamer) StreamChat(ctx context.Context, req completion.Request) (<-chan completion.Fragment, error) {
	params := s.buildParams(req)

	backendChunks, backendErrs := s.backend.CompletionStream(ctx, params)

	ch := make(chan completion.Fragment, 32)
	go func() {
		defer close(ch)

		for chunk := range backendChunks {
			if len(chunk.Choices) == 0 {
				continue
			}
			text := chunk.Choices[0].Delta.Content
			if text == "" {
				continue
			}
			select {
			case ch <- completion.Fragment{Text: text}:
			case <-ctx.Done():
				return
			}
		}

		// Backend errors surface only after the chunk channel is drained.
		if err := <-backendErrs; err != nil {
			select {
			case ch <- completion.Fragment{Err: fmt.Errorf("anyllm: stream: %w", err)}:
			case <-ctx.Done():
			}
		}
	}()

	return ch, nil
}

// buildParams converts a completion.Request into any-llm-go params.
func (s *Streamer) buildParams(req completion.Request) anyllmlib.CompletionParams {
	var messages []anyllmlib.Message

	if req.SystemInstruction != "" {
		messages = append(messages, anyllmlib.Message{Role: "system", Content: req.SystemInstruction})
	}
	for _, turn := range req.History {
		messages = append(messages, anyllmlib.Message{Role: string(turn.Role), Content: turn.Text})
	}
	messages = append(messages, anyllmlib.Message{Role: "user", Content: req.UserText})

	params := anyllmlib.CompletionParams{
		Model:    s.model,
		Messages: messages,
	}
	if req.Temperature != 0 {
		t := req.Temperature
		params.Temperature = &t
	}
	if req.MaxTokens > 0 {
		mt := req.MaxTokens
		params.MaxTokens = &mt
	}
	return params
}
