// Package intent turns free text into a validated Command via one bounded
// call to a text-generation service. Model output is untrusted input: it is
// brace-matched, decoded, and checked against the schema before anything
// downstream sees it.
package intent

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"workdesk/internal/domain"
	"workdesk/internal/locale"
	"workdesk/internal/schema"
)

const defaultTimeout = 30 * time.Second

// GenerationError means the external service failed or timed out. The
// parser never retries; resubmitting is the caller's decision.
type GenerationError struct {
	Err error
}

func (e GenerationError) Error() string { return fmt.Sprintf("text generation: %v", e.Err) }
func (e GenerationError) Unwrap() error { return e.Err }

// ParseError means the service answered but no usable command came back.
type ParseError struct {
	Reason string
}

func (e ParseError) Error() string { return "parse model output: " + e.Reason }

// Generator is the single outbound call the parser makes.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// AnthropicGenerator calls the Anthropic Messages API with bounded output
// and deterministic-leaning sampling.
type AnthropicGenerator struct {
	client      anthropic.Client
	model       anthropic.Model
	maxTokens   int64
	temperature float64
}

func NewAnthropicGenerator(apiKey, model string, maxTokens int, temperature float64) (*AnthropicGenerator, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("api key required: set ANTHROPIC_API_KEY")
	}
	if maxTokens <= 0 {
		maxTokens = 1024
	}
	return &AnthropicGenerator{
		client:      anthropic.NewClient(option.WithAPIKey(apiKey)),
		model:       anthropic.Model(model),
		maxTokens:   int64(maxTokens),
		temperature: temperature,
	}, nil
}

func (g *AnthropicGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	message, err := g.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:       g.model,
		MaxTokens:   g.maxTokens,
		Temperature: anthropic.Float(g.temperature),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	})
	if err != nil {
		return "", err
	}
	if len(message.Content) == 0 {
		return "", fmt.Errorf("no content blocks in response")
	}
	content := message.Content[0]
	if content.Type != "text" {
		return "", fmt.Errorf("unexpected response format: not a text block (type=%s)", content.Type)
	}
	return content.Text, nil
}

// Parser builds the prompt, makes exactly one generation call, and
// validates the extracted object against the command schema.
type Parser struct {
	Gen     Generator
	Timeout time.Duration
}

func (p Parser) timeout() time.Duration {
	if p.Timeout > 0 {
		return p.Timeout
	}
	return defaultTimeout
}

// Parse converts (rawText, locale) into a Command or fails with
// GenerationError, ParseError, or a schema validation error.
func (p Parser) Parse(ctx context.Context, rawText, loc string) (domain.Command, error) {
	loc = locale.Normalize(loc)
	prompt := buildPrompt(loc, rawText)

	ctx, cancel := context.WithTimeout(ctx, p.timeout())
	defer cancel()

	out, err := p.Gen.Generate(ctx, prompt)
	if err != nil {
		return domain.Command{}, GenerationError{Err: err}
	}

	objText, ok := extractObject(out)
	if !ok {
		return domain.Command{}, ParseError{Reason: "no JSON object in model output"}
	}
	var raw map[string]any
	if err := json.Unmarshal([]byte(objText), &raw); err != nil {
		return domain.Command{}, ParseError{Reason: err.Error()}
	}
	return schema.Validate(raw, loc, rawText)
}

// extractObject returns the first balanced top-level JSON object in s.
// Braces inside string literals do not count.
func extractObject(s string) (string, bool) {
	depth := 0
	start := -1
	inString := false
	escaped := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			if depth == 0 {
				start = i
			}
			depth++
		case '}':
			if depth > 0 {
				depth--
				if depth == 0 {
					return s[start : i+1], true
				}
			}
		}
	}
	return "", false
}
