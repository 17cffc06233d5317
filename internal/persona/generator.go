package persona

import (
	"context"
	"fmt"
	"strings"
)

// Fallback replies substituted for a failed generation. Any non-empty string
// is a valid reply as far as the game is concerned.
const (
	FallbackError      = "(AI error)"
	FallbackMissingKey = "(AI unavailable: missing API key)"
	FallbackEmpty      = "(no response)"
)

// Generator produces a persona reply for a prompt. Generate never fails:
// timeouts and provider errors are turned into one of the fallback strings.
type Generator interface {
	Generate(ctx context.Context, prompt string) string
}

// GeneratorFunc adapts a function to Generator.
type GeneratorFunc func(ctx context.Context, prompt string) string

// Generate calls f(ctx, prompt).
func (f GeneratorFunc) Generate(ctx context.Context, prompt string) string {
	return f(ctx, prompt)
}

// GenerationError records why a backend call did not produce a reply.
type GenerationError struct {
	Attempt string
	Err     error
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("generation failed (%s): %v", e.Attempt, e.Err)
}

func (e *GenerationError) Unwrap() error {
	return e.Err
}

// Unavailable answers every prompt with FallbackMissingKey. It stands in
// when no provider is configured.
type Unavailable struct{}

// Generate returns FallbackMissingKey.
func (Unavailable) Generate(context.Context, string) string {
	return FallbackMissingKey
}

// BuildPrompt renders the discussion prompt for one persona replying to the human.
func BuildPrompt(name, description string, round int, humanText string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are %s.\n", name)
	if description = strings.TrimSpace(description); description != "" {
		fmt.Fprintf(&b, "Your personality: %s\n", description)
	}
	b.WriteString("\nCurrent game context:\n")
	fmt.Fprintf(&b, "Human said in round %d: %q\n\n", round, humanText)
	b.WriteString("Generate a natural, brief response (1-2 sentences) that sounds human-like and stays in character.")
	return b.String()
}
