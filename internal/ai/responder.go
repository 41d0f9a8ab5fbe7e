// Package ai defines the response-generation collaborator consumed by
// the message router. Generation failures never propagate: callers
// degrade to Fallback instead.
package ai

import (
	"context"
	"fmt"
	"strings"
)

// Fallback is the user-visible reply when generation fails.
const Fallback = "Sorry, I can't come up with a reply right now."

// Responder produces a reply for a prompt given recent room context.
type Responder interface {
	Generate(ctx context.Context, prompt string, recent []string) (string, error)
}

// Canned is a deterministic responder used when no real backend is
// configured.
type Canned struct{}

// Generate echoes a short acknowledgment of the prompt.
func (Canned) Generate(_ context.Context, prompt string, _ []string) (string, error) {
	trimmed := strings.TrimSpace(prompt)
	if trimmed == "" {
		return Fallback, nil
	}
	return fmt.Sprintf("You said: %q. I'm a placeholder responder.", trimmed), nil
}

// GenerateOrFallback wraps a responder call so a failure or nil
// responder yields the fallback text.
func GenerateOrFallback(ctx context.Context, responder Responder, prompt string, recent []string) string {
	if responder == nil {
		return Fallback
	}
	reply, err := responder.Generate(ctx, prompt, recent)
	if err != nil || strings.TrimSpace(reply) == "" {
		return Fallback
	}
	return reply
}
