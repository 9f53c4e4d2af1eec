// Package relay forwards one chat turn to the generative model and returns
// the structured reply. It contains both halves of the wire: the HTTP
// handler the browser posts to, and the client the session controller uses.
package relay

import (
	"context"
	"fmt"

	"github.com/ashureev/backchannel/internal/domain"
)

// Request is the relay wire format. All three fields are required.
type Request struct {
	SystemPrompt string            `json:"systemPrompt"`
	History      []domain.ChatTurn `json:"history"`
	UserMessage  string            `json:"userMessage"`
}

// Generator produces a structured model reply for one turn. Implemented by
// model.Gemini; tests substitute fakes.
type Generator interface {
	Generate(ctx context.Context, systemPrompt string, history []domain.ChatTurn, userMessage string) (*domain.ModelReply, error)
}

// Caller is what the session controller talks to. One round trip per turn;
// no streaming, no retries, no timeout handling at this layer.
type Caller interface {
	Send(ctx context.Context, systemPrompt string, history []domain.ChatTurn, userMessage string) (*domain.ModelReply, error)
}

// RelayError reports a failed relay call. The session controller surfaces
// it as a system transcript entry and keeps the session interactive.
type RelayError struct {
	Message string
}

func (e *RelayError) Error() string {
	return fmt.Sprintf("relay: %s", e.Message)
}

// Direct binds a Generator as a Caller without going through HTTP. Used
// when the controller and the model client live in the same process.
type Direct struct {
	Generator Generator
}

// Send invokes the generator, wrapping any failure as a RelayError.
func (d Direct) Send(ctx context.Context, systemPrompt string, history []domain.ChatTurn, userMessage string) (*domain.ModelReply, error) {
	if d.Generator == nil {
		return nil, &RelayError{Message: "model is not configured"}
	}
	reply, err := d.Generator.Generate(ctx, systemPrompt, history, userMessage)
	if err != nil {
		return nil, &RelayError{Message: err.Error()}
	}
	return reply, nil
}
