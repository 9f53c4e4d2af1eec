// Package model implements the generative-model backend for the relay.
package model

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"github.com/ashureev/backchannel/internal/domain"
)

// primingAck is the canned model turn that anchors the priming exchange.
// The system prompt goes out as a user turn followed by this acknowledgment,
// so the rest of the history reads as an in-character conversation.
const primingAck = `{"response": "Understood. I am in character and will answer every turn with a single JSON object containing \"response\" and \"score_change\".", "score_change": 0}`

// Gemini generates structured replies via the Gemini API.
type Gemini struct {
	client    *genai.Client
	modelName string
}

// NewGemini creates a Gemini-backed generator.
func NewGemini(ctx context.Context, apiKey, modelName string) (*Gemini, error) {
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}
	return &Gemini{client: client, modelName: modelName}, nil
}

// Generate runs one turn: priming exchange + history + userMessage, with
// the model constrained to the structured JSON reply shape.
func (g *Gemini) Generate(ctx context.Context, systemPrompt string, history []domain.ChatTurn, userMessage string) (*domain.ModelReply, error) {
	m := g.client.GenerativeModel(g.modelName)
	m.GenerationConfig.ResponseMIMEType = "application/json"
	m.GenerationConfig.ResponseSchema = &genai.Schema{
		Type: genai.TypeObject,
		Properties: map[string]*genai.Schema{
			"response":     {Type: genai.TypeString},
			"score_change": {Type: genai.TypeInteger},
		},
		Required: []string{"response", "score_change"},
	}

	contents := make([]*genai.Content, 0, len(history)+2)
	contents = append(contents,
		&genai.Content{Role: domain.RoleUser, Parts: []genai.Part{genai.Text(systemPrompt)}},
		&genai.Content{Role: domain.RoleModel, Parts: []genai.Part{genai.Text(primingAck)}},
	)
	for _, turn := range history {
		contents = append(contents, &genai.Content{
			Role:  turn.Role,
			Parts: []genai.Part{genai.Text(turn.Content)},
		})
	}

	chat := m.StartChat()
	chat.History = contents

	resp, err := chat.SendMessage(ctx, genai.Text(userMessage))
	if err != nil {
		return nil, fmt.Errorf("generate content: %w", err)
	}

	text := responseText(resp)
	if text == "" {
		return nil, fmt.Errorf("model returned no text candidates")
	}

	var reply domain.ModelReply
	if err := json.Unmarshal([]byte(text), &reply); err != nil {
		return nil, fmt.Errorf("parse model reply %q: %w", truncate(text, 120), err)
	}
	return &reply, nil
}

// Close releases the underlying API client.
func (g *Gemini) Close() error {
	return g.client.Close()
}

func responseText(resp *genai.GenerateContentResponse) string {
	var text string
	if resp != nil && len(resp.Candidates) > 0 && resp.Candidates[0].Content != nil {
		for _, part := range resp.Candidates[0].Content.Parts {
			if txt, ok := part.(genai.Text); ok {
				text += string(txt)
			}
		}
	}
	return strings.TrimSpace(text)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
