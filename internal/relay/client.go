package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/ashureev/backchannel/internal/domain"
)

// Client calls a relay endpoint over HTTP. It is the out-of-process
// counterpart of Direct, for frontends that run the game loop against a
// remote relay.
type Client struct {
	url        string
	httpClient *http.Client
}

// NewClient creates a relay client for the given endpoint URL. A nil
// httpClient falls back to http.DefaultClient.
func NewClient(url string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{url: url, httpClient: httpClient}
}

// Send performs the single round trip for one turn.
func (c *Client) Send(ctx context.Context, systemPrompt string, history []domain.ChatTurn, userMessage string) (*domain.ModelReply, error) {
	if history == nil {
		history = []domain.ChatTurn{}
	}
	body, err := json.Marshal(Request{
		SystemPrompt: systemPrompt,
		History:      history,
		UserMessage:  userMessage,
	})
	if err != nil {
		return nil, &RelayError{Message: fmt.Sprintf("encode request: %v", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, &RelayError{Message: fmt.Sprintf("build request: %v", err)}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &RelayError{Message: fmt.Sprintf("relay unreachable: %v", err)}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var failure struct {
			Error   string `json:"error"`
			Details string `json:"details"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&failure); err != nil || failure.Error == "" {
			return nil, &RelayError{Message: fmt.Sprintf("relay returned status %d", resp.StatusCode)}
		}
		msg := failure.Error
		if failure.Details != "" {
			msg = fmt.Sprintf("%s: %s", failure.Error, failure.Details)
		}
		return nil, &RelayError{Message: msg}
	}

	var reply domain.ModelReply
	if err := json.NewDecoder(resp.Body).Decode(&reply); err != nil {
		return nil, &RelayError{Message: fmt.Sprintf("decode reply: %v", err)}
	}
	return &reply, nil
}
