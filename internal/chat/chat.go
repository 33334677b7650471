package chat

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const defaultEndpoint = "https://api.openai.com/v1/chatkit/sessions"

// Session is the short-lived credential the chat widget uses.
type Session struct {
	ClientSecret string `json:"client_secret"`
	ExpiresAt    int64  `json:"expires_at"`
}

// Broker mints chat widget sessions against the OpenAI ChatKit API on
// behalf of an authenticated user.
type Broker struct {
	APIKey     string
	WorkflowID string
	Endpoint   string
	HTTPClient *http.Client
}

// Enabled reports whether chat is configured at all.
func (b *Broker) Enabled() bool {
	return b != nil && b.APIKey != "" && b.WorkflowID != ""
}

// CreateSession mints a session scoped to the given user.
func (b *Broker) CreateSession(ctx context.Context, userID string) (Session, error) {
	if !b.Enabled() {
		return Session{}, fmt.Errorf("chat is not configured")
	}
	endpoint := b.Endpoint
	if endpoint == "" {
		endpoint = defaultEndpoint
	}
	client := b.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	body := map[string]any{
		"workflow": map[string]any{"id": b.WorkflowID},
		"user":     userID,
	}
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(body); err != nil {
		return Session{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, &buf)
	if err != nil {
		return Session{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+b.APIKey)
	req.Header.Set("OpenAI-Beta", "chatkit_beta=v1")
	resp, err := client.Do(req)
	if err != nil {
		return Session{}, fmt.Errorf("create chat session: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return Session{}, fmt.Errorf("create chat session: status=%d body=%s", resp.StatusCode, string(b))
	}
	var out struct {
		ClientSecret string `json:"client_secret"`
		ExpiresAt    int64  `json:"expires_at"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return Session{}, err
	}
	return Session{ClientSecret: out.ClientSecret, ExpiresAt: out.ExpiresAt}, nil
}
