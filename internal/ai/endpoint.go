package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/stratochat/stratochat/internal/models"
)

// EndpointProvider talks to a user-configured chat-completions endpoint
// described by a stored Model record: URL, API key and custom headers
// come from the record, not from process config.
type EndpointProvider struct {
	EndpointURL string
	APIKey      string
	ModelName   string
	Headers     []models.CustomHeader
	Client      *http.Client
}

func NewEndpointProvider(m *models.Model) *EndpointProvider {
	return &EndpointProvider{
		EndpointURL: m.EndpointURL,
		APIKey:      m.APIKey,
		ModelName:   m.Name,
		Headers:     m.CustomHeaders,
		Client:      &http.Client{Timeout: 90 * time.Second},
	}
}

type endpointChatReq struct {
	Model    string    `json:"model"`
	Messages []Message `json:"messages"`
	Stream   bool      `json:"stream"`
}

type endpointChatResp struct {
	Choices []struct {
		Message Message `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

func (p *EndpointProvider) Chat(ctx context.Context, messages []Message) (string, error) {
	if p.Client == nil {
		return "", errors.New("endpoint: http client is nil")
	}
	url := strings.TrimSpace(p.EndpointURL)
	if url == "" {
		return "", errors.New("endpoint: url is required")
	}

	b, err := json.Marshal(endpointChatReq{
		Model:    p.ModelName,
		Messages: messages,
		Stream:   false,
	})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(b))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	if p.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.APIKey)
	}
	for _, h := range p.Headers {
		if h.Key != "" {
			req.Header.Set(h.Key, h.Value)
		}
	}

	resp, err := p.Client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4*1024))
		return "", fmt.Errorf("endpoint: http %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var out endpointChatResp
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", err
	}
	if out.Error != nil {
		return "", fmt.Errorf("endpoint: %s", out.Error.Message)
	}
	if len(out.Choices) == 0 {
		return "", errors.New("endpoint: empty choices in response")
	}
	return out.Choices[0].Message.Content, nil
}
