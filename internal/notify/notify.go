// Package notify delivers short text messages (one-time codes) to actors.
// The engine treats delivery as fire-and-continue: a failed send never rolls
// back code issuance, it only surfaces as a degraded outcome.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"narcomap.org/internal/config"
	"narcomap.org/internal/obs"
)

// ErrSendFailed indicates the provider rejected or failed the delivery.
var ErrSendFailed = errors.New("notify: send failed")

// Sender delivers a message to the actor identified by key.
type Sender interface {
	Send(ctx context.Context, key, message string) error
}

// New selects a sender implementation from configuration.
func New(cfg config.NotifyConfig) (Sender, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Provider)) {
	case "", "log":
		return LogSender{}, nil
	case "http":
		if strings.TrimSpace(cfg.APIURL) == "" {
			return nil, errors.New("notify: http provider requires an api_url")
		}
		return &HTTPSender{
			url:    cfg.APIURL,
			apiKey: cfg.APIKey,
			client: &http.Client{Timeout: 10 * time.Second},
		}, nil
	default:
		return nil, fmt.Errorf("notify: unknown provider %q", cfg.Provider)
	}
}

// LogSender writes the message to the structured log instead of sending it.
// Development only: the log line contains the literal code.
type LogSender struct{}

func (LogSender) Send(_ context.Context, key, message string) error {
	obs.LogEvent("notify.log_send", map[string]any{
		"key":     key,
		"message": message,
	})
	return nil
}

// HTTPSender posts the message to a generic SMS gateway.
type HTTPSender struct {
	url    string
	apiKey string
	client *http.Client
}

func (s *HTTPSender) Send(ctx context.Context, key, message string) error {
	payload, err := json.Marshal(map[string]string{
		"to":      key,
		"message": message,
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSendFailed, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSendFailed, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if s.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.apiKey)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSendFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("%w: provider returned %d", ErrSendFailed, resp.StatusCode)
	}
	return nil
}

// FuncSender adapts a function to the Sender interface. Used by tests.
type FuncSender func(ctx context.Context, key, message string) error

func (f FuncSender) Send(ctx context.Context, key, message string) error {
	return f(ctx, key, message)
}
