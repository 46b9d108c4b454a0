package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// AppriseChannel sends notifications through an Apprise API server
type AppriseChannel struct {
	name   string
	apiURL string
	target string
	tag    string
	logger zerolog.Logger
	client *http.Client
}

// NewAppriseChannel creates a channel posting to apiURL. target is an Apprise
// service URL (e.g. slack://...) or a config key; tag optionally narrows the
// recipients of a stateful configuration.
func NewAppriseChannel(name, apiURL, target, tag string, logger zerolog.Logger) *AppriseChannel {
	return &AppriseChannel{
		name:   name,
		apiURL: strings.TrimRight(apiURL, "/"),
		target: target,
		tag:    tag,
		logger: logger.With().Str("channel", name).Logger(),
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// Name returns the channel name
func (c *AppriseChannel) Name() string {
	return c.name
}

// Send posts the formatted notification
func (c *AppriseChannel) Send(ctx context.Context, n Notification) error {
	if c.apiURL == "" {
		title, _ := FormatMessage(n)
		c.logger.Info().
			Str("target", c.target).
			Str("title", title).
			Msg("Would send notification (Apprise not configured)")
		return nil
	}

	title, body := FormatMessage(n)
	payload := map[string]string{
		"title":  title,
		"body":   body,
		"type":   "warning",
		"format": "text",
	}
	if c.tag != "" {
		payload["tag"] = c.tag
	}

	endpoint := c.apiURL + "/notify"
	if c.target != "" {
		if strings.Contains(c.target, "://") {
			payload["urls"] = c.target
		} else {
			endpoint = fmt.Sprintf("%s/notify/%s", c.apiURL, c.target)
		}
	}

	jsonData, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewBuffer(jsonData))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("apprise API error: %d - %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return nil
}
