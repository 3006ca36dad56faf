package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/amishk599/jobalert/internal/model"
)

var _ model.OpsAlerter = (*SlackAlerter)(nil)

// SlackAlerter posts operator alerts to a Slack channel via Incoming Webhooks.
type SlackAlerter struct {
	webhookURL string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewSlackAlerter returns an alerter that posts Block Kit messages to webhookURL.
func NewSlackAlerter(webhookURL string, httpClient *http.Client, logger *slog.Logger) *SlackAlerter {
	return &SlackAlerter{
		webhookURL: webhookURL,
		httpClient: httpClient,
		logger:     logger,
	}
}

// Alert sends one message. A 429 is retried once after Retry-After.
func (s *SlackAlerter) Alert(ctx context.Context, title string, fields ...model.AlertField) error {
	body, err := json.Marshal(buildPayload(title, fields))
	if err != nil {
		return fmt.Errorf("marshal slack payload: %w", err)
	}

	status, retryAfter, err := s.post(ctx, body)
	if err != nil {
		return err
	}
	if status == http.StatusTooManyRequests {
		s.logger.Warn("slack rate limited, retrying", "retry_after", retryAfter)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(retryAfter):
		}
		if status, _, err = s.post(ctx, body); err != nil {
			return fmt.Errorf("retry: %w", err)
		}
	}
	if status != http.StatusOK {
		return fmt.Errorf("slack returned %d", status)
	}
	s.logger.Info("slack alert sent", "title", title)
	return nil
}

func (s *SlackAlerter) post(ctx context.Context, body []byte) (int, time.Duration, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.webhookURL, bytes.NewReader(body))
	if err != nil {
		return 0, 0, fmt.Errorf("building slack request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return 0, 0, fmt.Errorf("post to slack: %w", err)
	}
	defer resp.Body.Close()

	secs, _ := strconv.Atoi(resp.Header.Get("Retry-After"))
	if secs <= 0 {
		secs = 1
	}
	return resp.StatusCode, time.Duration(secs) * time.Second, nil
}

// Block Kit payload types.

type slackPayload struct {
	Text   string       `json:"text"`
	Blocks []slackBlock `json:"blocks"`
}

type slackBlock struct {
	Type   string      `json:"type"`
	Text   *slackText  `json:"text,omitempty"`
	Fields []slackText `json:"fields,omitempty"`
}

type slackText struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

func buildPayload(title string, fields []model.AlertField) slackPayload {
	blocks := []slackBlock{{
		Type: "header",
		Text: &slackText{Type: "plain_text", Text: "⚠️ " + title},
	}}

	// Slack allows at most 10 fields per section.
	for start := 0; start < len(fields); start += 10 {
		end := min(start+10, len(fields))
		section := slackBlock{Type: "section"}
		for _, f := range fields[start:end] {
			section.Fields = append(section.Fields, slackText{Type: "mrkdwn", Text: "*" + f.Label + ":*\n" + f.Value})
		}
		blocks = append(blocks, section)
	}

	return slackPayload{Text: title, Blocks: blocks}
}
