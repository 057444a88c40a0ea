package slack

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/MikeSquared-Agency/mentor/internal/ledger"
)

const defaultPostMessageURL = "https://slack.com/api/chat.postMessage"

type Poster struct {
	token   string
	channel string
	client  *http.Client
	logger  *slog.Logger
	apiURL  string
}

func NewPoster(token, channel string, logger *slog.Logger) *Poster {
	return &Poster{
		token:   token,
		channel: channel,
		client:  &http.Client{Timeout: 10 * time.Second},
		apiURL:  defaultPostMessageURL,
		logger:  logger,
	}
}

// PostPlateauAlert announces a learning plateau and threads the recommended
// actions under it. Returns the alert's message timestamp.
func (p *Poster) PostPlateauAlert(ctx context.Context, report ledger.PlateauReport, summary ledger.Summary) (string, error) {
	text := formatPlateauMessage(report, summary)

	ts, err := p.post(ctx, map[string]any{
		"channel": p.channel,
		"text":    text,
		"blocks": []map[string]any{
			{
				"type": "section",
				"text": map[string]any{
					"type": "mrkdwn",
					"text": text,
				},
			},
			{
				"type": "context",
				"elements": []map[string]any{
					{
						"type": "mrkdwn",
						"text": "Plateau detection is a heuristic: review the audit trail before stopping collection.",
					},
				},
			},
		},
	})
	if err != nil {
		return "", err
	}
	p.logger.Info("posted plateau alert to slack", "ts", ts)

	if len(report.Recommendations) > 0 {
		if err := p.PostThread(ctx, ts, formatRecommendations(report.Recommendations)); err != nil {
			p.logger.Warn("failed to post recommendations thread", "ts", ts, "error", err)
		}
	}
	return ts, nil
}

// Post posts a top-level message and returns its timestamp.
func (p *Poster) Post(ctx context.Context, text string) (string, error) {
	return p.post(ctx, map[string]any{
		"channel": p.channel,
		"text":    text,
	})
}

// PostThread posts a threaded reply to a message.
func (p *Poster) PostThread(ctx context.Context, threadTS, text string) error {
	_, err := p.post(ctx, map[string]any{
		"channel":   p.channel,
		"thread_ts": threadTS,
		"text":      text,
	})
	return err
}

func (p *Poster) post(ctx context.Context, payload map[string]any) (string, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal slack payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.apiURL, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json; charset=utf-8")
	req.Header.Set("Authorization", "Bearer "+p.token)

	resp, err := p.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("slack post: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}

	var slackResp struct {
		OK    bool   `json:"ok"`
		TS    string `json:"ts"`
		Error string `json:"error,omitempty"`
	}
	if err := json.Unmarshal(respBody, &slackResp); err != nil {
		return "", fmt.Errorf("parse slack response: %w", err)
	}
	if !slackResp.OK {
		return "", fmt.Errorf("slack error: %s", slackResp.Error)
	}
	return slackResp.TS, nil
}

func formatPlateauMessage(report ledger.PlateauReport, summary ledger.Summary) string {
	var sb strings.Builder

	sb.WriteString("*Learning plateau detected*\n")
	if report.DetectedAt != nil {
		fmt.Fprintf(&sb, "*Detected:* %s\n", report.DetectedAt.UTC().Format(time.RFC1123))
	}
	fmt.Fprintf(&sb, "*Transcripts processed:* %d | *Lessons:* %d\n", summary.TotalPDFsProcessed, summary.TotalLessons)
	fmt.Fprintf(&sb, "*Dedup rate:* %.1f%% | *Latest uniqueness:* %.1f%%\n", report.DedupRate*100, report.UniquenessRate*100)
	fmt.Fprintf(&sb, "*Lessons added in window:* %d | *Trend:* %s", report.RecentLessonsAdded, report.TrendDirection)
	return sb.String()
}

func formatRecommendations(actions []string) string {
	var sb strings.Builder
	sb.WriteString("*Recommended actions*\n")
	for i, a := range actions {
		fmt.Fprintf(&sb, "%d. %s\n", i+1, a)
	}
	return strings.TrimSuffix(sb.String(), "\n")
}
