package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/italolelis/downloadables/internal/downloadables"
	"github.com/italolelis/downloadables/internal/logctx"
)

const (
	defaultBuffer  = 32
	requestTimeout = 10 * time.Second
)

type Notifier interface {
	Notify(ctx context.Context, content string) error
}

type DiscordNotifier struct {
	WebhookURL string
	Client     *http.Client
}

func (d *DiscordNotifier) Notify(ctx context.Context, content string) error {
	if d.WebhookURL == "" {
		return fmt.Errorf("webhook URL is not set")
	}

	payload := map[string]string{"content": content}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.WebhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")

	client := d.Client
	if client == nil {
		client = http.DefaultClient
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook failed with status %d", resp.StatusCode)
	}

	return nil
}

// GroupNotifier is a downloadables.Tracker that announces completed and
// failed groups. Messages are sent from Run so the tick never waits on the
// network; when the queue is full new messages are dropped.
type GroupNotifier struct {
	notifier Notifier
	messages chan string
}

var _ downloadables.Tracker = (*GroupNotifier)(nil)

func NewGroupNotifier(n Notifier) *GroupNotifier {
	return &GroupNotifier{notifier: n, messages: make(chan string, defaultBuffer)}
}

func (g *GroupNotifier) Notify(e downloadables.Event) {
	content, ok := formatEvent(e)
	if !ok {
		return
	}

	select {
	case g.messages <- content:
	default:
	}
}

// Run delivers queued messages until ctx is cancelled.
func (g *GroupNotifier) Run(ctx context.Context) error {
	logger := logctx.LoggerFromContext(ctx).With("component", "notifier")

	for {
		select {
		case <-ctx.Done():
			return nil
		case content := <-g.messages:
			if err := g.notifier.Notify(ctx, content); err != nil {
				logger.WarnContext(ctx, "failed to send notification", "err", err)
			}
		}
	}
}

func formatEvent(e downloadables.Event) (string, bool) {
	switch e.Kind {
	case downloadables.EventCompleted:
		return fmt.Sprintf("Downloadable group **%s** completed (%s in %s)",
			e.GroupID, humanize.Bytes(uint64(e.Total)), e.Duration.Round(time.Second)), true
	case downloadables.EventFailed:
		return fmt.Sprintf("Downloadable group **%s** failed: %s at %s of %s (retries: %d)",
			e.GroupID, e.ErrorType, humanize.Bytes(uint64(e.Downloaded)), humanize.Bytes(uint64(e.Total)), e.Retries), true
	default:
		return "", false
	}
}
