package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// ChatNotifier posts to a generic incoming-webhook URL (Slack- and
// Mattermost-compatible {"text": "..."} payload shape), the optional
// "chat" leg of spec §9's notification set.
type ChatNotifier struct {
	WebhookURL string
	HTTP       *http.Client
}

// NewChatNotifier builds a notifier against a webhook URL; an empty
// URL makes Notify a no-op so the chat leg stays optional.
func NewChatNotifier(webhookURL string) *ChatNotifier {
	return &ChatNotifier{WebhookURL: webhookURL, HTTP: &http.Client{Timeout: 10 * time.Second}}
}

func (c *ChatNotifier) Notify(ctx context.Context, event Event) error {
	if c.WebhookURL == "" {
		return nil
	}
	payload, err := json.Marshal(map[string]string{
		"text": fmt.Sprintf("%s\n%s", event.subject(), event.Detail),
	})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.WebhookURL, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return fmt.Errorf("chat webhook returned status %d", resp.StatusCode)
	}
	return nil
}
