// Package notify posts finished recordings to a team chat.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	lark "github.com/larksuite/oapi-sdk-go/v3"
	larkim "github.com/larksuite/oapi-sdk-go/v3/service/im/v1"

	"runthru/internal/domain"
	"runthru/internal/logging"
)

// Notifier announces the outcome of a recording.
type Notifier interface {
	Notify(ctx context.Context, rec *domain.Recording) error
}

// LarkNotifier sends recording summaries to one Lark chat.
type LarkNotifier struct {
	client *lark.Client
	chatID string
	logger logging.Logger
}

// NewLarkNotifier builds a notifier from app credentials. Extra client
// options are passed to the Lark SDK.
func NewLarkNotifier(appID, appSecret, chatID string, logger logging.Logger, opts ...lark.ClientOptionFunc) *LarkNotifier {
	return &LarkNotifier{
		client: lark.NewClient(appID, appSecret, opts...),
		chatID: chatID,
		logger: logging.OrNop(logger),
	}
}

func (n *LarkNotifier) Notify(ctx context.Context, rec *domain.Recording) error {
	if n.client == nil {
		return fmt.Errorf("lark client not initialized")
	}
	if rec == nil {
		return fmt.Errorf("nothing to notify")
	}
	textJSON, err := json.Marshal(map[string]string{"text": Summary(rec)})
	if err != nil {
		return fmt.Errorf("marshal text content: %w", err)
	}

	req := larkim.NewCreateMessageReqBuilder().
		ReceiveIdType("chat_id").
		Body(larkim.NewCreateMessageReqBodyBuilder().
			ReceiveId(n.chatID).
			MsgType("text").
			Content(string(textJSON)).
			Build()).
		Build()

	resp, err := n.client.Im.Message.Create(ctx, req)
	if err != nil {
		return fmt.Errorf("lark send: %w", err)
	}
	if !resp.Success() {
		return fmt.Errorf("lark send error: code=%d msg=%s", resp.Code, resp.Msg)
	}
	n.logger.Debug("Sent recording %s summary to %s", rec.ID, n.chatID)
	return nil
}

// Summary renders the plain-text message for rec.
func Summary(rec *domain.Recording) string {
	var b strings.Builder
	title := rec.Description
	if title == "" {
		title = rec.TargetURL
	}
	switch rec.Status {
	case domain.StatusCompleted:
		fmt.Fprintf(&b, "Demo recording ready: %s\n", title)
	case domain.StatusFailed:
		fmt.Fprintf(&b, "Demo recording failed: %s\n", title)
	default:
		fmt.Fprintf(&b, "Demo recording %s: %s\n", rec.Status, title)
	}
	fmt.Fprintf(&b, "ID: %s\n", rec.ID)

	ok := 0
	for _, s := range rec.Steps {
		if s.Success {
			ok++
		}
	}
	fmt.Fprintf(&b, "Steps: %d/%d succeeded\n", ok, len(rec.Steps))
	if rec.DurationSeconds != nil {
		fmt.Fprintf(&b, "Duration: %.1fs\n", *rec.DurationSeconds)
	}
	if rec.Status == domain.StatusFailed && rec.CurrentStep != "" {
		fmt.Fprintf(&b, "Reason: %s\n", rec.CurrentStep)
	}
	if rec.ShareURL != "" {
		fmt.Fprintf(&b, "Video: %s\n", rec.ShareURL)
	}
	return strings.TrimRight(b.String(), "\n")
}

// Nop drops every notification.
type Nop struct{}

func (Nop) Notify(context.Context, *domain.Recording) error { return nil }
