package swcache

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// PushMessage is the JSON body of a push event.
type PushMessage struct {
	Title string         `json:"title"`
	Body  string         `json:"body"`
	Data  map[string]any `json:"data"`
}

// Notification is what the worker asks a Notifier to display.
type Notification struct {
	ID                 string         `json:"id"`
	Title              string         `json:"title"`
	Body               string         `json:"body"`
	Icon               string         `json:"icon"`
	Badge              string         `json:"badge"`
	RequireInteraction bool           `json:"require_interaction"`
	Data               map[string]any `json:"data"`
	CreatedAt          time.Time      `json:"created_at"`
}

// TargetURL is data.url when it is a non-empty string, else "/".
func (n Notification) TargetURL() string {
	if s, ok := n.Data["url"].(string); ok && s != "" {
		return s
	}
	return "/"
}

// Notifier displays and dismisses notifications.
type Notifier interface {
	Show(ctx context.Context, n Notification) error
	Close(ctx context.Context, id string) error
}

type logNotifier struct{ log Logger }

func (l logNotifier) Show(_ context.Context, n Notification) error {
	l.log.Info("notification", Fields{"id": n.ID, "title": n.Title})
	return nil
}

func (logNotifier) Close(context.Context, string) error { return nil }

func (w *worker) Push(ctx context.Context, payload []byte) (n *Notification, err error) {
	if len(bytes.TrimSpace(payload)) == 0 {
		return nil, nil
	}
	done, err := w.extend()
	if err != nil {
		return nil, err
	}
	defer done()
	defer w.recoverPanic("push", &err)

	var msg PushMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPush, err)
	}
	if msg.Title == "" {
		return nil, fmt.Errorf("%w: missing title", ErrInvalidPush)
	}
	if msg.Data == nil {
		msg.Data = map[string]any{}
	}
	n = &Notification{
		ID:                 uuid.NewString(),
		Title:              msg.Title,
		Body:               msg.Body,
		Icon:               w.cfg.Icon,
		Badge:              w.cfg.Badge,
		RequireInteraction: true,
		Data:               msg.Data,
		CreatedAt:          w.now(),
	}
	if err := w.notify.Show(ctx, *n); err != nil {
		return nil, fmt.Errorf("show notification: %w", err)
	}
	w.hooks.NotificationShown(n.ID)
	return n, nil
}

func (w *worker) NotificationClick(ctx context.Context, n Notification) (target string, err error) {
	done, err := w.extend()
	if err != nil {
		return "", err
	}
	defer done()
	defer w.recoverPanic("notificationclick", &err)

	if err := w.notify.Close(ctx, n.ID); err != nil {
		w.log.Warn("closing notification failed", Fields{"id": n.ID, "err": err})
	}
	return n.TargetURL(), nil
}
