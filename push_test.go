package swcache

import (
	"context"
	"errors"
	"testing"
)

func TestPushShowsNotification(t *testing.T) {
	h := started(t)
	n, err := h.w.Push(context.Background(), []byte(`{"title":"New comment","body":"On your post","data":{"url":"/blog/1"}}`))
	if err != nil {
		t.Fatalf("Push: %v", err)
	}
	if n.ID == "" || n.Title != "New comment" || n.Body != "On your post" {
		t.Fatalf("notification = %+v", n)
	}
	if n.Icon != "/favicon.ico" || n.Badge != "/favicon.ico" || !n.RequireInteraction {
		t.Fatalf("presentation = %+v", n)
	}
	if len(h.notify.shown) != 1 || h.notify.shown[0].ID != n.ID {
		t.Fatalf("shown = %+v", h.notify.shown)
	}
	if len(h.hooks.shown) != 1 {
		t.Fatalf("NotificationShown hooks = %v", h.hooks.shown)
	}
}

func TestPushEmptyPayloadIsNoop(t *testing.T) {
	h := started(t)
	for _, p := range [][]byte{nil, []byte(""), []byte("  \n")} {
		n, err := h.w.Push(context.Background(), p)
		if n != nil || err != nil {
			t.Fatalf("Push(%q) = %v, %v", p, n, err)
		}
	}
	if len(h.notify.shown) != 0 {
		t.Fatalf("empty push showed a notification")
	}
}

func TestPushDataDefaultsToEmptyMap(t *testing.T) {
	h := started(t)
	n, err := h.w.Push(context.Background(), []byte(`{"title":"Hi"}`))
	if err != nil {
		t.Fatalf("Push: %v", err)
	}
	if n.Data == nil || len(n.Data) != 0 {
		t.Fatalf("Data = %#v, want empty map", n.Data)
	}
}

func TestPushRejectsInvalidPayload(t *testing.T) {
	h := started(t)
	for _, p := range []string{`{"body":"no title"}`, `not json`, `[1,2]`} {
		if _, err := h.w.Push(context.Background(), []byte(p)); !errors.Is(err, ErrInvalidPush) {
			t.Fatalf("Push(%s) err = %v, want ErrInvalidPush", p, err)
		}
	}
}

func TestNotificationClick(t *testing.T) {
	ctx := context.Background()
	h := started(t)
	cases := []struct {
		data map[string]any
		want string
	}{
		{map[string]any{"url": "/projects/3"}, "/projects/3"},
		{map[string]any{}, "/"},
		{nil, "/"},
		{map[string]any{"url": ""}, "/"},
		{map[string]any{"url": 42.0}, "/"},
	}
	for i, tc := range cases {
		n := Notification{ID: string(rune('a' + i)), Data: tc.data}
		got, err := h.w.NotificationClick(ctx, n)
		if err != nil || got != tc.want {
			t.Fatalf("click %v = %q, %v; want %q", tc.data, got, err, tc.want)
		}
	}
	if len(h.notify.closed) != len(cases) || h.notify.closed[0] != "a" {
		t.Fatalf("closed = %v", h.notify.closed)
	}
}
