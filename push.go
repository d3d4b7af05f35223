package offlineedge

import (
	"context"
	"encoding/json"
	"strings"
)

// Notification is a push message ready for display.
type Notification struct {
	Title string           `json:"title"`
	Body  string           `json:"body"`
	Icon  string           `json:"icon"`
	Badge string           `json:"badge"`
	Image string           `json:"image,omitempty"`
	Tag   string           `json:"tag"`
	Data  NotificationData `json:"data"`
}

// NotificationData is the click-target payload carried by a notification.
type NotificationData struct {
	URL string `json:"url"`
}

// Notifier displays a system notification.
type Notifier interface {
	Show(ctx context.Context, n Notification) error
}

// Window is an open dashboard window.
type Window interface {
	URL() string
	Focus() error
}

// WindowClients enumerates and opens dashboard windows.
type WindowClients interface {
	MatchAll(ctx context.Context) ([]Window, error)
	OpenWindow(ctx context.Context, url string) error
}

// ParsePushPayload decodes a push payload into a notification. Payloads
// that are not JSON are treated as plain text and become the body.
func ParsePushPayload(data []byte) Notification {
	n := Notification{
		Title: "Stevedore Alert",
		Body:  "You have a new message.",
		Icon:  "/static/icons/icon-192.png",
		Badge: "/static/icons/ship-icon.png",
		Tag:   "stevedore-notification",
	}
	if len(data) == 0 {
		return n
	}

	var payload struct {
		Title string           `json:"title"`
		Body  string           `json:"body"`
		Icon  string           `json:"icon"`
		Badge string           `json:"badge"`
		Image string           `json:"image"`
		Data  NotificationData `json:"data"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		n.Body = string(data)
		return n
	}
	if payload.Title != "" {
		n.Title = payload.Title
	}
	if payload.Body != "" {
		n.Body = payload.Body
	}
	if payload.Icon != "" {
		n.Icon = payload.Icon
	}
	if payload.Badge != "" {
		n.Badge = payload.Badge
	}
	n.Image = payload.Image
	n.Data = payload.Data
	return n
}

// HandlePush parses an incoming push payload and displays it.
func (o *OfflineEdge) HandlePush(ctx context.Context, data []byte) error {
	if o.notifier == nil {
		return nil
	}
	n := ParsePushPayload(data)
	o.log.Debug().Str("title", n.Title).Msg("Displaying push notification")
	return o.notifier.Show(ctx, n)
}

// HandleNotificationClick focuses an already-open window showing the
// notification's target URL, or opens a new one if none is found.
func (o *OfflineEdge) HandleNotificationClick(ctx context.Context, n Notification) error {
	if o.windows == nil {
		return nil
	}
	target := n.Data.URL
	if target == "" {
		target = "/"
	}
	windows, err := o.windows.MatchAll(ctx)
	if err != nil {
		return err
	}
	for _, window := range windows {
		if strings.Contains(window.URL(), target) {
			return window.Focus()
		}
	}
	return o.windows.OpenWindow(ctx, target)
}
