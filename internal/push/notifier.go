// Package push доставляет адресованные туристу события (SOS, ETA, геозоны) как
// Web Push уведомления, когда вкладка/приложение не на связи по WebSocket.
package push

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	webpush "github.com/SherClockHolmes/webpush-go"
	"github.com/safetyhub/internal/logger"
	"github.com/safetyhub/internal/model"
	"github.com/safetyhub/internal/storage"
)

const sendTimeout = 10 * time.Second

// Message is the JSON body the service worker receives.
type Message struct {
	Type    model.EventType `json:"type"`
	Title   string          `json:"title"`
	Body    string          `json:"body"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type Notifier struct {
	store storage.Store
	opts  *webpush.Options
}

// NewNotifier builds a notifier. Without valid keys it sends nothing. client may
// be nil for http.DefaultClient.
func NewNotifier(store storage.Store, keys *VAPIDKeys, subscriber string, client webpush.HTTPClient) *Notifier {
	n := &Notifier{store: store}
	if keys.valid() {
		n.opts = &webpush.Options{
			Subscriber:      subscriber,
			VAPIDPublicKey:  keys.PublicKey,
			VAPIDPrivateKey: keys.PrivateKey,
			TTL:             60,
			Urgency:         webpush.UrgencyHigh,
			HTTPClient:      client,
		}
	}
	return n
}

// Enabled reports whether VAPID keys are configured.
func (n *Notifier) Enabled() bool { return n != nil && n.opts != nil }

// Notify sends ev to every subscription of subjectID. Gone subscriptions
// (404/410) are removed. Errors are logged only.
func (n *Notifier) Notify(ctx context.Context, subjectID string, ev model.Event) {
	if !n.Enabled() {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, sendTimeout)
	defer cancel()

	subs, err := n.store.PushSubscriptions(ctx, subjectID)
	if err != nil {
		logger.Errorf("push subscriptions: %v", err)
		return
	}
	if len(subs) == 0 {
		return
	}
	body, err := render(ev)
	if err != nil {
		logger.Errorf("push render %s: %v", ev.Type, err)
		return
	}
	for _, sub := range subs {
		wpSub := &webpush.Subscription{
			Endpoint: sub.Endpoint,
			Keys:     webpush.Keys{P256dh: sub.Keys.P256dh, Auth: sub.Keys.Auth},
		}
		resp, err := webpush.SendNotificationWithContext(ctx, body, wpSub, n.opts)
		if err != nil {
			logger.Errorf("push send %s: %v", shortEndpoint(sub.Endpoint), err)
			continue
		}
		resp.Body.Close()
		switch {
		case resp.StatusCode == http.StatusGone || resp.StatusCode == http.StatusNotFound:
			if err := n.store.RemovePushSubscription(ctx, subjectID, sub.Endpoint); err != nil {
				logger.Errorf("push remove subscription: %v", err)
			}
		case resp.StatusCode >= 300:
			logger.Warnf("push send %s: status %d", shortEndpoint(sub.Endpoint), resp.StatusCode)
		}
	}
}

func render(ev model.Event) ([]byte, error) {
	raw, err := json.Marshal(ev.Payload)
	if err != nil {
		return nil, err
	}
	var fields struct {
		ETAMinutes *int `json:"eta_minutes"`
		Zone       struct {
			Name string `json:"name"`
		} `json:"zone"`
	}
	_ = json.Unmarshal(raw, &fields)

	m := Message{Type: ev.Type, Payload: raw}
	switch ev.Type {
	case model.EventSOSAck:
		m.Title, m.Body = "SOS received", "Your emergency signal reached the control room"
	case model.EventETAUpdate:
		m.Title = "Help is on the way"
		if fields.ETAMinutes != nil {
			m.Body = fmt.Sprintf("Estimated arrival in %d min", *fields.ETAMinutes)
		}
	case model.EventHelpArrived:
		m.Title, m.Body = "Help has arrived", "Your SOS has been resolved"
	case model.EventGeofenceAlert:
		m.Title, m.Body = "Danger zone", "You are entering a danger zone"
	case model.EventRedZoneAlert:
		m.Title, m.Body = "Red zone alert", "Red zone alert in your itinerary"
	default:
		m.Title = string(ev.Type)
	}
	if fields.Zone.Name != "" {
		m.Body += ": " + fields.Zone.Name
	}
	return json.Marshal(m)
}

func shortEndpoint(e string) string {
	if len(e) > 50 {
		return e[:50]
	}
	return e
}
