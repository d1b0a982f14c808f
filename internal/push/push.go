// Package push delivers web push notifications to household members and
// runs the daily pantry alert scheduler.
package push

import (
	"context"
	"crypto/ecdh"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	webpush "github.com/SherClockHolmes/webpush-go"

	"github.com/dukerupert/pantrysync/internal/model"
)

const (
	defaultSubscriber = "mailto:noreply@pantrysync.app"
	messageTTL        = 24 * time.Hour
)

// ErrExpired means the push service no longer knows the subscription. The
// caller should delete it.
var ErrExpired = errors.New("push subscription expired")

// Payload is the JSON body the service worker receives.
type Payload struct {
	Title string `json:"title"`
	Body  string `json:"body"`
	URL   string `json:"url,omitempty"`
	Tag   string `json:"tag,omitempty"`
}

type Config struct {
	VAPIDPublicKey  string
	VAPIDPrivateKey string
	// Subscriber is the contact URI sent in the VAPID claims.
	Subscriber string
}

type Service struct {
	cfg    Config
	client webpush.HTTPClient
}

func NewService(cfg Config) *Service {
	if cfg.Subscriber == "" {
		cfg.Subscriber = defaultSubscriber
	}
	return &Service{cfg: cfg, client: http.DefaultClient}
}

// Enabled reports whether both VAPID keys are configured.
func (s *Service) Enabled() bool {
	return s.cfg.VAPIDPublicKey != "" && s.cfg.VAPIDPrivateKey != ""
}

func (s *Service) VAPIDPublicKey() string {
	return s.cfg.VAPIDPublicKey
}

func (s *Service) options() *webpush.Options {
	return &webpush.Options{
		HTTPClient:      s.client,
		Subscriber:      s.cfg.Subscriber,
		VAPIDPublicKey:  s.cfg.VAPIDPublicKey,
		VAPIDPrivateKey: s.cfg.VAPIDPrivateKey,
		TTL:             int(messageTTL.Seconds()),
		Urgency:         webpush.UrgencyNormal,
	}
}

// Send encrypts payload for sub and posts it to the subscription's push
// service. It returns ErrExpired for 404 and 410 responses.
func (s *Service) Send(ctx context.Context, sub *model.PushSubscription, payload Payload) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}

	target := &webpush.Subscription{
		Endpoint: sub.Endpoint,
		Keys:     webpush.Keys{P256dh: sub.P256dhKey, Auth: sub.AuthKey},
	}
	resp, err := webpush.SendNotificationWithContext(ctx, body, target, s.options())
	if err != nil {
		return fmt.Errorf("deliver to %s: %w", sub.Endpoint, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound, resp.StatusCode == http.StatusGone:
		return ErrExpired
	case resp.StatusCode >= http.StatusBadRequest:
		return fmt.Errorf("push service responded %s", resp.Status)
	}
	return nil
}

// GenerateVAPIDKeys returns a fresh P-256 key pair, both halves encoded as
// unpadded base64url: the public key as an uncompressed point, the private
// key as its 32-byte scalar.
func GenerateVAPIDKeys() (publicKey, privateKey string, err error) {
	key, err := ecdh.P256().GenerateKey(rand.Reader)
	if err != nil {
		return "", "", fmt.Errorf("generate P-256 key: %w", err)
	}
	enc := base64.RawURLEncoding
	return enc.EncodeToString(key.PublicKey().Bytes()), enc.EncodeToString(key.Bytes()), nil
}
