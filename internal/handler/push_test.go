package handler

import (
	"net/http"
	"testing"

	"github.com/dukerupert/pantrysync/internal/logging"
	"github.com/dukerupert/pantrysync/internal/model"
	"github.com/dukerupert/pantrysync/internal/push"
)

func TestPushSubscribe(t *testing.T) {
	env := setupHandlerTest(t)
	h := NewPushHandler(env.pushStore, push.NewService(push.Config{}), env.directory, logging.Discard())

	req := subscribeRequest{
		HouseholdID: env.household.ID,
		Endpoint:    "https://push.example.com/sub/1",
		P256dh:      "p256dh-key",
		Auth:        "auth-key",
		DeviceName:  "Kitchen tablet",
	}
	rec := call(t, h.Subscribe, http.MethodPost, "/api/push/subscribe", req, env.alice, nil)
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want %d: %s", rec.Code, http.StatusCreated, rec.Body)
	}
	sub := decode[model.PushSubscription](t, rec)
	if sub.UserID != env.alice.UserID || sub.HouseholdID != env.household.ID {
		t.Errorf("subscription = %+v", sub)
	}
	subs, err := env.pushStore.ListByHousehold(t.Context(), env.household.ID)
	if err != nil {
		t.Fatalf("list subscriptions: %v", err)
	}
	if len(subs) != 1 {
		t.Fatalf("subscriptions = %d, want 1", len(subs))
	}

	// Bob is not in the household.
	rec = call(t, h.Subscribe, http.MethodPost, "/api/push/subscribe", req, env.bob, nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("non-member status = %d, want %d", rec.Code, http.StatusNotFound)
	}

	rec = call(t, h.Subscribe, http.MethodPost, "/api/push/subscribe",
		subscribeRequest{HouseholdID: env.household.ID, Endpoint: "https://push.example.com/sub/2"}, env.alice, nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("missing keys status = %d, want %d", rec.Code, http.StatusBadRequest)
	}

	rec = call(t, h.Unsubscribe, http.MethodPost, "/api/push/unsubscribe",
		unsubscribeRequest{Endpoint: req.Endpoint}, env.alice, nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("unsubscribe status = %d, want %d", rec.Code, http.StatusNoContent)
	}
	subs, _ = env.pushStore.ListByHousehold(t.Context(), env.household.ID)
	if len(subs) != 0 {
		t.Errorf("subscriptions after unsubscribe = %d, want 0", len(subs))
	}
}

func TestVAPIDKey(t *testing.T) {
	env := setupHandlerTest(t)

	h := NewPushHandler(env.pushStore, push.NewService(push.Config{}), env.directory, logging.Discard())
	rec := call(t, h.GetVAPIDKey, http.MethodGet, "/api/push/vapid-key", nil, env.alice, nil)
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("disabled status = %d, want %d", rec.Code, http.StatusServiceUnavailable)
	}

	h = NewPushHandler(env.pushStore, push.NewService(push.Config{VAPIDPublicKey: "pub", VAPIDPrivateKey: "priv"}), env.directory, logging.Discard())
	rec = call(t, h.GetVAPIDKey, http.MethodGet, "/api/push/vapid-key", nil, env.alice, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	if got := decode[map[string]string](t, rec)["public_key"]; got != "pub" {
		t.Errorf("public_key = %q, want %q", got, "pub")
	}
}
