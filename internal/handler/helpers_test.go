package handler

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/dukerupert/pantrysync/internal/auth"
	"github.com/dukerupert/pantrysync/internal/database"
	"github.com/dukerupert/pantrysync/internal/household"
	"github.com/dukerupert/pantrysync/internal/identity"
	"github.com/dukerupert/pantrysync/internal/livequery"
	"github.com/dukerupert/pantrysync/internal/logging"
	"github.com/dukerupert/pantrysync/internal/model"
	"github.com/dukerupert/pantrysync/internal/pantry"
	"github.com/dukerupert/pantrysync/internal/shopping"
	"github.com/dukerupert/pantrysync/internal/store"
)

type testEnv struct {
	ident      *identity.Service
	directory  *household.Directory
	pantry     *pantry.Service
	shopping   *shopping.Service
	activities *store.ActivityStore
	pushStore  *store.PushStore
	alice      *model.Session
	bob        *model.Session
	household  *model.Household
}

func setupHandlerTest(t *testing.T) *testEnv {
	t.Helper()
	db, err := database.Open(":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	logger := logging.Discard()
	broker := livequery.NewBroker(logger)
	activities := store.NewActivityStore(db, broker)

	ident, err := identity.NewService(store.NewUserStore(db), store.NewSessionStore(db),
		identity.Config{Secret: []byte("test-secret")}, logger)
	if err != nil {
		t.Fatalf("identity: %v", err)
	}
	env := &testEnv{
		ident:      ident,
		directory:  household.NewDirectory(store.NewHouseholdStore(db, broker), activities, logger),
		pantry:     pantry.NewService(store.NewPantryStore(db, broker), activities, logger),
		shopping:   shopping.NewService(store.NewShoppingStore(db, broker), activities, logger),
		activities: activities,
		pushStore:  store.NewPushStore(db),
	}

	env.alice = env.signUp(t, "alice@example.com", "Alice")
	env.bob = env.signUp(t, "bob@example.com", "Bob")
	env.household, err = env.directory.Create(t.Context(), "Smith Family", "", household.UserFromSession(env.alice))
	if err != nil {
		t.Fatalf("create household: %v", err)
	}
	return env
}

func (e *testEnv) signUp(t *testing.T, email, name string) *model.Session {
	t.Helper()
	sess, err := e.ident.SignUp(t.Context(), email, "correct horse", name)
	if err != nil {
		t.Fatalf("sign up %s: %v", email, err)
	}
	return sess
}

// call runs h against a request carrying sess (nil for anonymous) and the
// given path values.
func call(t *testing.T, h http.HandlerFunc, method, target string, body any, sess *model.Session, path map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		r = bytes.NewBufferString(b)
	default:
		data, err := json.Marshal(b)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		r = bytes.NewReader(data)
	}

	req := httptest.NewRequest(method, target, r)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range path {
		req.SetPathValue(k, v)
	}
	if sess != nil {
		req = req.WithContext(auth.WithAuth(req.Context(), auth.FromSession(sess)))
	}
	rec := httptest.NewRecorder()
	h(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return v
}

func errorOf(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	return decode[map[string]any](t, rec)["error"].(string)
}

func ptr[T any](v T) *T { return &v }
