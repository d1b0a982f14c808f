package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	ws "github.com/coder/websocket"

	"github.com/dukerupert/pantrysync/internal/activity"
	"github.com/dukerupert/pantrysync/internal/auth"
	"github.com/dukerupert/pantrysync/internal/bootstrap"
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
	hub       *Hub
	handler   *Handler
	ident     *identity.Service
	pantry    *pantry.Service
	shopping  *shopping.Service
	directory *household.Directory
	session   *model.Session
}

func setupHubTest(t *testing.T) *testEnv {
	t.Helper()
	db, err := database.Open(":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	logger := logging.Discard()
	broker := livequery.NewBroker(logger)
	items := store.NewPantryStore(db, broker)
	lists := store.NewShoppingStore(db, broker)
	activities := store.NewActivityStore(db, broker)

	ident, err := identity.NewService(store.NewUserStore(db), store.NewSessionStore(db),
		identity.Config{Secret: []byte("test-secret")}, logger)
	if err != nil {
		t.Fatalf("identity: %v", err)
	}
	sess, err := ident.SignUp(t.Context(), "alice@example.com", "correct horse", "Alice")
	if err != nil {
		t.Fatalf("sign up: %v", err)
	}

	env := &testEnv{
		hub:       NewHub(logger),
		ident:     ident,
		pantry:    pantry.NewService(items, activities, logger),
		shopping:  shopping.NewService(lists, activities, logger),
		directory: household.NewDirectory(store.NewHouseholdStore(db, broker), activities, logger),
		session:   sess,
	}
	env.handler = NewHandler(env.hub, Deps{
		Households:     env.directory,
		KV:             store.NewSettingsStore(db),
		SignOut:        ident.SignOut,
		Pantry:         env.pantry,
		PantryMirror:   pantry.NewMirror(broker, items, logger),
		Shopping:       env.shopping,
		ShoppingMirror: shopping.NewMirror(broker, lists, logger),
		ActivityMirror: activity.NewMirror(broker, activities, logger),
		SlowAfter:      time.Minute,
	}, logger)
	unsubscribe := ident.OnSessionChange(env.hub.SessionChanged)
	t.Cleanup(unsubscribe)
	return env
}

func (e *testEnv) createHousehold(t *testing.T, name string) *model.Household {
	t.Helper()
	h, err := e.directory.Create(t.Context(), name, "", household.UserFromSession(e.session))
	if err != nil {
		t.Fatalf("create household: %v", err)
	}
	return h
}

func (e *testEnv) actor() model.Actor {
	return model.Actor{UserID: e.session.UserID, Name: e.session.DisplayName}
}

// frame is a received message with its payload left raw.
type frame struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// inbox accumulates the newest frame per type drained from a client.
type inbox struct {
	c      *Client
	latest map[string]frame
}

func newInbox(c *Client) *inbox {
	return &inbox{c: c, latest: make(map[string]frame)}
}

func (in *inbox) drain(t *testing.T) {
	t.Helper()
	for _, raw := range in.c.box.take() {
		var f frame
		if err := json.Unmarshal(raw, &f); err != nil {
			t.Fatalf("unmarshal frame: %v", err)
		}
		in.latest[f.Type] = f
	}
}

// await polls until the newest frame of typ satisfies cond.
func (in *inbox) await(t *testing.T, typ string, cond func(json.RawMessage) bool) json.RawMessage {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		in.drain(t)
		if f, ok := in.latest[typ]; ok && cond(f.Data) {
			return f.Data
		}
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s frame, latest %s", typ, in.latest[typ].Data)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

type pantryFrame struct {
	HouseholdID string             `json:"householdId"`
	Items       []model.PantryItem `json:"items"`
	Alerts      pantry.Alerts      `json:"alerts"`
}

func pantryWith(n int) func(json.RawMessage) bool {
	return func(data json.RawMessage) bool {
		var p pantryFrame
		return json.Unmarshal(data, &p) == nil && len(p.Items) == n
	}
}

func destination(want bootstrap.Destination) func(json.RawMessage) bool {
	return func(data json.RawMessage) bool {
		var d struct {
			Destination bootstrap.Destination `json:"destination"`
		}
		return json.Unmarshal(data, &d) == nil && d.Destination == want
	}
}

// startClient builds a connectionless client and runs its machine.
func (e *testEnv) startClient(t *testing.T, wantHousehold string) (*Client, *inbox) {
	t.Helper()
	c, err := e.handler.newClient(nil, e.session, wantHousehold)
	if err != nil {
		t.Fatalf("newClient: %v", err)
	}
	t.Cleanup(c.shutdown)
	e.hub.Register(c)
	t.Cleanup(func() { e.hub.Unregister(c) })

	c.machine.SetSession(c.session)
	c.machine.Start()
	return c, newInbox(c)
}

func TestRegisterUnregister(t *testing.T) {
	hub := NewHub(logging.Discard())
	c1 := &Client{box: newOutbox()}
	c2 := &Client{box: newOutbox()}

	hub.Register(c1)
	hub.Register(c2)
	if got := hub.ClientCount(); got != 2 {
		t.Fatalf("ClientCount() = %d, want 2", got)
	}

	hub.Unregister(c1)
	hub.Unregister(c1)
	if got := hub.ClientCount(); got != 1 {
		t.Fatalf("ClientCount() = %d, want 1", got)
	}
	hub.Unregister(c2)
	if got := hub.ClientCount(); got != 0 {
		t.Fatalf("ClientCount() = %d, want 0", got)
	}
}

func TestOutboxKeepsNewestPerType(t *testing.T) {
	o := newOutbox()
	o.put(TypePantry, []byte("p1"))
	o.put(TypeShopping, []byte("s1"))
	o.put(TypePantry, []byte("p2"))

	select {
	case <-o.wake:
	default:
		t.Fatal("put did not signal wake")
	}

	got := o.take()
	if len(got) != 2 || string(got[0]) != "p2" || string(got[1]) != "s1" {
		t.Errorf("take() = %q, want [p2 s1]", got)
	}
	if got := o.take(); len(got) != 0 {
		t.Errorf("second take() = %q, want empty", got)
	}
}

func TestClientWithoutHouseholdsGoesToSetup(t *testing.T) {
	env := setupHubTest(t)
	_, in := env.startClient(t, "")

	in.await(t, TypeDecision, destination(bootstrap.HouseholdSetup))
}

func TestClientMirrorsCurrentHousehold(t *testing.T) {
	env := setupHubTest(t)
	h := env.createHousehold(t, "Smith Family")
	if _, err := env.pantry.Add(t.Context(), h.ID, env.actor(), pantry.ItemFields{Name: "Milk"}); err != nil {
		t.Fatalf("add: %v", err)
	}

	_, in := env.startClient(t, "")
	in.await(t, TypeDecision, destination(bootstrap.MainApp))
	data := in.await(t, TypePantry, pantryWith(1))

	var p pantryFrame
	json.Unmarshal(data, &p)
	if p.HouseholdID != h.ID {
		t.Errorf("householdId = %q, want %q", p.HouseholdID, h.ID)
	}
	if p.Items[0].Name != "Milk" {
		t.Errorf("item = %q, want %q", p.Items[0].Name, "Milk")
	}

	// Writes made elsewhere arrive as new snapshots.
	if _, err := env.pantry.Add(t.Context(), h.ID, env.actor(), pantry.ItemFields{Name: "Eggs"}); err != nil {
		t.Fatalf("add: %v", err)
	}
	in.await(t, TypePantry, pantryWith(2))

	if _, err := env.shopping.CreateList(t.Context(), h.ID, env.actor(), "Weekly", ""); err != nil {
		t.Fatalf("create list: %v", err)
	}
	in.await(t, TypeShopping, func(data json.RawMessage) bool {
		var s struct {
			Lists []model.ShoppingList `json:"lists"`
		}
		return json.Unmarshal(data, &s) == nil && len(s.Lists) == 1
	})
	in.await(t, TypeActivity, func(data json.RawMessage) bool {
		return strings.Contains(string(data), "Eggs")
	})
}

func TestClientSelectsRequestedHousehold(t *testing.T) {
	env := setupHubTest(t)
	env.createHousehold(t, "Smith Family")
	cabin := env.createHousehold(t, "Cabin")
	if _, err := env.pantry.Add(t.Context(), cabin.ID, env.actor(), pantry.ItemFields{Name: "Firewood"}); err != nil {
		t.Fatalf("add: %v", err)
	}

	c, in := env.startClient(t, cabin.ID)
	in.await(t, TypePantry, pantryWith(1))
	if got := c.pantry.HouseholdID(); got != cabin.ID {
		t.Errorf("pantry household = %q, want %q", got, cabin.ID)
	}
}

func TestSwitchHouseholdCommand(t *testing.T) {
	env := setupHubTest(t)
	env.createHousehold(t, "Smith Family")
	cabin := env.createHousehold(t, "Cabin")

	c, in := env.startClient(t, "")
	in.await(t, TypeDecision, destination(bootstrap.MainApp))

	c.handle(t.Context(), command{Type: "switch_household", HouseholdID: cabin.ID})
	in.await(t, TypeHousehold, func(data json.RawMessage) bool {
		return strings.Contains(string(data), cabin.ID)
	})

	c.handle(t.Context(), command{Type: "switch_household", HouseholdID: "missing"})
	in.await(t, TypeError, func(data json.RawMessage) bool {
		return strings.Contains(string(data), "not found")
	})
}

func TestSignOutElsewhereEndsConnectionSession(t *testing.T) {
	env := setupHubTest(t)
	env.createHousehold(t, "Smith Family")
	c, in := env.startClient(t, "")
	in.await(t, TypePantry, pantryWith(0))

	if err := env.ident.SignOut(t.Context(), env.session); err != nil {
		t.Fatalf("sign out: %v", err)
	}
	in.await(t, TypeDecision, destination(bootstrap.SignIn))
	in.await(t, TypeHousehold, func(data json.RawMessage) bool {
		return len(data) == 0 || string(data) == "null"
	})
	if got := c.pantry.HouseholdID(); got != "" {
		t.Errorf("pantry household after sign-out = %q, want empty", got)
	}
}

func TestServeHTTPRequiresSession(t *testing.T) {
	env := setupHubTest(t)
	req := httptest.NewRequest(http.MethodGet, "/ws", nil)
	rec := httptest.NewRecorder()

	env.handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusUnauthorized)
	}
}

func TestServeHTTPStreamsSnapshots(t *testing.T) {
	env := setupHubTest(t)
	h := env.createHousehold(t, "Smith Family")

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := auth.WithAuth(r.Context(), auth.FromSession(env.session))
		env.handler.ServeHTTP(w, r.WithContext(ctx))
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(t.Context(), 5*time.Second)
	defer cancel()
	conn, _, err := ws.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http")+"/ws", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.CloseNow()

	next := func(typ string) json.RawMessage {
		t.Helper()
		for {
			_, raw, err := conn.Read(ctx)
			if err != nil {
				t.Fatalf("read waiting for %s: %v", typ, err)
			}
			var f frame
			if err := json.Unmarshal(raw, &f); err != nil {
				t.Fatalf("unmarshal: %v", err)
			}
			if f.Type == typ {
				return f.Data
			}
		}
	}

	next(TypePantry)
	if got := env.hub.ClientCount(); got != 1 {
		t.Errorf("ClientCount() = %d, want 1", got)
	}

	if _, err := env.pantry.Add(t.Context(), h.ID, env.actor(), pantry.ItemFields{Name: "Bread"}); err != nil {
		t.Fatalf("add: %v", err)
	}
	for {
		var p pantryFrame
		json.Unmarshal(next(TypePantry), &p)
		if len(p.Items) == 1 {
			if p.Items[0].Name != "Bread" {
				t.Errorf("item = %q, want %q", p.Items[0].Name, "Bread")
			}
			break
		}
	}

	cmd, _ := json.Marshal(command{Type: "sign_out"})
	if err := conn.Write(ctx, ws.MessageText, cmd); err != nil {
		t.Fatalf("write: %v", err)
	}
	for {
		var d struct {
			Destination bootstrap.Destination `json:"destination"`
		}
		json.Unmarshal(next(TypeDecision), &d)
		if d.Destination == bootstrap.SignIn {
			break
		}
	}
	// The provider sign-out runs after the decision is delivered.
	deadline := time.Now().Add(2 * time.Second)
	for {
		if _, err := env.ident.Verify(t.Context(), env.session.Token); err != nil {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("session still verifies after sign_out command")
		}
		time.Sleep(5 * time.Millisecond)
	}
}
