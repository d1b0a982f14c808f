package websocket

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	ws "github.com/coder/websocket"

	"github.com/dukerupert/pantrysync/internal/activity"
	"github.com/dukerupert/pantrysync/internal/auth"
	"github.com/dukerupert/pantrysync/internal/bootstrap"
	"github.com/dukerupert/pantrysync/internal/mirror"
	"github.com/dukerupert/pantrysync/internal/model"
	"github.com/dukerupert/pantrysync/internal/pantry"
	"github.com/dukerupert/pantrysync/internal/shopping"
)

// Deps are the shared services every connection draws on.
type Deps struct {
	Households bootstrap.HouseholdLoader
	KV         bootstrap.KV
	// SignOut revokes a session with the identity provider.
	SignOut func(ctx context.Context, s *model.Session) error

	Pantry         *pantry.Service
	PantryMirror   *mirror.Mirror[model.PantryItem]
	Shopping       *shopping.Service
	ShoppingMirror *mirror.Mirror[model.ShoppingList]
	ActivityMirror *mirror.Mirror[model.Activity]

	SlowAfter time.Duration
	// OriginPatterns are the hosts allowed to open a connection besides
	// the server's own.
	OriginPatterns []string
}

// Handler upgrades authenticated requests to live connections.
type Handler struct {
	hub    *Hub
	deps   Deps
	logger *slog.Logger
}

func NewHandler(hub *Hub, deps Deps, logger *slog.Logger) *Handler {
	return &Handler{hub: hub, deps: deps, logger: logger}
}

// ServeHTTP expects auth middleware to have placed the session in the
// request context. household_id selects the household once the user lands
// in the main app.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ac, ok := auth.FromContext(r.Context())
	if !ok || ac.Session == nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		json.NewEncoder(w).Encode(map[string]string{"error": "unauthorized"})
		return
	}

	// The server's write timeout would otherwise cut long-lived connections.
	http.NewResponseController(w).SetWriteDeadline(time.Time{})

	conn, err := ws.Accept(w, r, &ws.AcceptOptions{
		OriginPatterns: h.deps.OriginPatterns,
	})
	if err != nil {
		h.logger.Warn("websocket accept", "error", err)
		return
	}
	defer conn.CloseNow()

	c, err := h.newClient(conn, ac.Session, r.URL.Query().Get("household_id"))
	if err != nil {
		h.logger.Error("websocket client", "error", err)
		conn.Close(ws.StatusInternalError, "internal error")
		return
	}
	c.Run(r.Context())
}

func (h *Handler) newClient(conn *ws.Conn, sess *model.Session, wantHousehold string) (*Client, error) {
	logger := h.logger.With("user_id", sess.UserID)
	c := &Client{
		hub:           h.hub,
		conn:          conn,
		logger:        logger,
		session:       sess,
		now:           time.Now,
		pantry:        pantry.NewManager(h.deps.Pantry, h.deps.PantryMirror, logger),
		shopping:      shopping.NewManager(h.deps.Shopping, h.deps.ShoppingMirror),
		feed:          activity.NewFeed(h.deps.ActivityMirror),
		box:           newOutbox(),
		wantHousehold: wantHousehold,
	}
	c.pantry.OnChange(c.onPantry)
	c.shopping.OnChange(c.onShopping)
	c.feed.OnChange(c.onActivity)

	cfg := bootstrap.Config{
		Loader:      h.deps.Households,
		KV:          h.deps.KV,
		SlowAfter:   h.deps.SlowAfter,
		OnDecision:  c.onDecision,
		OnSlow:      c.onSlow,
		OnHousehold: c.onHousehold,
		Logger:      logger,
	}
	if h.deps.SignOut != nil {
		cfg.SignOut = func(ctx context.Context) error {
			return h.deps.SignOut(ctx, sess)
		}
	}
	m, err := bootstrap.New(cfg)
	if err != nil {
		return nil, err
	}
	c.machine = m
	return c, nil
}
