package server

import (
	"database/sql"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/dukerupert/pantrysync/internal/activity"
	"github.com/dukerupert/pantrysync/internal/capture"
	"github.com/dukerupert/pantrysync/internal/config"
	"github.com/dukerupert/pantrysync/internal/email"
	"github.com/dukerupert/pantrysync/internal/handler"
	"github.com/dukerupert/pantrysync/internal/household"
	"github.com/dukerupert/pantrysync/internal/identity"
	"github.com/dukerupert/pantrysync/internal/images"
	"github.com/dukerupert/pantrysync/internal/livequery"
	"github.com/dukerupert/pantrysync/internal/middleware"
	"github.com/dukerupert/pantrysync/internal/obs"
	"github.com/dukerupert/pantrysync/internal/pantry"
	"github.com/dukerupert/pantrysync/internal/push"
	"github.com/dukerupert/pantrysync/internal/shopping"
	"github.com/dukerupert/pantrysync/internal/store"
	ws "github.com/dukerupert/pantrysync/internal/websocket"
)

// Sign-in and sign-up attempts allowed per client IP each minute.
const authRateLimit = 10

type Server struct {
	db          *sql.DB
	hub         *ws.Hub
	identity    *identity.Service
	directory   *household.Directory
	authH       *handler.AuthHandler
	householdH  *handler.HouseholdHandler
	pantryH     *handler.PantryHandler
	shoppingH   *handler.ShoppingHandler
	activityH   *handler.ActivityHandler
	pushH       *handler.PushHandler
	captureH    *capture.Handler
	wsH         *ws.Handler
	sessions    *store.SessionStore
	pushStore   *store.PushStore
	rateLimiter *middleware.RateLimiter
	scheduler   *push.Scheduler
	unsubscribe func()
	closeOnce   sync.Once
	logger      *slog.Logger
}

func New(cfg *config.Config, db *sql.DB, logger *slog.Logger) (*Server, error) {
	broker := livequery.NewBroker(logger.With("component", "livequery"))

	userStore := store.NewUserStore(db)
	sessionStore := store.NewSessionStore(db)
	householdStore := store.NewHouseholdStore(db, broker)
	activityStore := store.NewActivityStore(db, broker)
	pantryStore := store.NewPantryStore(db, broker)
	shoppingStore := store.NewShoppingStore(db, broker)
	pushStore := store.NewPushStore(db)

	ident, err := identity.NewService(userStore, sessionStore, identity.Config{
		Secret:   []byte(cfg.Auth.Secret),
		TokenTTL: cfg.Auth.TokenTTL,
	}, logger.With("component", "identity"))
	if err != nil {
		return nil, err
	}

	directory := household.NewDirectory(householdStore, activityStore, logger.With("component", "household"))
	pantrySvc := pantry.NewService(pantryStore, activityStore, logger.With("component", "pantry"))
	shoppingSvc := shopping.NewService(shoppingStore, activityStore, logger.With("component", "shopping"))
	emailClient := email.NewClient(cfg.Email.PostmarkToken, cfg.Email.From, cfg.BaseURL)

	pushCfg := push.Config{
		VAPIDPublicKey:  cfg.Push.VAPIDPublicKey,
		VAPIDPrivateKey: cfg.Push.VAPIDPrivateKey,
	}
	if cfg.Email.From != "" {
		pushCfg.Subscriber = "mailto:" + cfg.Email.From
	}
	pushSvc := push.NewService(pushCfg)
	var scheduler *push.Scheduler
	if pushSvc.Enabled() {
		scheduler = push.NewScheduler(pushSvc, pushStore, pantryStore, cfg.Push.Interval, logger.With("component", "push"))
	}

	hub := ws.NewHub(logger.With("component", "websocket"))
	wsH := ws.NewHandler(hub, ws.Deps{
		Households:     directory,
		KV:             store.NewSettingsStore(db),
		SignOut:        ident.SignOut,
		Pantry:         pantrySvc,
		PantryMirror:   pantry.NewMirror(broker, pantryStore, logger.With("component", "pantry_mirror")),
		Shopping:       shoppingSvc,
		ShoppingMirror: shopping.NewMirror(broker, shoppingStore, logger.With("component", "shopping_mirror")),
		ActivityMirror: activity.NewMirror(broker, activityStore, logger.With("component", "activity_mirror")),
		SlowAfter:      cfg.Bootstrap.SlowAfter,
		OriginPatterns: originPatterns(cfg.BaseURL),
	}, logger.With("component", "websocket"))

	return &Server{
		db:          db,
		hub:         hub,
		identity:    ident,
		directory:   directory,
		authH:       handler.NewAuthHandler(ident, logger.With("component", "auth")),
		householdH:  handler.NewHouseholdHandler(directory, emailClient, logger.With("component", "household_handler")),
		pantryH:     handler.NewPantryHandler(pantrySvc, images.New(cfg.Images), logger.With("component", "pantry_handler")),
		shoppingH:   handler.NewShoppingHandler(shoppingSvc, logger.With("component", "shopping_handler")),
		activityH:   handler.NewActivityHandler(activityStore, logger.With("component", "activity_handler")),
		pushH:       handler.NewPushHandler(pushStore, pushSvc, directory, logger.With("component", "push_handler")),
		captureH:    capture.NewHandler(cfg.Capture.Delay, logger.With("component", "capture")),
		wsH:         wsH,
		sessions:    sessionStore,
		pushStore:   pushStore,
		rateLimiter: middleware.NewRateLimiter(authRateLimit, time.Minute),
		scheduler:   scheduler,
		unsubscribe: ident.OnSessionChange(hub.SessionChanged),
		logger:      logger,
	}, nil
}

// originPatterns allows the public origin to open live connections.
func originPatterns(baseURL string) []string {
	u, err := url.Parse(baseURL)
	if err != nil || u.Host == "" {
		return nil
	}
	return []string{u.Host}
}

// SessionStore returns the session store for cleanup tasks.
func (s *Server) SessionStore() *store.SessionStore {
	return s.sessions
}

// Identity returns the identity service for cleanup tasks.
func (s *Server) Identity() *identity.Service {
	return s.identity
}

// RateLimiter returns the rate limiter for cleanup tasks.
func (s *Server) RateLimiter() *middleware.RateLimiter {
	return s.rateLimiter
}

// PushScheduler returns the alert scheduler, or nil when push is disabled.
func (s *Server) PushScheduler() *push.Scheduler {
	return s.scheduler
}

// PushStore returns the push store for cleanup tasks.
func (s *Server) PushStore() *store.PushStore {
	return s.pushStore
}

// Close disconnects live clients and stops session fan-out. It is safe to
// call more than once.
func (s *Server) Close() {
	s.closeOnce.Do(func() {
		s.unsubscribe()
		s.hub.Close()
	})
}

func (s *Server) Router() http.Handler {
	outerMux := http.NewServeMux()

	// Public routes
	s.handle(outerMux, "POST /api/auth/signup", s.rateLimited(s.authH.SignUp))
	s.handle(outerMux, "POST /api/auth/signin", s.rateLimited(s.authH.SignIn))
	s.handle(outerMux, "/api/capture-inventory", s.captureH)
	outerMux.HandleFunc("GET /health", s.healthHandler)
	outerMux.Handle("GET /metrics", obs.Handler())

	protectedMux := http.NewServeMux()
	s.registerProtectedRoutes(protectedMux)

	authMiddleware := middleware.RequireAuth(s.identity, s.logger.With("component", "auth_middleware"))
	outerMux.Handle("/", authMiddleware(protectedMux))

	return middleware.RequestLogger(s.logger.With("component", "http"))(outerMux)
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	status, code := "ok", http.StatusOK
	if err := s.db.PingContext(r.Context()); err != nil {
		status, code = "unavailable", http.StatusServiceUnavailable
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"status": status})
}

func (s *Server) handle(mux *http.ServeMux, pattern string, h http.Handler) {
	mux.Handle(pattern, obs.Instrument(pattern, h))
}

func (s *Server) rateLimited(h http.HandlerFunc) http.Handler {
	return middleware.RateLimit(s.rateLimiter, middleware.RealIP)(h)
}

func (s *Server) registerProtectedRoutes(mux *http.ServeMux) {
	member := middleware.RequireMember(s.directory)
	inHousehold := func(pattern string, h http.HandlerFunc) {
		s.handle(mux, pattern, member(h))
	}
	adminOnly := func(pattern string, h http.HandlerFunc) {
		s.handle(mux, pattern, member(middleware.RequireAdmin(h)))
	}

	// Account
	s.handle(mux, "POST /api/auth/signout", http.HandlerFunc(s.authH.SignOut))
	s.handle(mux, "PUT /api/auth/profile", http.HandlerFunc(s.authH.UpdateProfile))

	// Households
	s.handle(mux, "GET /api/households", http.HandlerFunc(s.householdH.List))
	s.handle(mux, "POST /api/households", http.HandlerFunc(s.householdH.Create))
	s.handle(mux, "POST /api/households/join", http.HandlerFunc(s.householdH.Join))
	adminOnly("PUT /api/households/{id}", s.householdH.Update)
	adminOnly("PUT /api/households/{id}/members/{user_id}/role", s.householdH.UpdateRole)
	adminOnly("DELETE /api/households/{id}/members/{user_id}", s.householdH.RemoveMember)
	adminOnly("POST /api/households/{id}/invite", s.householdH.Invite)

	// Pantry
	inHousehold("GET /api/households/{id}/pantry", s.pantryH.List)
	inHousehold("POST /api/households/{id}/pantry", s.pantryH.Create)
	inHousehold("POST /api/households/{id}/pantry/bulk", s.pantryH.Bulk)
	inHousehold("GET /api/households/{id}/pantry/alerts", s.pantryH.Alerts)
	inHousehold("PUT /api/households/{id}/pantry/{item_id}", s.pantryH.Update)
	inHousehold("DELETE /api/households/{id}/pantry/{item_id}", s.pantryH.Delete)
	inHousehold("POST /api/households/{id}/pantry/{item_id}/image", s.pantryH.UploadImage)

	// Shopping lists
	inHousehold("GET /api/households/{id}/shopping-lists", s.shoppingH.ListLists)
	inHousehold("POST /api/households/{id}/shopping-lists", s.shoppingH.CreateList)
	inHousehold("DELETE /api/households/{id}/shopping-lists/{list_id}", s.shoppingH.DeleteList)
	inHousehold("POST /api/households/{id}/shopping-lists/{list_id}/items", s.shoppingH.AddItem)
	inHousehold("PUT /api/households/{id}/shopping-lists/{list_id}/items/{item_id}", s.shoppingH.UpdateItem)
	inHousehold("DELETE /api/households/{id}/shopping-lists/{list_id}/items/{item_id}", s.shoppingH.RemoveItem)

	// Activity
	inHousehold("GET /api/households/{id}/activity", s.activityH.List)

	// Push notifications
	s.handle(mux, "POST /api/push/subscribe", http.HandlerFunc(s.pushH.Subscribe))
	s.handle(mux, "POST /api/push/unsubscribe", http.HandlerFunc(s.pushH.Unsubscribe))
	s.handle(mux, "GET /api/push/vapid-key", http.HandlerFunc(s.pushH.GetVAPIDKey))

	// WebSocket
	mux.Handle("GET /ws", s.wsH)
}
