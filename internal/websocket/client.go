package websocket

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	ws "github.com/coder/websocket"

	"github.com/dukerupert/pantrysync/internal/activity"
	"github.com/dukerupert/pantrysync/internal/bootstrap"
	"github.com/dukerupert/pantrysync/internal/model"
	"github.com/dukerupert/pantrysync/internal/pantry"
	"github.com/dukerupert/pantrysync/internal/shopping"
)

const (
	pingInterval = 30 * time.Second
	writeTimeout = 10 * time.Second
	readLimit    = 4096
)

// outbox keeps the newest unsent message per type, in first-queued order.
type outbox struct {
	mu      sync.Mutex
	pending map[string][]byte
	order   []string
	wake    chan struct{}
}

func newOutbox() *outbox {
	return &outbox{
		pending: make(map[string][]byte),
		wake:    make(chan struct{}, 1),
	}
}

func (o *outbox) put(typ string, data []byte) {
	o.mu.Lock()
	if _, ok := o.pending[typ]; !ok {
		o.order = append(o.order, typ)
	}
	o.pending[typ] = data
	o.mu.Unlock()

	select {
	case o.wake <- struct{}{}:
	default:
	}
}

func (o *outbox) take() [][]byte {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([][]byte, 0, len(o.order))
	for _, typ := range o.order {
		out = append(out, o.pending[typ])
	}
	o.pending = make(map[string][]byte)
	o.order = nil
	return out
}

// command is a client-to-server frame.
type command struct {
	Type        string `json:"type"`
	HouseholdID string `json:"householdId,omitempty"`
	Group       string `json:"group,omitempty"`
}

// Client is one live connection. It runs its own bootstrap machine for the
// connection's session and mirrors the current household's pantry,
// shopping lists and activity log.
type Client struct {
	hub     *Hub
	conn    *ws.Conn
	logger  *slog.Logger
	session *model.Session
	now     func() time.Time

	machine  *bootstrap.Machine
	pantry   *pantry.Manager
	shopping *shopping.Manager
	feed     *activity.Feed

	box *outbox

	mu            sync.Mutex
	group         string
	wantHousehold string
}

func (c *Client) send(typ string, data any) {
	msg, err := json.Marshal(Message{Type: typ, Data: data})
	if err != nil {
		c.logger.Error("marshal message", "type", typ, "error", err)
		return
	}
	c.box.put(typ, msg)
}

func (c *Client) sendError(err error) {
	c.send(TypeError, map[string]string{"error": err.Error()})
}

// Run starts the machine, then pumps frames until the connection closes.
func (c *Client) Run(ctx context.Context) {
	c.hub.Register(c)
	defer c.hub.Unregister(c)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	defer c.shutdown()

	c.machine.SetSession(c.session)
	c.machine.Start()

	go c.writePump(ctx, cancel)
	c.readPump(ctx)
}

func (c *Client) shutdown() {
	c.machine.Close()
	c.pantry.Close()
	c.shopping.Close()
	c.feed.Close()
}

// sessionEnded is called when the connection's session is revoked elsewhere.
func (c *Client) sessionEnded() {
	c.machine.SetSession(nil)
}

func (c *Client) onDecision(d bootstrap.Decision) {
	frame := map[string]any{
		"destination":   d.Destination,
		"trigger":       d.Trigger,
		"epoch":         d.Epoch,
		"household":     d.Household,
		"firstTimeUser": c.machine.FirstTimeUser(),
	}
	if kind, err := c.machine.LoadError(); err != nil {
		frame["loadError"] = bootstrap.LoadErrorMessage(kind)
	}
	c.send(TypeDecision, frame)

	if d.Destination != bootstrap.MainApp {
		return
	}
	c.mu.Lock()
	want := c.wantHousehold
	c.wantHousehold = ""
	c.mu.Unlock()
	if want != "" && (d.Household == nil || d.Household.ID != want) {
		if err := c.machine.SwitchHousehold(want); err != nil {
			c.sendError(err)
		}
	}
}

func (c *Client) onSlow(s bootstrap.State) {
	c.send(TypeSlow, map[string]string{"state": s.String()})
}

// onHousehold repoints every mirror at the new household; nil clears them.
func (c *Client) onHousehold(h *model.Household) {
	id := ""
	if h != nil {
		id = h.ID
	}
	c.send(TypeHousehold, h)

	if err := c.pantry.SetHousehold(id); err != nil {
		c.logger.Error("mirror pantry", "household_id", id, "error", err)
	}
	if err := c.shopping.SetHousehold(id); err != nil {
		c.logger.Error("mirror shopping lists", "household_id", id, "error", err)
	}
	if err := c.feed.SetHousehold(id); err != nil {
		c.logger.Error("mirror activity", "household_id", id, "error", err)
	}
}

func (c *Client) onPantry(items []model.PantryItem) {
	c.send(TypePantry, map[string]any{
		"householdId": c.pantry.HouseholdID(),
		"items":       items,
		"alerts":      pantry.ComputeAlerts(items, c.now()),
	})
}

func (c *Client) onShopping(lists []model.ShoppingList) {
	c.send(TypeShopping, map[string]any{
		"householdId": c.shopping.HouseholdID(),
		"lists":       lists,
	})
}

func (c *Client) onActivity([]model.Activity) {
	c.sendActivity()
}

func (c *Client) sendActivity() {
	c.mu.Lock()
	group := c.group
	c.mu.Unlock()
	c.send(TypeActivity, map[string]any{
		"group":  group,
		"groups": c.feed.Grouped(group),
	})
}

func (c *Client) handle(ctx context.Context, cmd command) {
	switch cmd.Type {
	case "switch_household":
		if err := c.machine.SwitchHousehold(cmd.HouseholdID); err != nil {
			c.sendError(err)
		}
	case "reload":
		c.machine.Reload()
	case "dismiss_error":
		c.machine.ClearError()
	case "activity_filter":
		c.mu.Lock()
		c.group = cmd.Group
		c.mu.Unlock()
		c.sendActivity()
	case "sign_out":
		c.machine.ForceSignOut(ctx)
	default:
		c.logger.Debug("unknown command", "type", cmd.Type)
	}
}

// readPump decodes commands until the connection closes.
func (c *Client) readPump(ctx context.Context) {
	c.conn.SetReadLimit(readLimit)
	for {
		_, data, err := c.conn.Read(ctx)
		if err != nil {
			return
		}
		var cmd command
		if err := json.Unmarshal(data, &cmd); err != nil {
			c.logger.Debug("malformed command", "error", err)
			continue
		}
		c.handle(ctx, cmd)
	}
}

// writePump flushes the outbox and pings to detect stale connections.
func (c *Client) writePump(ctx context.Context, cancel context.CancelFunc) {
	defer cancel()
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.box.wake:
			for _, msg := range c.box.take() {
				if err := c.write(ctx, msg); err != nil {
					return
				}
			}
		case <-ticker.C:
			if err := c.conn.Ping(ctx); err != nil {
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

func (c *Client) write(ctx context.Context, msg []byte) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return c.conn.Write(ctx, ws.MessageText, msg)
}
