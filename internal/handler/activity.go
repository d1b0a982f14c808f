package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/dukerupert/pantrysync/internal/activity"
	"github.com/dukerupert/pantrysync/internal/apperr"
	"github.com/dukerupert/pantrysync/internal/model"
	"github.com/dukerupert/pantrysync/internal/store"
)

type ActivityHandler struct {
	activities *store.ActivityStore
	logger     *slog.Logger
	now        func() time.Time
}

func NewActivityHandler(as *store.ActivityStore, logger *slog.Logger) *ActivityHandler {
	return &ActivityHandler{activities: as, logger: logger, now: time.Now}
}

// activityEntry adds the relative timestamp shown in the feed.
type activityEntry struct {
	model.Activity
	When string `json:"when"`
}

type activityGroup struct {
	Label   string          `json:"label"`
	Entries []activityEntry `json:"entries"`
}

// List handles GET /api/households/{id}/activity?filter=Pantry|Shopping|Members.
// Entries come newest first, grouped by day.
func (h *ActivityHandler) List(w http.ResponseWriter, r *http.Request) {
	entries, err := h.activities.ListByHousehold(r.Context(), r.PathValue("id"), store.DefaultActivityLimit)
	if err != nil {
		writeError(w, h.logger, "list activity", apperr.Unavailable("list activity", err))
		return
	}

	now := h.now()
	groups := activity.GroupByDay(activity.Filter(entries, r.URL.Query().Get("filter")), now)
	out := make([]activityGroup, 0, len(groups))
	for _, g := range groups {
		ag := activityGroup{Label: g.Label, Entries: make([]activityEntry, 0, len(g.Entries))}
		for _, a := range g.Entries {
			ag.Entries = append(ag.Entries, activityEntry{Activity: a, When: activity.RelativeTime(a.CreatedAt, now)})
		}
		out = append(out, ag)
	}
	writeJSON(w, http.StatusOK, out)
}
