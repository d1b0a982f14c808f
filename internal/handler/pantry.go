package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/dukerupert/pantrysync/internal/auth"
	"github.com/dukerupert/pantrysync/internal/images"
	"github.com/dukerupert/pantrysync/internal/pantry"
)

type PantryHandler struct {
	svc    *pantry.Service
	images *images.Store
	logger *slog.Logger
	now    func() time.Time
}

func NewPantryHandler(svc *pantry.Service, img *images.Store, logger *slog.Logger) *PantryHandler {
	return &PantryHandler{svc: svc, images: img, logger: logger, now: time.Now}
}

// List handles GET /api/households/{id}/pantry. Optional search and
// category query parameters narrow the result.
func (h *PantryHandler) List(w http.ResponseWriter, r *http.Request) {
	items, err := h.svc.List(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, h.logger, "list pantry", err)
		return
	}
	q := r.URL.Query()
	writeJSON(w, http.StatusOK, pantry.Filter(items, q.Get("search"), q.Get("category")))
}

// Create handles POST /api/households/{id}/pantry
func (h *PantryHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req pantry.ItemFields
	if !decodeJSON(w, r, &req) {
		return
	}

	item, err := h.svc.Add(r.Context(), r.PathValue("id"), auth.Actor(r.Context()), req)
	if err != nil {
		writeError(w, h.logger, "add pantry item", err)
		return
	}
	writeJSON(w, http.StatusCreated, item)
}

type bulkRequest struct {
	Items []pantry.ItemFields `json:"items"`
}

// Bulk handles POST /api/households/{id}/pantry/bulk, used to confirm
// captured items. A partial write reports the items that were added.
func (h *PantryHandler) Bulk(w http.ResponseWriter, r *http.Request) {
	var req bulkRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	added, err := h.svc.AddDetected(r.Context(), r.PathValue("id"), auth.Actor(r.Context()), req.Items)
	if err != nil && len(added) == 0 {
		writeError(w, h.logger, "add detected items", err)
		return
	}
	if err != nil {
		h.logger.Error("add detected items", "added", len(added), "requested", len(req.Items), "error", err)
		writeJSON(w, http.StatusMultiStatus, map[string]any{
			"items": added,
			"error": "some items could not be saved",
		})
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"items": added})
}

// Update handles PUT /api/households/{id}/pantry/{item_id}
func (h *PantryHandler) Update(w http.ResponseWriter, r *http.Request) {
	var req pantry.ItemPatch
	if !decodeJSON(w, r, &req) {
		return
	}

	item, err := h.svc.Update(r.Context(), r.PathValue("id"), r.PathValue("item_id"), auth.Actor(r.Context()), req)
	if err != nil {
		writeError(w, h.logger, "update pantry item", err)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

// Delete handles DELETE /api/households/{id}/pantry/{item_id}. The item's
// photo is removed best-effort.
func (h *PantryHandler) Delete(w http.ResponseWriter, r *http.Request) {
	householdID, itemID := r.PathValue("id"), r.PathValue("item_id")

	item, err := h.svc.Get(r.Context(), householdID, itemID)
	if err != nil {
		writeError(w, h.logger, "delete pantry item", err)
		return
	}
	if err := h.svc.Delete(r.Context(), householdID, itemID, auth.Actor(r.Context())); err != nil {
		writeError(w, h.logger, "delete pantry item", err)
		return
	}
	h.removeImage(r, item.ImageURL)
	w.WriteHeader(http.StatusNoContent)
}

// UploadImage handles POST /api/households/{id}/pantry/{item_id}/image with
// a multipart "image" field.
func (h *PantryHandler) UploadImage(w http.ResponseWriter, r *http.Request) {
	householdID, itemID := r.PathValue("id"), r.PathValue("item_id")

	r.Body = http.MaxBytesReader(w, r.Body, images.MaxSize+(64<<10))
	if err := r.ParseMultipartForm(images.MaxSize); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "image too large or malformed upload"})
		return
	}
	file, header, err := r.FormFile("image")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "image field is required"})
		return
	}
	defer file.Close()

	if _, err := h.svc.Get(r.Context(), householdID, itemID); err != nil {
		writeError(w, h.logger, "upload image", err)
		return
	}

	url, err := h.images.Upload(r.Context(), householdID, itemID, header.Header.Get("Content-Type"), file, header.Size)
	if errors.Is(err, images.ErrNotConfigured) {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "image storage is not configured"})
		return
	}
	if err != nil {
		writeError(w, h.logger, "upload image", err)
		return
	}

	previous, err := h.svc.SetImage(r.Context(), householdID, itemID, url)
	if err != nil {
		h.removeImage(r, url)
		writeError(w, h.logger, "set pantry image", err)
		return
	}
	h.removeImage(r, previous)
	writeJSON(w, http.StatusOK, map[string]string{"image_url": url})
}

func (h *PantryHandler) removeImage(r *http.Request, url string) {
	if url == "" {
		return
	}
	err := h.images.Delete(r.Context(), url)
	if err != nil && !errors.Is(err, images.ErrNotConfigured) {
		h.logger.Warn("delete pantry image", "url", url, "error", err)
	}
}

// Alerts handles GET /api/households/{id}/pantry/alerts
func (h *PantryHandler) Alerts(w http.ResponseWriter, r *http.Request) {
	items, err := h.svc.List(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, h.logger, "pantry alerts", err)
		return
	}
	writeJSON(w, http.StatusOK, pantry.ComputeAlerts(items, h.now()))
}
