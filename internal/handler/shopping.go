package handler

import (
	"log/slog"
	"net/http"

	"github.com/dukerupert/pantrysync/internal/auth"
	"github.com/dukerupert/pantrysync/internal/shopping"
)

type ShoppingHandler struct {
	svc    *shopping.Service
	logger *slog.Logger
}

func NewShoppingHandler(svc *shopping.Service, logger *slog.Logger) *ShoppingHandler {
	return &ShoppingHandler{svc: svc, logger: logger}
}

// ListLists handles GET /api/households/{id}/shopping-lists
func (h *ShoppingHandler) ListLists(w http.ResponseWriter, r *http.Request) {
	lists, err := h.svc.Lists(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, h.logger, "list shopping lists", err)
		return
	}
	writeJSON(w, http.StatusOK, emptyIfNil(lists))
}

type createListRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// CreateList handles POST /api/households/{id}/shopping-lists
func (h *ShoppingHandler) CreateList(w http.ResponseWriter, r *http.Request) {
	var req createListRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	l, err := h.svc.CreateList(r.Context(), r.PathValue("id"), auth.Actor(r.Context()), req.Name, req.Description)
	if err != nil {
		writeError(w, h.logger, "create shopping list", err)
		return
	}
	writeJSON(w, http.StatusCreated, l)
}

// DeleteList handles DELETE /api/households/{id}/shopping-lists/{list_id}
func (h *ShoppingHandler) DeleteList(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.DeleteList(r.Context(), r.PathValue("id"), r.PathValue("list_id")); err != nil {
		writeError(w, h.logger, "delete shopping list", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// AddItem handles POST /api/households/{id}/shopping-lists/{list_id}/items.
// A missing category is filled in from the item name.
func (h *ShoppingHandler) AddItem(w http.ResponseWriter, r *http.Request) {
	var req shopping.ItemInput
	if !decodeJSON(w, r, &req) {
		return
	}

	item, err := h.svc.AddItem(r.Context(), r.PathValue("id"), r.PathValue("list_id"), auth.Actor(r.Context()), req)
	if err != nil {
		writeError(w, h.logger, "add shopping item", err)
		return
	}
	writeJSON(w, http.StatusCreated, item)
}

// UpdateItem handles PUT /api/households/{id}/shopping-lists/{list_id}/items/{item_id}
func (h *ShoppingHandler) UpdateItem(w http.ResponseWriter, r *http.Request) {
	var req shopping.ItemPatch
	if !decodeJSON(w, r, &req) {
		return
	}

	item, err := h.svc.UpdateItem(r.Context(), r.PathValue("id"), r.PathValue("list_id"), r.PathValue("item_id"), auth.Actor(r.Context()), req)
	if err != nil {
		writeError(w, h.logger, "update shopping item", err)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

// RemoveItem handles DELETE /api/households/{id}/shopping-lists/{list_id}/items/{item_id}
func (h *ShoppingHandler) RemoveItem(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.RemoveItem(r.Context(), r.PathValue("id"), r.PathValue("list_id"), r.PathValue("item_id")); err != nil {
		writeError(w, h.logger, "remove shopping item", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
