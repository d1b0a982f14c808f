// Package capture serves the demo inventory capture endpoint. It accepts a
// photo and, after a simulated processing delay, answers with a fixed list
// of detected pantry items. No image processing takes place.
package capture

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/dukerupert/pantrysync/internal/images"
)

// DefaultDelay is the simulated processing time.
const DefaultDelay = 2 * time.Second

// MaxBodySize caps a capture request: a base64 photo at the upload limit
// plus room for the other fields.
const MaxBodySize = images.MaxSize*4/3 + 64<<10

// DetectedItem is one item the capture "recognized".
type DetectedItem struct {
	Name       string  `json:"name"`
	Category   string  `json:"category"`
	Quantity   float64 `json:"quantity"`
	Unit       string  `json:"unit"`
	Confidence float64 `json:"confidence"`
}

// MockItems is the canned detection result.
var MockItems = []DetectedItem{
	{Name: "Organic Milk", Category: "Dairy", Quantity: 1, Unit: "bottle", Confidence: 0.95},
	{Name: "Whole Wheat Bread", Category: "Bakery", Quantity: 1, Unit: "loaf", Confidence: 0.88},
	{Name: "Fresh Bananas", Category: "Fruits", Quantity: 6, Unit: "pieces", Confidence: 0.92},
	{Name: "Greek Yogurt", Category: "Dairy", Quantity: 2, Unit: "cups", Confidence: 0.85},
	{Name: "Chicken Breast", Category: "Meat", Quantity: 1, Unit: "package", Confidence: 0.90},
}

type Request struct {
	Image       string `json:"image"`
	HouseholdID string `json:"householdId"`
}

type Response struct {
	Success        bool           `json:"success"`
	Items          []DetectedItem `json:"items,omitempty"`
	Message        string         `json:"message,omitempty"`
	ProcessingTime string         `json:"processingTime,omitempty"`
	Error          string         `json:"error,omitempty"`
}

// Handler serves GET, POST and OPTIONS on the capture route.
type Handler struct {
	delay  time.Duration
	logger *slog.Logger
}

func NewHandler(delay time.Duration, logger *slog.Logger) *Handler {
	if delay < 0 {
		delay = 0
	}
	return &Handler{delay: delay, logger: logger}
}

func setCORS(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	setCORS(w)
	switch r.Method {
	case http.MethodOptions:
		w.WriteHeader(http.StatusOK)
	case http.MethodGet:
		h.describe(w)
	case http.MethodPost:
		h.capture(w, r)
	default:
		w.Header().Set("Allow", "GET, POST, OPTIONS")
		writeJSON(w, http.StatusMethodNotAllowed, Response{Error: "method not allowed"})
	}
}

func (h *Handler) describe(w http.ResponseWriter) {
	writeJSON(w, http.StatusOK, map[string]any{
		"message":     "Inventory capture API endpoint",
		"methods":     []string{"POST"},
		"description": "Upload an image to detect pantry items using AI vision",
		"status":      "active",
	})
}

func (h *Handler) capture(w http.ResponseWriter, r *http.Request) {
	var req Request
	r.Body = http.MaxBytesReader(w, r.Body, MaxBodySize)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.logger.Warn("capture request too large", "limit", tooLarge.Limit)
			writeJSON(w, http.StatusRequestEntityTooLarge, Response{Error: "Image is too large"})
			return
		}
		h.logger.Warn("capture request undecodable", "error", err)
		writeJSON(w, http.StatusInternalServerError, Response{Error: "Failed to process inventory capture"})
		return
	}
	if req.Image == "" || req.HouseholdID == "" {
		h.logger.Info("capture request missing fields",
			"has_image", req.Image != "", "has_household_id", req.HouseholdID != "")
		writeJSON(w, http.StatusBadRequest, Response{Error: "Missing image or householdId"})
		return
	}

	start := time.Now()
	if h.delay > 0 {
		t := time.NewTimer(h.delay)
		defer t.Stop()
		select {
		case <-t.C:
		case <-r.Context().Done():
			return
		}
	}

	items := make([]DetectedItem, len(MockItems))
	copy(items, MockItems)
	h.logger.Info("capture processed", "household_id", req.HouseholdID, "items", len(items))
	writeJSON(w, http.StatusOK, Response{
		Success:        true,
		Items:          items,
		Message:        fmt.Sprintf("Successfully detected %d items", len(items)),
		ProcessingTime: fmt.Sprintf("%.1fs", time.Since(start).Seconds()),
	})
}
