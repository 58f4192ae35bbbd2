package handler

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/safetyhub/internal/model"
	"github.com/safetyhub/internal/storage"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

// ReportsHandler: чтение заявлений, рейтингов и журнала SOS из хранилища.
type ReportsHandler struct {
	store storage.Store
}

func NewReportsHandler(store storage.Store) *ReportsHandler {
	return &ReportsHandler{store: store}
}

// PlaceRating: GET /api/places/{placeID}/rating.
func (h *ReportsHandler) PlaceRating(w http.ResponseWriter, r *http.Request) {
	placeID := chi.URLParam(r, "placeID")
	rating, err := h.store.PlaceRating(r.Context(), placeID)
	if errors.Is(err, storage.ErrNotFound) {
		writeError(w, http.StatusNotFound, "no ratings for place")
		return
	}
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rating)
}

// Reports: GET /api/reports?kind=efir&limit=20, newest first.
func (h *ReportsHandler) Reports(w http.ResponseWriter, r *http.Request) {
	kind := model.ReportKind(r.URL.Query().Get("kind"))
	switch kind {
	case "", model.ReportEFIR, model.ReportRating, model.ReportFeedback:
	default:
		writeError(w, http.StatusBadRequest, "unknown report kind")
		return
	}
	reports, err := h.store.Reports(r.Context(), kind, queryInt(r, "limit", defaultListLimit, maxListLimit))
	if err != nil {
		writeFailure(w, err)
		return
	}
	if reports == nil {
		reports = []model.Report{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"reports": reports})
}

// SOSHistory: GET /api/sos/history?limit=50, newest first, resolved included.
func (h *ReportsHandler) SOSHistory(w http.ResponseWriter, r *http.Request) {
	history, err := h.store.SOSHistory(r.Context(), queryInt(r, "limit", defaultListLimit, maxListLimit))
	if err != nil {
		writeFailure(w, err)
		return
	}
	if history == nil {
		history = []model.SOSSignal{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"sos": history})
}
