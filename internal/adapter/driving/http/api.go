package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/Wyydra/learnloop/internal/core/domain"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/hlog"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func limitParam(r *http.Request) (int, error) {
	v := r.URL.Query().Get("limit")
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, errors.New("limit must be a non-negative integer")
	}
	return n, nil
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":      "ok",
		"connections": h.Hub.Online(),
	})
}

func (h *Handler) ListRooms(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.CallService.Rooms())
}

func (h *Handler) ListCalls(w http.ResponseWriter, r *http.Request) {
	limit, err := limitParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	exchangeID := domain.ExchangeID(chi.URLParam(r, "exchangeID"))
	calls, err := h.CallService.History(r.Context(), exchangeID, limit)
	if err != nil {
		hlog.FromRequest(r).Error().Err(err).Msg("Failed to list calls")
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if calls == nil {
		calls = []domain.CallRecord{}
	}
	writeJSON(w, http.StatusOK, calls)
}

func (h *Handler) GetCall(w http.ResponseWriter, r *http.Request) {
	id, err := domain.ParseCallID(chi.URLParam(r, "callID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	rec, err := h.CallService.Record(r.Context(), id)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, err)
	case err != nil:
		hlog.FromRequest(r).Error().Err(err).Msg("Failed to load call")
		writeError(w, http.StatusInternalServerError, err)
	default:
		writeJSON(w, http.StatusOK, rec)
	}
}

func (h *Handler) ListMessages(w http.ResponseWriter, r *http.Request) {
	limit, err := limitParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	roomID := domain.RoomID(chi.URLParam(r, "roomID"))
	msgs, err := h.ChatService.History(r.Context(), roomID, limit)
	if err != nil {
		hlog.FromRequest(r).Error().Err(err).Msg("Failed to list messages")
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	out := make([]domain.ChatMessagePayload, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, domain.NewChatMessagePayload(m))
	}
	writeJSON(w, http.StatusOK, out)
}
