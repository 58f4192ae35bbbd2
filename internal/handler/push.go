package handler

import (
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/safetyhub/internal/model"
	"github.com/safetyhub/internal/storage"
)

// PushHandler обрабатывает подписку туриста на Web Push.
type PushHandler struct {
	store     storage.Store
	publicKey string
	validate  *validator.Validate
}

// NewPushHandler создаёт обработчик push. Пустой publicKey: пуши выключены.
func NewPushHandler(store storage.Store, publicKey string) *PushHandler {
	return &PushHandler{store: store, publicKey: publicKey, validate: newValidator()}
}

// VAPIDPublic возвращает публичный VAPID-ключ для PushManager.subscribe.
func (h *PushHandler) VAPIDPublic(w http.ResponseWriter, r *http.Request) {
	if h.publicKey == "" {
		writeJSON(w, http.StatusOK, map[string]any{"enabled": false})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"enabled":          true,
		"vapid_public_key": h.publicKey,
	})
}

// SubscribeRequest: subject_id и subscription из PushManager.getSubscription().
type SubscribeRequest struct {
	SubjectID    string                 `json:"subject_id" validate:"required,max=128"`
	Subscription model.PushSubscription `json:"subscription"`
}

func (h *PushHandler) Subscribe(w http.ResponseWriter, r *http.Request) {
	if h.publicKey == "" {
		writeError(w, http.StatusServiceUnavailable, "push disabled")
		return
	}
	var req SubscribeRequest
	if err := decodeBody(r, h.validate, "push.Subscribe", &req); err != nil {
		writeFailure(w, err)
		return
	}
	if err := h.store.AddPushSubscription(r.Context(), req.SubjectID, req.Subscription); err != nil {
		writeFailure(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// UnsubscribeRequest: тело для отписки по endpoint.
type UnsubscribeRequest struct {
	SubjectID string `json:"subject_id" validate:"required,max=128"`
	Endpoint  string `json:"endpoint" validate:"required"`
}

func (h *PushHandler) Unsubscribe(w http.ResponseWriter, r *http.Request) {
	var req UnsubscribeRequest
	if err := decodeBody(r, h.validate, "push.Unsubscribe", &req); err != nil {
		writeFailure(w, err)
		return
	}
	if err := h.store.RemovePushSubscription(r.Context(), req.SubjectID, req.Endpoint); err != nil {
		writeFailure(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
