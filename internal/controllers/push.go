package controllers

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/econexo/backend/internal/database"
	"github.com/econexo/backend/internal/router"
)

var _ router.Controller = (*PushController)(nil)

// PushController handles push-subscription registration. The keys follow the
// browser PushSubscription shape.
type PushController struct {
	Subscriptions *database.SubscriptionStore
}

type subscribeRequest struct {
	Endpoint string `json:"endpoint"`
	Keys     struct {
		P256dh string `json:"p256dh"`
		Auth   string `json:"auth"`
	} `json:"keys"`
}

type unsubscribeRequest struct {
	Endpoint string `json:"endpoint"`
}

func (c *PushController) Register(router *mux.Router) {
	api := router.PathPrefix("/api/push").Subrouter()
	api.HandleFunc("/subscribe", c.handleSubscribe).Methods(http.MethodPost)
	api.HandleFunc("/unsubscribe", c.handleUnsubscribe).Methods(http.MethodPost)
}

func (c *PushController) handleSubscribe(w http.ResponseWriter, r *http.Request) {
	var req subscribeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	if req.Endpoint == "" || req.Keys.P256dh == "" || req.Keys.Auth == "" {
		writeError(w, http.StatusBadRequest, "endpoint and keys are required")
		return
	}

	if err := c.Subscriptions.Upsert(r.Context(), req.Endpoint, req.Keys.P256dh, req.Keys.Auth); err != nil {
		zap.L().Error("failed to store push subscription", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	writeJSON(w, http.StatusCreated, map[string]bool{"ok": true})
}

func (c *PushController) handleUnsubscribe(w http.ResponseWriter, r *http.Request) {
	var req unsubscribeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	if req.Endpoint == "" {
		writeError(w, http.StatusBadRequest, "endpoint is required")
		return
	}

	if err := c.Subscriptions.DeleteByEndpoint(r.Context(), req.Endpoint); err != nil {
		zap.L().Error("failed to delete push subscription", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}
