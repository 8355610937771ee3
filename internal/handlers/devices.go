package handlers

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/PortNumber53/fitmarket-payments/internal/models"
	"github.com/PortNumber53/fitmarket-payments/internal/notify"
)

type registerTokenRequest struct {
	Token    string `json:"token"`
	DeviceID string `json:"deviceId"`
	Platform string `json:"platform"`
}

type pushRequest struct {
	UserID string            `json:"userId"`
	Title  string            `json:"title"`
	Body   string            `json:"body"`
	Data   map[string]string `json:"data"`
}

type pushResponse struct {
	Success      bool `json:"success"`
	SuccessCount int  `json:"successCount"`
	FailureCount int  `json:"failureCount"`
}

// RegisterFCMToken stores a push registration for the caller. Re-registering
// the same device replaces its previous token.
func (h *RPCHandler) RegisterFCMToken() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "registerFCMToken"
		c, err := caller(r)
		if err != nil {
			writeError(w, h.Logger, op, err)
			return
		}
		var req registerTokenRequest
		if err := decode(w, r, &req); err != nil {
			writeError(w, h.Logger, op, err)
			return
		}
		req.Token = strings.TrimSpace(req.Token)
		if err := required("token", req.Token); err != nil {
			writeError(w, h.Logger, op, err)
			return
		}

		tok := &models.DeviceToken{
			UserID: c.ID,
			Key:    models.TokenKey(req.Token, req.DeviceID),
			Token:  req.Token,
		}
		if req.DeviceID != "" {
			tok.DeviceID = &req.DeviceID
		}
		if req.Platform != "" {
			tok.Platform = &req.Platform
		}
		if err := h.Devices.UpsertDeviceToken(r.Context(), tok); err != nil {
			writeError(w, h.Logger, op, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]bool{"success": true})
	}
}

// SendPushNotification pushes a message to every device of userId. The
// caller must be that account or a system caller.
func (h *RPCHandler) SendPushNotification() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "sendPushNotification"
		c, err := caller(r)
		if err != nil {
			writeError(w, h.Logger, op, err)
			return
		}
		var req pushRequest
		if err := decode(w, r, &req); err != nil {
			writeError(w, h.Logger, op, err)
			return
		}
		if err := required("userId", req.UserID); err != nil {
			writeError(w, h.Logger, op, err)
			return
		}
		if err := required("title", req.Title); err != nil {
			writeError(w, h.Logger, op, err)
			return
		}
		if !c.CanActFor(req.UserID) {
			writeError(w, h.Logger, op, fmt.Errorf("%w: cannot notify another account", models.ErrPermissionDenied))
			return
		}
		if h.Push == nil {
			writeError(w, h.Logger, op, fmt.Errorf("push: %w", models.ErrMissingConfiguration))
			return
		}

		res, err := h.Push.PushToAccount(r.Context(), req.UserID, notify.Message{
			Title: req.Title,
			Body:  req.Body,
			Data:  req.Data,
		})
		if err != nil {
			writeError(w, h.Logger, op, err)
			return
		}
		writeJSON(w, http.StatusOK, pushResponse{
			Success:      res.SuccessCount > 0,
			SuccessCount: res.SuccessCount,
			FailureCount: res.FailureCount,
		})
	}
}
