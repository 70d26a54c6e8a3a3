package handler

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/albapepper/race-alerts/internal/api/respond"
	"github.com/albapepper/race-alerts/internal/cache"
	"github.com/albapepper/race-alerts/internal/delay"
)

const (
	defaultExecutionLimit = 50
	maxExecutionLimit     = 500
	maxPayloadBytes       = 64 << 10
)

// ExecutionsResponse is the body of GET /api/v1/executions.
type ExecutionsResponse struct {
	Count      int               `json:"count"`
	Executions []delay.Execution `json:"executions"`
}

// GetExecutions lists delayed executions still waiting to fire.
// @Summary List pending executions
// @Description Lists scheduled notifications that have not fired yet, soonest first. Only available with the Postgres delay backend.
// @Tags executions
// @Produce json
// @Param limit query int false "Maximum rows (default 50, max 500)"
// @Success 200 {object} ExecutionsResponse
// @Failure 400 {object} respond.ErrorResponse
// @Failure 501 {object} respond.ErrorResponse
// @Router /executions [get]
func (h *Handler) GetExecutions(w http.ResponseWriter, r *http.Request) {
	if h.executions == nil {
		respond.Error(w, http.StatusNotImplemented, respond.CodeNotAvailable,
			"Execution listing requires the postgres delay backend", "delay backend: "+h.cfg.DelayBackend)
		return
	}

	limit := defaultExecutionLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > maxExecutionLimit {
			respond.Error(w, http.StatusBadRequest, respond.CodeInvalidLimit,
				fmt.Sprintf("limit must be between 1 and %d", maxExecutionLimit), "")
			return
		}
		limit = n
	}

	snap, err := h.cache.Fetch(fmt.Sprintf("executions:%d", limit), cache.TTLExecutions, func() ([]byte, error) {
		execs, err := h.executions.Pending(r.Context(), limit)
		if err != nil {
			return nil, err
		}
		if execs == nil {
			execs = []delay.Execution{}
		}
		return json.Marshal(ExecutionsResponse{Count: len(execs), Executions: execs})
	})
	if err != nil {
		h.logger.Warn("List executions failed", "error", err)
		respond.Error(w, http.StatusServiceUnavailable, respond.CodeDBUnavailable, "Failed to list executions", "")
		return
	}
	respond.Snapshot(w, r, snap)
}

// Dispatch sends the notification for a payload immediately. This is the
// entry point an external delayed-execution service calls when a wait ends.
// @Summary Dispatch a notification
// @Description Formats and pushes the notification for a stored payload. The HTTP status mirrors the push transport's status; the body is {statusCode, body}.
// @Tags dispatch
// @Accept json
// @Produce json
// @Param payload body notifications.Payload true "Stored execution payload"
// @Success 200 {object} notifications.DispatchResult
// @Failure 400 {object} respond.ErrorResponse
// @Failure 401 {object} respond.ErrorResponse
// @Failure 500 {object} notifications.DispatchResult
// @Security ApiKeyAuth
// @Router /dispatch [post]
func (h *Handler) Dispatch(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxPayloadBytes+1))
	if err != nil {
		respond.Error(w, http.StatusBadRequest, respond.CodeReadFailed, "Failed to read request body", "")
		return
	}
	if len(body) > maxPayloadBytes {
		respond.Error(w, http.StatusRequestEntityTooLarge, respond.CodePayloadTooLarge, "Payload exceeds 64KB", "")
		return
	}

	result := h.dispatcher.Dispatch(r.Context(), body)
	respond.JSON(w, result.StatusCode, result)
}
