package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/poolbridge/internal/pool"
)

// setModeRequest is the body for PUT /channels/{id}/mode.
type setModeRequest struct {
	// Mode is a label ("High Speed") or a numeric mode code.
	Mode json.RawMessage `json:"mode"`

	// WaitForExecution overrides the configured default when set.
	WaitForExecution *bool `json:"wait_for_execution,omitempty"`
}

// setpointRequest is the body for PUT /channels/{id}/setpoint.
type setpointRequest struct {
	Value *float64 `json:"value"`
}

// effectRequest is the body for PUT /channels/{id}/effect.
type effectRequest struct {
	// Effect is a colour or show name, or its number.
	Effect json.RawMessage `json:"effect"`
}

// actionResponse reports an action accepted by the cloud.
type actionResponse struct {
	Status       string `json:"status"`
	Channel      string `json:"channel,omitempty"`
	ActionNumber int    `json:"action_number,omitempty"`
}

// decodeBody decodes a JSON request body into v.
func decodeBody(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return fmt.Errorf("invalid JSON body: %w", err)
	}
	return nil
}

// rawReference turns a JSON string or number into the text form the
// coordinator resolves. It returns "" for anything else.
func rawReference(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String()
	}
	return ""
}

func channelParam(r *http.Request) pool.ChannelID {
	return pool.ChannelID(chi.URLParam(r, "id"))
}

// handleGetPool returns the cached view of the whole controller.
func (s *Server) handleGetPool(w http.ResponseWriter, _ *http.Request) {
	status, err := s.coord.View()
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

// handleListChannels returns the cached view of every channel.
func (s *Server) handleListChannels(w http.ResponseWriter, _ *http.Request) {
	status, err := s.coord.View()
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"channels": status.Channels,
		"count":    len(status.Channels),
	})
}

// handleGetChannel returns the cached view of one channel.
func (s *Server) handleGetChannel(w http.ResponseWriter, r *http.Request) {
	u, err := s.coord.ChannelView(channelParam(r))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, u)
}

// handleSetMode starts a transition to the requested mode.
//
// It answers 202 with the transition as soon as it is accepted. With
// ?wait=true it answers 200 once the transition resolves, or 202 if the
// request is cancelled first.
func (s *Server) handleSetMode(w http.ResponseWriter, r *http.Request) {
	wait := false
	if v := r.URL.Query().Get("wait"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			writeBadRequest(w, "wait must be a boolean")
			return
		}
		wait = b
	}

	var req setModeRequest
	if err := decodeBody(r, &req); err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	mode := rawReference(req.Mode)
	if mode == "" {
		writeBadRequest(w, "mode is required")
		return
	}

	h, err := s.coord.SubmitTransition(channelParam(r), mode, req.WaitForExecution)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	if !wait {
		w.Header().Set("Location", "/api/v1/transitions/"+h.ID)
		writeJSON(w, http.StatusAccepted, s.coord.Describe(h))
		return
	}

	if _, err := h.Wait(r.Context()); err != nil {
		writeJSON(w, http.StatusAccepted, s.coord.Describe(h))
		return
	}
	writeJSON(w, http.StatusOK, s.coord.Describe(h))
}

// handleGetTransition returns a recent transition by id.
func (s *Server) handleGetTransition(w http.ResponseWriter, r *http.Request) {
	h, err := s.coord.Transition(chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.coord.Describe(h))
}

// handleCancelTransition cancels the live transition of a channel.
func (s *Server) handleCancelTransition(w http.ResponseWriter, r *http.Request) {
	id := channelParam(r)
	if err := s.coord.CancelTransition(id); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"channel": id,
		"status":  "cancelled",
	})
}

// handleSetSetpoint sets a heater or solar target temperature.
func (s *Server) handleSetSetpoint(w http.ResponseWriter, r *http.Request) {
	var req setpointRequest
	if err := decodeBody(r, &req); err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	if req.Value == nil {
		writeBadRequest(w, "value is required")
		return
	}

	id := channelParam(r)
	receipt, err := s.coord.SetSetpoint(r.Context(), id, *req.Value)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, actionResponse{Status: "sent", Channel: string(id), ActionNumber: receipt.ActionNumber})
}

// handleSetEffect selects a lighting colour or show.
func (s *Server) handleSetEffect(w http.ResponseWriter, r *http.Request) {
	var req effectRequest
	if err := decodeBody(r, &req); err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	effect := rawReference(req.Effect)
	if effect == "" {
		writeBadRequest(w, "effect is required")
		return
	}

	id := channelParam(r)
	receipt, err := s.coord.SetLightEffect(r.Context(), id, effect)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, actionResponse{Status: "sent", Channel: string(id), ActionNumber: receipt.ActionNumber})
}

// handleSyncLights synchronises colour lighting zones.
func (s *Server) handleSyncLights(w http.ResponseWriter, r *http.Request) {
	id := channelParam(r)
	receipt, err := s.coord.SyncLights(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, actionResponse{Status: "sent", Channel: string(id), ActionNumber: receipt.ActionNumber})
}

// handleActivateFavourite makes a configured favourite active.
func (s *Server) handleActivateFavourite(w http.ResponseWriter, r *http.Request) {
	number, err := strconv.Atoi(chi.URLParam(r, "number"))
	if err != nil {
		writeBadRequest(w, "favourite number must be an integer")
		return
	}

	receipt, err := s.coord.ActivateFavourite(r.Context(), number)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, actionResponse{Status: "sent", ActionNumber: receipt.ActionNumber})
}

// handleExecuteAction passes a raw action through to the cloud without
// reconciliation.
func (s *Server) handleExecuteAction(w http.ResponseWriter, r *http.Request) {
	var action pool.Action
	if err := decodeBody(r, &action); err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	if !action.Code.Valid() {
		writeError(w, http.StatusUnprocessableEntity, ErrCodeValidation,
			fmt.Sprintf("unknown action code %d", action.Code))
		return
	}

	receipt, err := s.coord.ExecuteAction(r.Context(), action)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, actionResponse{Status: "sent", ActionNumber: receipt.ActionNumber})
}

// handleActionStatus asks the cloud about an earlier action.
func (s *Server) handleActionStatus(w http.ResponseWriter, r *http.Request) {
	number, err := strconv.Atoi(chi.URLParam(r, "number"))
	if err != nil || number <= 0 {
		writeBadRequest(w, "action number must be a positive integer")
		return
	}

	status, err := s.coord.ActionStatus(r.Context(), number)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

// handleRefreshConfig re-reads the channel configuration from the cloud.
func (s *Server) handleRefreshConfig(w http.ResponseWriter, r *http.Request) {
	if err := s.coord.RefreshConfiguration(r.Context()); err != nil {
		writeDomainError(w, err)
		return
	}
	status, err := s.coord.View()
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

// handleRefreshStatus forces a live status read. The throttle still
// applies: a held-back read answers with the cached view marked stale.
func (s *Server) handleRefreshStatus(w http.ResponseWriter, r *http.Request) {
	status, err := s.coord.RefreshStatus(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}
