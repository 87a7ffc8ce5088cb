package server

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/MrWong99/moonlit/internal/tribunal"
)

type actRequest struct {
	EventID     string `json:"event_id"`
	Action      string `json:"action"`
	Speaker     string `json:"speaker"`
	PlayerInput string `json:"player_input"`
	History     any    `json:"history"`
}

type actResponse struct {
	Success bool `json:"success"`
	*tribunal.TurnResult
}

type eventsResponse struct {
	Success bool              `json:"success"`
	Events  []*tribunal.Event `json:"events"`
}

type eventResponse struct {
	Success bool             `json:"success"`
	Event   *tribunal.Event  `json:"event"`
	History []tribunal.Entry `json:"history"`
}

// handleAct runs one turn. Turns of the same event are serialised.
func (s *Server) handleAct(w http.ResponseWriter, r *http.Request) {
	var req actRequest
	if !s.decode(w, r, &req) {
		return
	}

	unlock, err := s.locks.Lock(r.Context(), req.EventID)
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, "turn cancelled while waiting for the event")
		return
	}
	defer unlock()

	res, err := s.tribunal.OrchestrateTurn(r.Context(), tribunal.TurnRequest{
		EventID:     req.EventID,
		Action:      tribunal.Action(req.Action),
		SpeakerHint: req.Speaker,
		PlayerInput: req.PlayerInput,
		History:     req.History,
	})
	switch {
	case errors.Is(err, tribunal.ErrEventNotFound):
		writeError(w, http.StatusNotFound, fmt.Sprintf("Event %s not found", req.EventID))
	case errors.Is(err, tribunal.ErrValidation):
		writeError(w, http.StatusBadRequest, err.Error())
	case err != nil:
		writeInternal(w, r, err)
	default:
		writeJSON(w, http.StatusOK, actResponse{Success: true, TurnResult: res})
	}
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	events, err := s.tribunal.Events(r.Context())
	if err != nil {
		writeInternal(w, r, err)
		return
	}
	if events == nil {
		events = []*tribunal.Event{}
	}
	writeJSON(w, http.StatusOK, eventsResponse{Success: true, Events: events})
}

func (s *Server) handleEvent(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	ev, err := s.tribunal.ResolveEvent(r.Context(), id)
	switch {
	case errors.Is(err, tribunal.ErrEventNotFound):
		writeError(w, http.StatusNotFound, fmt.Sprintf("Event %s not found", id))
	case err != nil:
		writeInternal(w, r, err)
	default:
		writeJSON(w, http.StatusOK, eventResponse{Success: true, Event: ev, History: ev.GameLogs})
	}
}
