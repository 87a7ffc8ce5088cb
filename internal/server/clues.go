package server

import (
	"errors"
	"net/http"

	"github.com/MrWong99/moonlit/internal/discovery"
)

type clueResponse struct {
	Success bool           `json:"success"`
	Clue    discovery.Clue `json:"clue"`
}

type cluesResponse struct {
	Success bool             `json:"success"`
	Clues   []discovery.Clue `json:"clues"`
}

type okResponse struct {
	Success bool `json:"success"`
}

func (s *Server) handleLogClue(w http.ResponseWriter, r *http.Request) {
	var sub discovery.Submission
	if !s.decode(w, r, &sub) {
		return
	}
	clue, err := s.journal.Append(r.Context(), sub)
	switch {
	case errors.Is(err, discovery.ErrInvalidClue):
		writeError(w, http.StatusBadRequest, "Missing area, beast, or text")
	case err != nil:
		writeInternal(w, r, err)
	default:
		writeJSON(w, http.StatusOK, clueResponse{Success: true, Clue: clue})
	}
}

func (s *Server) handleResetClues(w http.ResponseWriter, r *http.Request) {
	if err := s.journal.Reset(r.Context()); err != nil {
		writeInternal(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, okResponse{Success: true})
}

func (s *Server) handleListClues(w http.ResponseWriter, r *http.Request) {
	clues, err := s.journal.List(r.Context())
	if err != nil {
		writeInternal(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, cluesResponse{Success: true, Clues: discovery.CloneAll(clues)})
}
