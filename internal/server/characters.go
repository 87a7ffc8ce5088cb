package server

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/MrWong99/moonlit/internal/character"
	"github.com/MrWong99/moonlit/internal/companion"
)

type chatRequest struct {
	NPCID   string `json:"npc_id"`
	Message string `json:"message"`
	History any    `json:"history"`
}

type chatResponse struct {
	NPCID    string `json:"npc_id"`
	Response string `json:"response"`
	Success  bool   `json:"success"`
}

type charactersResponse struct {
	Characters map[string]character.Record `json:"characters"`
	Success    bool                        `json:"success"`
}

type characterResponse struct {
	Character *character.Record `json:"character"`
	Success   bool              `json:"success"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if !s.decode(w, r, &req) {
		return
	}
	reply, err := s.chat.Chat(r.Context(), req.NPCID, req.Message, req.History)
	var unknown *companion.UnknownNPCError
	switch {
	case errors.Is(err, companion.ErrMissingInput):
		writeError(w, http.StatusBadRequest, "Missing npc_id or message")
	case errors.As(err, &unknown):
		writeError(w, http.StatusNotFound, "Unknown NPC: "+unknown.ID)
	case err != nil:
		writeInternal(w, r, err)
	default:
		writeJSON(w, http.StatusOK, chatResponse{NPCID: req.NPCID, Response: reply, Success: true})
	}
}

func (s *Server) handleCharacters(w http.ResponseWriter, r *http.Request) {
	recs, err := s.chars.List(r.Context())
	if err != nil {
		writeInternal(w, r, err)
		return
	}
	byID := make(map[string]character.Record, len(recs))
	for _, rec := range recs {
		byID[rec.ID] = rec
	}
	writeJSON(w, http.StatusOK, charactersResponse{Characters: byID, Success: true})
}

func (s *Server) handleCharacter(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	rec, err := s.chars.Get(r.Context(), id)
	switch {
	case err != nil:
		writeInternal(w, r, err)
	case rec == nil:
		writeError(w, http.StatusNotFound, fmt.Sprintf("Character %s not found", id))
	default:
		writeJSON(w, http.StatusOK, characterResponse{Character: rec, Success: true})
	}
}
