package webui

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/23skdu/quarrel-chat/internal/chat"
	"github.com/23skdu/quarrel-chat/internal/logger"
	"github.com/23skdu/quarrel-chat/internal/metrics"
)

// ChatRequest is the body of POST /api/chat. Either Message with History,
// or an OpenAI-style Messages list ending in the new user message.
type ChatRequest struct {
	Message  string         `json:"message"`
	History  []chat.Turn    `json:"history,omitempty"`
	Messages []chat.Message `json:"messages,omitempty"`
}

type ChatResponse struct {
	Response string `json:"response"`
}

// resolve returns the new message and history the request describes.
func (req ChatRequest) resolve() (string, []chat.Turn, error) {
	if len(req.Messages) == 0 {
		return req.Message, req.History, nil
	}
	turns, message, err := chat.Turns(req.Messages)
	if err != nil {
		return "", nil, err
	}
	return message, turns, nil
}

func (s *Server) chat(w http.ResponseWriter, r *http.Request) {
	metrics.RecordRequest(s.opts.Profile, "/api/chat")

	var req ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			metrics.RecordError("request_too_large")
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
		metrics.RecordError("invalid_request")
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	message, history, err := req.resolve()
	if err != nil {
		metrics.RecordError("invalid_request")
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	reply, err := s.ui.Respond(r.Context(), message, history)
	if err != nil {
		logger.Log.Warn("Chat request failed",
			"request_id", RequestIDFromContext(r.Context()),
			"error", err)
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, ChatResponse{Response: reply})
}
