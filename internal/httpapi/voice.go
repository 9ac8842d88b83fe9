package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/MrWong99/concierge/internal/mcp"
	"github.com/MrWong99/concierge/internal/observe"
	"github.com/MrWong99/concierge/pkg/realtime"
)

type textRequest struct {
	Text string `json:"text"`
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), startTimeout)
	defer cancel()

	err := s.cfg.Voice.Start(ctx)
	switch {
	case err == nil:
		respondJSON(w, http.StatusOK, s.cfg.Voice.Snapshot())
	case errors.Is(err, realtime.ErrAlreadyStarted):
		respondError(w, http.StatusConflict, "already_started", "session is already running")
	default:
		observe.Logger(r.Context(), s.log).Warn("voice start failed", "err", err)
		respondError(w, http.StatusBadGateway, observe.ErrorClass(err), clientMessage(err))
	}
}

func (s *Server) handleStop(w http.ResponseWriter, _ *http.Request) {
	s.cfg.Voice.Stop()
	respondJSON(w, http.StatusOK, s.cfg.Voice.Snapshot())
}

// handleText injects a typed user turn. The session ignores text while its
// control channel is closed, so that case is reported as a conflict.
func (s *Server) handleText(w http.ResponseWriter, r *http.Request) {
	var req textRequest
	if err := decodeJSON(r, maxTextBytes, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	text := strings.TrimSpace(req.Text)
	if text == "" {
		respondError(w, http.StatusBadRequest, "invalid_request", "text is required")
		return
	}
	if !s.cfg.Voice.Snapshot().Active {
		respondError(w, http.StatusConflict, "not_active", "session is not active")
		return
	}
	s.cfg.Voice.SendText(text)
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handleState(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, s.cfg.Voice.Snapshot())
}

type toolsResponse struct {
	Tools []realtime.ToolDefinition `json:"tools"`
	MCP   []mcp.ToolStats           `json:"mcp,omitempty"`
}

func (s *Server) handleTools(w http.ResponseWriter, _ *http.Request) {
	res := toolsResponse{Tools: []realtime.ToolDefinition{}}
	if s.cfg.Tools != nil {
		res.Tools = s.cfg.Tools.Definitions()
	}
	if s.cfg.MCP != nil {
		res.MCP = s.cfg.MCP.Stats()
	}
	respondJSON(w, http.StatusOK, res)
}
