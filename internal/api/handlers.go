// Package api provides HTTP handlers for chat input, guided flows and preferences.
package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/BTreeMap/AlienChat/internal/auth"
	"github.com/BTreeMap/AlienChat/internal/flow"
	"github.com/BTreeMap/AlienChat/internal/models"
	"github.com/BTreeMap/AlienChat/internal/store"
)

// sendRequest is the body of POST /messages.
type sendRequest struct {
	Text string `json:"text"`
}

// themeRequest is the body of PUT /preferences/theme.
type themeRequest struct {
	Theme models.Theme `json:"theme"`
}

// stateResponse describes the caller's engine and selection.
type stateResponse struct {
	flow.Snapshot
	ActiveID string `json:"activeId,omitempty"`
}

// flowSummary is one entry of GET /flows.
type flowSummary struct {
	ID        models.FlowType `json:"id"`
	Title     string          `json:"title"`
	Intro     string          `json:"intro"`
	Questions int             `json:"questions"`
}

func (s *Server) sendMessageHandler(w http.ResponseWriter, r *http.Request, sess auth.Session, ws *workspace) {
	var req sendRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := ws.engine.TrySend(r.Context(), req.Text); err != nil {
		if errors.Is(err, flow.ErrBusy) {
			slog.Warn("Server.sendMessageHandler: send rejected while loading", "uid", sess.User.UID)
			writeJSONResponse(w, http.StatusConflict, models.Error("A reply is still loading"))
			return
		}
		writeError(w, err)
		return
	}
	s.writeActive(w, ws)
}

func (s *Server) listFlowsHandler(w http.ResponseWriter, r *http.Request) {
	defs := s.registry.List()
	out := make([]flowSummary, 0, len(defs))
	for _, d := range defs {
		out = append(out, flowSummary{ID: d.ID, Title: d.Title, Intro: d.Intro, Questions: d.Total()})
	}
	writeJSONResponse(w, http.StatusOK, models.Success(out))
}

func (s *Server) startFlowHandler(w http.ResponseWriter, r *http.Request, sess auth.Session, ws *workspace) {
	t := models.FlowType(r.PathValue("type"))
	if _, ok := s.registry.Get(t); !ok {
		slog.Warn("Server.startFlowHandler: unknown flow", "flowType", t)
		writeJSONResponse(w, http.StatusNotFound, models.Error("Unknown flow type"))
		return
	}
	if err := ws.engine.StartFlow(r.Context(), t); err != nil {
		writeError(w, err)
		return
	}
	s.writeActive(w, ws)
}

func (s *Server) stateHandler(w http.ResponseWriter, r *http.Request, sess auth.Session, ws *workspace) {
	resp := stateResponse{Snapshot: ws.engine.Snapshot()}
	if active, ok := ws.store.ActiveConversation(); ok {
		resp.ActiveID = active.ID
	}
	writeJSONResponse(w, http.StatusOK, models.Success(resp))
}

func (s *Server) getThemeHandler(w http.ResponseWriter, r *http.Request, sess auth.Session) {
	theme, err := store.LoadTheme(r.Context(), s.kv, sess.User.UID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(themeRequest{Theme: theme}))
}

func (s *Server) putThemeHandler(w http.ResponseWriter, r *http.Request, sess auth.Session) {
	var req themeRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := store.SaveTheme(r.Context(), s.kv, sess.User.UID, req.Theme); err != nil {
		writeError(w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(req))
}

// writeActive responds with the active conversation, or an empty result when none is selected.
func (s *Server) writeActive(w http.ResponseWriter, ws *workspace) {
	conv, ok := ws.store.ActiveConversation()
	if !ok {
		writeJSONResponse(w, http.StatusOK, models.Success(nil))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(conv))
}
