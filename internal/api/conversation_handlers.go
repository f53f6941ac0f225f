// Package api provides HTTP handlers for the conversation sidebar.
package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/BTreeMap/AlienChat/internal/auth"
	"github.com/BTreeMap/AlienChat/internal/models"
	"github.com/BTreeMap/AlienChat/internal/sidebar"
)

// renameRequest is the body of PATCH /conversations/{id}.
type renameRequest struct {
	Title string `json:"title"`
}

// conversationList is the body of GET /conversations.
type conversationList struct {
	ActiveID      string                `json:"activeId,omitempty"`
	Conversations []models.Conversation `json:"conversations,omitempty"`
	Groups        []sidebar.Group       `json:"groups,omitempty"`
}

func (s *Server) listConversationsHandler(w http.ResponseWriter, r *http.Request, sess auth.Session, ws *workspace) {
	resp := conversationList{}
	if active, ok := ws.store.ActiveConversation(); ok {
		resp.ActiveID = active.ID
	}
	convs := ws.store.List()
	if r.URL.Query().Get("grouped") == "true" {
		resp.Groups = sidebar.GroupConversations(convs, time.Now())
	} else {
		resp.Conversations = convs
	}
	slog.Debug("Server.listConversationsHandler: listing", "uid", sess.User.UID, "count", len(convs))
	writeJSONResponse(w, http.StatusOK, models.Success(resp))
}

func (s *Server) createConversationHandler(w http.ResponseWriter, r *http.Request, sess auth.Session, ws *workspace) {
	conv, err := ws.store.CreateConversation(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	// A new chat abandons any flow in progress.
	if err := ws.engine.SwitchConversation(r.Context(), conv.ID); err != nil {
		writeError(w, err)
		return
	}
	writeJSONResponse(w, http.StatusCreated, models.Success(conv))
}

func (s *Server) getConversationHandler(w http.ResponseWriter, r *http.Request, sess auth.Session, ws *workspace) {
	conv, err := ws.store.Get(r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(conv))
}

func (s *Server) renameConversationHandler(w http.ResponseWriter, r *http.Request, sess auth.Session, ws *workspace) {
	var req renameRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	id := r.PathValue("id")
	if err := ws.store.Rename(r.Context(), id, req.Title); err != nil {
		writeError(w, err)
		return
	}
	conv, err := ws.store.Get(id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(conv))
}

func (s *Server) deleteConversationHandler(w http.ResponseWriter, r *http.Request, sess auth.Session, ws *workspace) {
	id := r.PathValue("id")
	wasActive := s.isActive(ws, id)
	if err := ws.store.Delete(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	if wasActive {
		ws.engine.Reset()
	}
	writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("Conversation deleted", nil))
}

func (s *Server) selectConversationHandler(w http.ResponseWriter, r *http.Request, sess auth.Session, ws *workspace) {
	id := r.PathValue("id")
	if err := ws.engine.SwitchConversation(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	conv, err := ws.store.Get(id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(conv))
}

func (s *Server) archiveConversationHandler(w http.ResponseWriter, r *http.Request, sess auth.Session, ws *workspace) {
	id := r.PathValue("id")
	wasActive := s.isActive(ws, id)
	if err := ws.store.Archive(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	if wasActive {
		ws.engine.Reset()
	}
	writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("Conversation archived", nil))
}

func (s *Server) shareConversationHandler(w http.ResponseWriter, r *http.Request, sess auth.Session, ws *workspace) {
	text, err := ws.store.ShareText(r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	if r.URL.Query().Get("format") == "text" {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(text))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(map[string]string{"text": text}))
}

func (s *Server) isActive(ws *workspace, id string) bool {
	active, ok := ws.store.ActiveConversation()
	return ok && active.ID == id
}
