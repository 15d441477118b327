package server

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/Ayu0607/pulse-chat/internal/chat"
	"github.com/Ayu0607/pulse-chat/internal/live"
	"github.com/Ayu0607/pulse-chat/internal/store"
)

func (s *Server) handleUpsertUser(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ExternalID string `json:"external_id"`
		Name       string `json:"name"`
		Email      string `json:"email"`
		AvatarURL  string `json:"avatar_url"`
	}
	if !decode(w, r, &req) {
		return
	}

	id, err := s.engine.UpsertUser(r.Context(), store.UpsertUserParams{
		ExternalID: req.ExternalID,
		Name:       req.Name,
		Email:      req.Email,
		AvatarURL:  req.AvatarURL,
	})
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]chat.UserID{"user_id": id})
}

func (s *Server) handleSetOnline(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ExternalID string `json:"external_id"`
		Online     bool   `json:"online"`
	}
	if !decode(w, r, &req) {
		return
	}

	if err := s.engine.SetOnline(r.Context(), req.ExternalID, req.Online); err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusNoContent, nil)
}

func (s *Server) handleCurrentUser(w http.ResponseWriter, r *http.Request) {
	externalID := r.URL.Query().Get("external_id")
	value, err := s.readOnce(r, live.CurrentUserQuery(s.engine.Store(), externalID))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	if value == nil {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "user not found"})
		return
	}
	writeJSON(w, http.StatusOK, value)
}

func (s *Server) handleAllUsers(w http.ResponseWriter, r *http.Request) {
	excluding := r.URL.Query().Get("excluding")
	value, err := s.readOnce(r, live.AllUsersQuery(s.engine.Store(), excluding))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, value)
}

func (s *Server) handleSearchUsers(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("q")
	excluding := r.URL.Query().Get("excluding")
	value, err := s.readOnce(r, live.SearchUsersQuery(s.engine.Store(), q, excluding))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, value)
}

func (s *Server) handleGetOrCreateConversation(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID      chat.UserID `json:"user_id"`
		OtherUserID chat.UserID `json:"other_user_id"`
	}
	if !decode(w, r, &req) {
		return
	}

	id, err := s.engine.GetOrCreateConversation(r.Context(), req.UserID, req.OtherUserID)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]chat.ConversationID{"conversation_id": id})
}

func (s *Server) handleConversationList(w http.ResponseWriter, r *http.Request) {
	userID := chat.UserID(r.URL.Query().Get("user_id"))
	value, err := s.readOnce(r, live.ConversationListQuery(s.engine.Store(), userID))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, value)
}

func (s *Server) handleConversation(w http.ResponseWriter, r *http.Request) {
	id := chat.ConversationID(mux.Vars(r)["id"])
	value, err := s.readOnce(r, live.ConversationQuery(s.engine.Store(), id))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	if value == nil {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "conversation not found"})
		return
	}
	writeJSON(w, http.StatusOK, value)
}

func (s *Server) handleDeleteConversation(w http.ResponseWriter, r *http.Request) {
	id := chat.ConversationID(mux.Vars(r)["id"])
	if err := s.engine.DeleteConversation(r.Context(), id); err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusNoContent, nil)
}

func (s *Server) handleMarkRead(w http.ResponseWriter, r *http.Request) {
	convID := chat.ConversationID(mux.Vars(r)["id"])
	var req struct {
		UserID chat.UserID `json:"user_id"`
	}
	if !decode(w, r, &req) {
		return
	}

	if err := s.engine.MarkRead(r.Context(), convID, req.UserID); err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusNoContent, nil)
}

func (s *Server) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ConversationID chat.ConversationID `json:"conversation_id"`
		SenderID       chat.UserID         `json:"sender_id"`
		Body           string              `json:"body"`
	}
	if !decode(w, r, &req) {
		return
	}

	id, err := s.engine.SendMessage(r.Context(), req.ConversationID, req.SenderID, req.Body)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]chat.MessageID{"message_id": id})
}

func (s *Server) handleMessageList(w http.ResponseWriter, r *http.Request) {
	convID := chat.ConversationID(r.URL.Query().Get("conversation_id"))
	value, err := s.readOnce(r, live.MessageListQuery(s.engine.Store(), convID))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, value)
}

func (s *Server) handleSetTyping(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ConversationID chat.ConversationID `json:"conversation_id"`
		UserID         chat.UserID         `json:"user_id"`
		Typing         bool                `json:"typing"`
	}
	if !decode(w, r, &req) {
		return
	}

	if err := s.engine.SetTyping(r.Context(), req.ConversationID, req.UserID, req.Typing); err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusNoContent, nil)
}

func (s *Server) handleActiveTypers(w http.ResponseWriter, r *http.Request) {
	convID := chat.ConversationID(r.URL.Query().Get("conversation_id"))
	viewer := chat.UserID(r.URL.Query().Get("user_id"))
	value, err := s.readOnce(r, live.TypingUsersQuery(s.engine.Store(), convID, viewer))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, value)
}
