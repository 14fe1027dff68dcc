package api

import (
	"context"
	"net/http"
	"net/mail"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Morfar22/nexus-rp-portal-sub003/internal/domain"
)

// chatTokenHeader carries the visitor token handed out when a chat starts
const chatTokenHeader = "X-Chat-Token"

// StartChatRequest is the visitor's opening form
type StartChatRequest struct {
	Name    string `json:"name"`
	Email   string `json:"email"`
	Subject string `json:"subject"`
	Message string `json:"message"`
}

// StartChatResponse hands the visitor their session and token
type StartChatResponse struct {
	Session *domain.ChatSession `json:"session"`
	Token   string              `json:"token"`
}

// ChatMessageRequest is a message from a visitor or staff member
type ChatMessageRequest struct {
	Body string `json:"body"`
}

// ChatView is a session with its messages
type ChatView struct {
	Session  *domain.ChatSession  `json:"session"`
	Messages []domain.ChatMessage `json:"messages"`
}

func (r *Router) handleStartChat(w http.ResponseWriter, req *http.Request) {
	var body StartChatRequest
	if !decodeJSON(w, req, &body) {
		return
	}
	body.Name = strings.TrimSpace(body.Name)
	if body.Name == "" || len(body.Name) > 64 {
		writeError(w, http.StatusBadRequest, "name is required and must be at most 64 characters")
		return
	}
	if body.Email != "" {
		if _, err := mail.ParseAddress(body.Email); err != nil {
			writeError(w, http.StatusBadRequest, "email is invalid")
			return
		}
	}
	if len(body.Message) > maxChatBody {
		writeError(w, http.StatusBadRequest, "message is too long")
		return
	}

	session := &domain.ChatSession{
		ID:           uuid.NewString(),
		VisitorName:  body.Name,
		VisitorEmail: body.Email,
		Subject:      strings.TrimSpace(body.Subject),
	}
	token := uuid.NewString()
	if err := r.store.CreateChatSession(req.Context(), session, token); err != nil {
		writeFailure(w, req, err, "chat session")
		return
	}
	r.publishChat(req.Context(), domain.EventChatStarted, session.ID, session)

	if msg := strings.TrimSpace(body.Message); msg != "" {
		m := &domain.ChatMessage{SessionID: session.ID, SenderType: domain.SenderVisitor, SenderName: session.VisitorName, Body: msg}
		if err := r.store.AddChatMessage(req.Context(), m); err != nil {
			writeFailure(w, req, err, "chat message")
			return
		}
		r.publishChat(req.Context(), domain.EventChatMessage, session.ID, m)
	}

	writeJSON(w, http.StatusCreated, StartChatResponse{Session: session, Token: token})
}

// visitorSession checks the X-Chat-Token header against the session in the path
func (r *Router) visitorSession(w http.ResponseWriter, req *http.Request) (string, bool) {
	id := req.PathValue("id")
	token := req.Header.Get(chatTokenHeader)
	if id == "" || token == "" {
		writeError(w, http.StatusUnauthorized, "chat token required")
		return "", false
	}
	ok, err := r.store.CheckChatToken(req.Context(), id, token)
	if err != nil {
		writeFailure(w, req, err, "chat session")
		return "", false
	}
	if !ok {
		writeError(w, http.StatusUnauthorized, "invalid chat token")
		return "", false
	}
	return id, true
}

// afterID reads the "after" message cursor
func afterID(req *http.Request) int64 {
	after, err := strconv.ParseInt(req.URL.Query().Get("after"), 10, 64)
	if err != nil || after < 0 {
		return 0
	}
	return after
}

// handleVisitorMessages returns the session and its messages after the optional cursor
func (r *Router) handleVisitorMessages(w http.ResponseWriter, req *http.Request) {
	id, ok := r.visitorSession(w, req)
	if !ok {
		return
	}
	r.writeChat(w, req, id, afterID(req))
}

func (r *Router) handleVisitorSend(w http.ResponseWriter, req *http.Request) {
	id, ok := r.visitorSession(w, req)
	if !ok {
		return
	}
	session, err := r.store.GetChatSession(req.Context(), id)
	if err != nil {
		writeFailure(w, req, err, "chat session")
		return
	}
	r.addMessage(w, req, &domain.ChatMessage{
		SessionID:  id,
		SenderType: domain.SenderVisitor,
		SenderName: session.VisitorName,
	})
}

func (r *Router) handleVisitorClose(w http.ResponseWriter, req *http.Request) {
	id, ok := r.visitorSession(w, req)
	if !ok {
		return
	}
	r.closeChat(w, req, id, "visitor")
}

// handleListChats lists sessions, optionally filtered by status
func (r *Router) handleListChats(w http.ResponseWriter, req *http.Request) {
	status := domain.ChatStatus(req.URL.Query().Get("status"))
	if status != "" && !status.Valid() {
		writeError(w, http.StatusBadRequest, "invalid status")
		return
	}
	sessions, err := r.store.ListChatSessions(req.Context(), status, parseLimit(req, 50, 200))
	if err != nil {
		writeFailure(w, req, err, "chat sessions")
		return
	}
	writeJSON(w, http.StatusOK, sessions)
}

func (r *Router) handleGetChat(w http.ResponseWriter, req *http.Request) {
	r.writeChat(w, req, req.PathValue("id"), afterID(req))
}

func (r *Router) handleStaffReply(w http.ResponseWriter, req *http.Request) {
	ac := authFrom(req)
	r.addMessage(w, req, &domain.ChatMessage{
		SessionID:  req.PathValue("id"),
		SenderType: domain.SenderStaff,
		SenderName: ac.user.Username,
		UserID:     ac.actorID(),
	})
}

func (r *Router) handleStaffClose(w http.ResponseWriter, req *http.Request) {
	r.closeChat(w, req, req.PathValue("id"), authFrom(req).user.Username)
}

// handleListMissedChats returns chats nobody answered in time, over the last "hours" (default a week)
func (r *Router) handleListMissedChats(w http.ResponseWriter, req *http.Request) {
	since := parseWindow(req, 24*7, 24*90)
	missed, err := r.store.ListMissedChats(req.Context(), since, parseLimit(req, 50, 500))
	if err != nil {
		writeFailure(w, req, err, "missed chats")
		return
	}
	writeJSON(w, http.StatusOK, missed)
}

func (r *Router) writeChat(w http.ResponseWriter, req *http.Request, id string, after int64) {
	session, err := r.store.GetChatSession(req.Context(), id)
	if err != nil {
		writeFailure(w, req, err, "chat session")
		return
	}
	messages, err := r.store.ListChatMessages(req.Context(), id, after)
	if err != nil {
		writeFailure(w, req, err, "chat messages")
		return
	}
	writeJSON(w, http.StatusOK, ChatView{Session: session, Messages: messages})
}

// addMessage reads the body into m, stores it and broadcasts it
func (r *Router) addMessage(w http.ResponseWriter, req *http.Request, m *domain.ChatMessage) {
	var body ChatMessageRequest
	if !decodeJSON(w, req, &body) {
		return
	}
	m.Body = strings.TrimSpace(body.Body)
	if m.Body == "" {
		writeError(w, http.StatusBadRequest, "body is required")
		return
	}
	if len(m.Body) > maxChatBody {
		writeError(w, http.StatusBadRequest, "message is too long")
		return
	}

	if err := r.store.AddChatMessage(req.Context(), m); err != nil {
		writeFailure(w, req, err, "chat session")
		return
	}
	r.publishChat(req.Context(), domain.EventChatMessage, m.SessionID, m)
	writeJSON(w, http.StatusCreated, m)
}

// ChatClosedEvent is sent when either side ends a chat
type ChatClosedEvent struct {
	SessionID string    `json:"session_id"`
	ClosedBy  string    `json:"closed_by"`
	ClosedAt  time.Time `json:"closed_at"`
}

func (r *Router) closeChat(w http.ResponseWriter, req *http.Request, id, by string) {
	if err := r.store.CloseChatSession(req.Context(), id); err != nil {
		writeFailure(w, req, err, "open chat session")
		return
	}
	r.publishChat(req.Context(), domain.EventChatClosed, id, ChatClosedEvent{SessionID: id, ClosedBy: by, ClosedAt: time.Now().UTC()})
	writeJSON(w, http.StatusOK, map[string]string{"message": "chat closed"})
}

func (r *Router) publishChat(ctx context.Context, eventType, sessionID string, data any) {
	evt := domain.NewEvent(eventType, data)
	evt.ChatSessionID = sessionID
	r.publish(ctx, evt)
}
