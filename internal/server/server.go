package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"motorbay/internal/app"
	"motorbay/internal/ratelimit"
	"motorbay/internal/realtime"
	"motorbay/internal/usertoken"
	"motorbay/internal/util"
	"motorbay/pkg/domain"
	"motorbay/pkg/storage"
)

// Config wires required dependencies for the HTTP server.
type Config struct {
	App            *app.App
	Hub            *realtime.Hub
	TokenVerifier  *usertoken.Verifier
	Attachments    storage.ObjectStore
	SendLimiter    *ratelimit.FixedWindowLimiter
	AllowedOrigins []string
	MaxUploadBytes int64
}

// Server exposes the REST and websocket surface of the realtime service.
type Server struct {
	app            *app.App
	hub            *realtime.Hub
	tokenVerifier  *usertoken.Verifier
	attachments    storage.ObjectStore
	sendLimiter    *ratelimit.FixedWindowLimiter
	allowedOrigins []string
	mux            *http.ServeMux
	maxUploadBytes int64
}

// New constructs the server with routes configured.
func New(cfg Config) (*Server, error) {
	if cfg.App == nil {
		return nil, errors.New("server: app is required")
	}
	if cfg.Hub == nil {
		return nil, errors.New("server: hub is required")
	}
	maxUploadBytes := cfg.MaxUploadBytes
	if maxUploadBytes <= 0 {
		maxUploadBytes = 20 * 1024 * 1024
	}
	s := &Server{
		app:            cfg.App,
		hub:            cfg.Hub,
		tokenVerifier:  cfg.TokenVerifier,
		attachments:    cfg.Attachments,
		sendLimiter:    cfg.SendLimiter,
		allowedOrigins: cfg.AllowedOrigins,
		mux:            http.NewServeMux(),
		maxUploadBytes: maxUploadBytes,
	}
	s.routes()
	return s, nil
}

// Router returns the configured handler.
func (s *Server) Router() http.Handler {
	return util.WithRequestID(util.WithRequestLog(util.WithCORS(s.mux)))
}

func (s *Server) routes() {
	s.mux.HandleFunc("/healthz", s.handleHealth)
	s.mux.Handle("/ws", http.HandlerFunc(s.handleWS))

	s.mux.Handle("/messages", s.withUser(s.handleMessages))
	s.mux.Handle("/messages/", s.withUser(s.handleMessageByID))
	s.mux.Handle("/conversations", s.withUser(s.handleConversations))
	s.mux.Handle("/conversations/", s.withUser(s.handleConversationByPartner))
	s.mux.Handle("/test-drives", s.withUser(s.handleTestDrives))
	s.mux.Handle("/test-drives/pending-count", s.withUser(s.handlePendingCount))
	s.mux.Handle("/test-drives/", s.withUser(s.handleTestDriveByID))
	s.mux.Handle("/presence", s.withUser(s.handlePresence))
	s.mux.Handle("/attachments", s.withUser(s.handleAttachmentUpload))
	s.mux.Handle("/attachments/url", s.withUser(s.handleAttachmentURL))
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type userHandler func(http.ResponseWriter, *http.Request, usertoken.Identity)

func (s *Server) withUser(next userHandler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.tokenVerifier == nil {
			writeError(w, http.StatusInternalServerError, "token verifier not configured")
			return
		}
		token, ok := bearerToken(r)
		if !ok {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		identity, err := s.tokenVerifier.Verify(token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next(w, r, identity)
	})
}

type sendMessageRequest struct {
	ReceiverID       string             `json:"receiverId"`
	Text             string             `json:"text"`
	Attachment       *domain.Attachment `json:"attachment,omitempty"`
	CorrelationToken string             `json:"correlationToken,omitempty"`
}

func (s *Server) handleMessages(w http.ResponseWriter, r *http.Request, identity usertoken.Identity) {
	switch r.Method {
	case http.MethodPost:
		if !s.allowSend(identity.UserID) {
			writeError(w, http.StatusTooManyRequests, "message rate limit exceeded")
			return
		}
		var req sendMessageRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		msg, err := s.app.Send(identity.UserID, req.ReceiverID, req.Text, req.Attachment, req.CorrelationToken)
		if err != nil {
			s.writeAppError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, msg)
	case http.MethodGet:
		partner := strings.TrimSpace(r.URL.Query().Get("partner"))
		msgs, err := s.app.Fetch(identity.UserID, partner)
		if err != nil {
			s.writeAppError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"messages": msgs})
	default:
		methodNotAllowed(w)
	}
}

func (s *Server) handleMessageByID(w http.ResponseWriter, r *http.Request, identity usertoken.Identity) {
	messageID := strings.TrimPrefix(r.URL.Path, "/messages/")
	if messageID == "" || strings.Contains(messageID, "/") {
		notFound(w, "message not found")
		return
	}
	if r.Method != http.MethodDelete {
		methodNotAllowed(w)
		return
	}
	if err := s.app.DeleteMessage(identity.UserID, messageID); err != nil {
		s.writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (s *Server) handleConversations(w http.ResponseWriter, r *http.Request, identity usertoken.Identity) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	summaries, err := s.app.Conversations(identity.UserID)
	if err != nil {
		s.writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"conversations": summaries})
}

func (s *Server) handleConversationByPartner(w http.ResponseWriter, r *http.Request, identity usertoken.Identity) {
	partnerID := strings.TrimPrefix(r.URL.Path, "/conversations/")
	if partnerID == "" || strings.Contains(partnerID, "/") {
		notFound(w, "conversation not found")
		return
	}
	if r.Method != http.MethodDelete {
		methodNotAllowed(w)
		return
	}
	if err := s.app.DeleteConversation(identity.UserID, partnerID); err != nil {
		s.writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

type createTestDriveRequest struct {
	CarID         string `json:"carId"`
	DealerID      string `json:"dealerId"`
	RequestedDate string `json:"requestedDate"`
	RequestedTime string `json:"requestedTime"`
}

func (s *Server) handleTestDrives(w http.ResponseWriter, r *http.Request, identity usertoken.Identity) {
	switch r.Method {
	case http.MethodPost:
		role, ok := actorRole(identity)
		if !ok || role != domain.RoleBuyer {
			writeError(w, http.StatusForbidden, "forbidden")
			return
		}
		var req createTestDriveRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		created, err := s.app.CreateRequest(identity.UserID, req.DealerID, req.CarID, req.RequestedDate, req.RequestedTime)
		if err != nil {
			s.writeAppError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, created)
	case http.MethodGet:
		role, ok := actorRole(identity)
		if !ok {
			writeError(w, http.StatusForbidden, "forbidden")
			return
		}
		requests, err := s.app.RequestsFor(identity.UserID, role)
		if err != nil {
			s.writeAppError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"requests": requests})
	default:
		methodNotAllowed(w)
	}
}

type transitionRequest struct {
	Event  string `json:"event"`
	Reason string `json:"reason,omitempty"`
}

func (s *Server) handleTestDriveByID(w http.ResponseWriter, r *http.Request, identity usertoken.Identity) {
	rest := strings.TrimPrefix(r.URL.Path, "/test-drives/")
	requestID, action, _ := strings.Cut(rest, "/")
	if requestID == "" || action != "transition" {
		notFound(w, "test drive request not found")
		return
	}
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	role, ok := actorRole(identity)
	if !ok {
		writeError(w, http.StatusForbidden, "forbidden")
		return
	}
	var req transitionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	updated, err := s.app.Transition(requestID, identity.UserID, role, domain.TransitionEvent(req.Event), app.TransitionPayload{Reason: req.Reason})
	if err != nil {
		s.writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (s *Server) handlePendingCount(w http.ResponseWriter, r *http.Request, identity usertoken.Identity) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	count, err := s.app.PendingCount(identity.UserID)
	if err != nil {
		s.writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"pendingCount": count})
}

func (s *Server) handlePresence(w http.ResponseWriter, r *http.Request, _ usertoken.Identity) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"online": s.hub.Presence().Snapshot()})
}

func (s *Server) handleAttachmentUpload(w http.ResponseWriter, r *http.Request, identity usertoken.Identity) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	if s.attachments == nil {
		writeError(w, http.StatusServiceUnavailable, "attachment storage not configured")
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadBytes)
	if err := r.ParseMultipartForm(s.maxUploadBytes); err != nil {
		writeError(w, http.StatusBadRequest, "invalid form data")
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "file is required (field: file)")
		return
	}
	defer file.Close()

	contentType := header.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	key := storage.AttachmentKey(identity.UserID, header.Filename)
	if err := s.attachments.Put(r.Context(), key, file, header.Size, contentType); err != nil {
		writeError(w, http.StatusInternalServerError, "upload failed")
		return
	}
	writeJSON(w, http.StatusCreated, domain.Attachment{
		StorageKey:  key,
		ContentType: contentType,
		SizeBytes:   header.Size,
	})
}

func (s *Server) handleAttachmentURL(w http.ResponseWriter, r *http.Request, _ usertoken.Identity) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	if s.attachments == nil {
		writeError(w, http.StatusServiceUnavailable, "attachment storage not configured")
		return
	}
	key := strings.TrimSpace(r.URL.Query().Get("key"))
	if key == "" || !strings.HasPrefix(key, "attachments/") {
		writeError(w, http.StatusBadRequest, "invalid attachment key")
		return
	}
	expiry := 15 * time.Minute
	url, err := s.attachments.PresignGet(r.Context(), key, expiry)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to generate download URL")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"url":       url,
		"expiresAt": time.Now().Add(expiry).UTC().Format(time.RFC3339),
	})
}

func (s *Server) writeAppError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, app.ErrValidation):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, app.ErrForbidden):
		writeError(w, http.StatusForbidden, "forbidden")
	case errors.Is(err, app.ErrNotFound):
		notFound(w, err.Error())
	case errors.Is(err, app.ErrInvalidState), errors.Is(err, app.ErrConflict):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, app.ErrStoreUnavailable):
		writeError(w, http.StatusServiceUnavailable, "store unavailable")
	default:
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

// allowSend applies the per-sender quota. A nil limiter means unlimited.
func (s *Server) allowSend(userID string) bool {
	if s.sendLimiter == nil {
		return true
	}
	return s.sendLimiter.Allow(userID)
}

func actorRole(identity usertoken.Identity) (domain.ActorRole, bool) {
	switch strings.ToLower(strings.TrimSpace(identity.Role)) {
	case string(domain.RoleBuyer):
		return domain.RoleBuyer, true
	case string(domain.RoleDealer):
		return domain.RoleDealer, true
	default:
		return "", false
	}
}

func decodeJSON(r *http.Request, dst any) error {
	defer io.Copy(io.Discard, r.Body)
	return json.NewDecoder(r.Body).Decode(dst)
}

func methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

func notFound(w http.ResponseWriter, msg string) {
	writeError(w, http.StatusNotFound, msg)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

type errorResponse struct {
	Error     string `json:"error"`
	RequestID string `json:"requestId,omitempty"`
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{
		Error:     msg,
		RequestID: strings.TrimSpace(w.Header().Get("X-Request-Id")),
	})
}

func bearerToken(r *http.Request) (string, bool) {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if header == "" {
		return "", false
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", false
	}
	token := strings.TrimSpace(parts[1])
	if token == "" {
		return "", false
	}
	return token, true
}
