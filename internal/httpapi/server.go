package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/ent0n29/lexclaim/internal/account"
	"github.com/ent0n29/lexclaim/internal/apiclient"
	"github.com/ent0n29/lexclaim/internal/auth"
	"github.com/ent0n29/lexclaim/internal/config"
	"github.com/ent0n29/lexclaim/internal/document"
	"github.com/ent0n29/lexclaim/internal/issue"
	"github.com/ent0n29/lexclaim/internal/observability"
	"github.com/ent0n29/lexclaim/internal/policy"
	"github.com/ent0n29/lexclaim/internal/protocol"
	"github.com/ent0n29/lexclaim/internal/reliability"
	"github.com/ent0n29/lexclaim/internal/render"
)

// Workspace builds the per-view components. Every websocket connection and
// every REST history lookup gets its own controller.
type Workspace interface {
	NewController(onChange func(issue.Conversation)) *issue.Controller
	NewRetriever(conversations document.Conversations) *document.Retriever
}

type Server struct {
	cfg       config.Config
	auth      *auth.Service
	account   *account.Service
	workspace Workspace
	metrics   *observability.Metrics
	logger    *slog.Logger
	upgrader  websocket.Upgrader
	static    http.Handler
}

func New(cfg config.Config, authSvc *auth.Service, accountSvc *account.Service, workspace Workspace, metrics *observability.Metrics, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		cfg:       cfg,
		auth:      authSvc,
		account:   accountSvc,
		workspace: workspace,
		metrics:   metrics,
		logger:    logger,
		static:    newStaticHandler(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				// Only same-origin browsers may drive the stored session.
				if cfg.AllowAnyOrigin {
					return true
				}
				origin := strings.TrimSpace(r.Header.Get("Origin"))
				if origin == "" {
					return true
				}
				u, err := url.Parse(origin)
				if err != nil {
					return false
				}
				if u.Scheme != "http" && u.Scheme != "https" {
					return false
				}
				return strings.EqualFold(u.Host, r.Host)
			},
		},
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/ui/", http.StatusTemporaryRedirect)
	})
	r.Get("/ui", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/ui/", http.StatusTemporaryRedirect)
	})
	r.Handle("/ui/*", http.StripPrefix("/ui/", s.static))

	r.Get("/healthz", s.handleHealth)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		observability.MetricsHandler().ServeHTTP(w, r)
	})
	r.Get("/v1/perf/latency", s.handlePerfLatency)

	r.Get("/auth/login", s.handleLogin)
	r.Get("/auth/callback", s.handleCallback)
	r.Post("/auth/logout", s.handleLogout)

	r.Get("/v1/session", s.handleSession)
	r.Get("/v1/profile", s.handleProfile)
	r.Put("/v1/profile", s.handleUpdateProfile)
	r.Get("/v1/documents", s.handleDocuments)
	r.Post("/v1/documents/{id}/download", s.handleDownloadCompleted)
	r.Get("/v1/issues/{id}", s.handleIssue)
	r.Get("/v1/ws", s.handleWS)

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":          "ok",
		"api_base_url":    s.cfg.APIBaseURL,
		"session_backend": s.cfg.SessionBackend,
		"allow_anonymous": s.cfg.AllowAnonymous,
	})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	http.Redirect(w, r, s.auth.SignInURL(), http.StatusFound)
}

func (s *Server) handleCallback(w http.ResponseWriter, r *http.Request) {
	if _, err := s.auth.Complete(r.Context(), r.URL.Query()); err != nil {
		s.logger.Warn("sign-in callback rejected", "error", err)
		http.Redirect(w, r, "/ui/?auth=error", http.StatusFound)
		return
	}
	http.Redirect(w, r, "/ui/?auth=ok", http.StatusFound)
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if err := s.auth.Logout(r.Context()); err != nil {
		respondFailure(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	sess := s.auth.Current(r.Context())
	respondJSON(w, http.StatusOK, map[string]any{
		"has_token":     sess.HasToken(),
		"authenticated": sess.Authenticated(),
		"anonymous":     sess.Anonymous,
		"identity":      sess.Identity,
		"token":         maskedToken(sess.Token),
		"sign_in_url":   "/auth/login",
	})
}

func (s *Server) handleProfile(w http.ResponseWriter, r *http.Request) {
	p, err := s.account.Profile(r.Context())
	if err != nil {
		respondFailure(w, err)
		return
	}
	respondJSON(w, http.StatusOK, p)
}

func (s *Server) handleUpdateProfile(w http.ResponseWriter, r *http.Request) {
	var req apiclient.ProfileUpdate
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	p, err := s.account.UpdateProfile(r.Context(), req)
	if err != nil {
		respondFailure(w, err)
		return
	}
	respondJSON(w, http.StatusOK, p)
}

func (s *Server) handleDocuments(w http.ResponseWriter, r *http.Request) {
	docs, err := s.account.Documents(r.Context())
	if err != nil {
		respondFailure(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"documents": docs,
		"stats":     account.Summarize(docs),
	})
}

func (s *Server) handleDownloadCompleted(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(chi.URLParam(r, "id"))
	docs, err := s.account.Documents(r.Context())
	if err != nil {
		respondFailure(w, err)
		return
	}
	for _, d := range docs {
		if d.IssueID != id {
			continue
		}
		ctrl := s.workspace.NewController(nil)
		defer ctrl.Close()
		path, err := s.workspace.NewRetriever(ctrl).DownloadCompleted(r.Context(), d)
		if err != nil {
			respondFailure(w, err)
			return
		}
		respondJSON(w, http.StatusOK, map[string]any{"issue_id": id, "path": path})
		return
	}
	respondError(w, http.StatusNotFound, "document_not_found", "no document for issue "+id)
}

func (s *Server) handleIssue(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(chi.URLParam(r, "id"))
	ctrl := s.workspace.NewController(nil)
	defer ctrl.Close()

	conv, err := ctrl.ResumeConversation(r.Context(), id)
	if err != nil {
		respondFailure(w, err)
		return
	}
	respondJSON(w, http.StatusOK, snapshotMessage(conv))
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()
	s.metrics.ObserveSessionEvent("ws_connected")

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	outbound := make(chan any, 256)
	send := func(msg any) {
		select {
		case <-ctx.Done():
		case outbound <- msg:
		}
	}

	ctrl := s.workspace.NewController(func(conv issue.Conversation) {
		send(snapshotMessage(conv))
	})
	retriever := s.workspace.NewRetriever(ctrl)

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		for {
			select {
			case <-ctx.Done():
				return
			case msg := <-outbound:
				_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
				if err := conn.WriteJSON(msg); err != nil {
					cancel()
					return
				}
				if t, ok := messageTypeOf(msg); ok {
					s.observeWS("outbound", t)
				}
			}
		}
	}()

	conn.SetReadLimit(1 << 20)
	_ = conn.SetReadDeadline(time.Now().Add(120 * time.Second))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(120 * time.Second))
		return nil
	})

	var inflight sync.WaitGroup
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			break
		}
		_ = conn.SetReadDeadline(time.Now().Add(120 * time.Second))
		if msgType != websocket.TextMessage {
			continue
		}
		parsed, err := protocol.ParseClientMessage(data)
		if err != nil {
			send(protocol.ErrorEvent{
				Type:      protocol.TypeErrorEvent,
				Code:      "invalid_client_message",
				Source:    "gateway",
				Retryable: false,
				Detail:    err.Error(),
			})
			continue
		}
		if t, ok := messageTypeOf(parsed); ok {
			s.observeWS("inbound", t)
		}

		inflight.Add(1)
		go func() {
			defer inflight.Done()
			s.dispatch(ctx, ctrl, retriever, parsed, send)
		}()
	}

	_ = ctrl.Close()
	cancel()
	inflight.Wait()
	<-writerDone
	s.metrics.ObserveSessionEvent("ws_disconnected")
}

func (s *Server) dispatch(ctx context.Context, ctrl *issue.Controller, retriever *document.Retriever, msg any, send func(any)) {
	switch m := msg.(type) {
	case protocol.CreateIssue:
		conv, err := ctrl.CreateIssue(ctx, m.Description)
		if err != nil {
			send(errorEvent("", "create_issue", err))
			return
		}
		send(protocol.SystemEvent{Type: protocol.TypeSystemEvent, Code: "issue_created", Detail: conv.IssueID})
		if _, err := ctrl.Kickoff(ctx, conv.IssueID); err != nil {
			send(errorEvent(conv.IssueID, "kickoff", err))
		}
	case protocol.SendTurn:
		// A loaded issue is served from the controller's cache.
		if _, err := ctrl.ResumeConversation(ctx, m.IssueID); err != nil {
			send(errorEvent(m.IssueID, "send_turn", err))
			return
		}
		if _, err := ctrl.SendTurn(ctx, m.IssueID, m.Text); err != nil {
			send(errorEvent(m.IssueID, "send_turn", err))
		}
	case protocol.Resume:
		conv, err := ctrl.ResumeConversation(ctx, m.IssueID)
		if err != nil {
			send(errorEvent(m.IssueID, "resume", err))
			return
		}
		send(snapshotMessage(conv))
	case protocol.Download:
		path, err := retriever.Download(ctx, m.IssueID)
		if err != nil {
			send(errorEvent(m.IssueID, "download", err))
			return
		}
		send(protocol.DownloadReady{
			Type:     protocol.TypeDownloadReady,
			IssueID:  m.IssueID,
			FileName: filepath.Base(path),
			Path:     path,
		})
	}
}

func (s *Server) observeWS(direction string, t protocol.MessageType) {
	if s.metrics == nil {
		return
	}
	s.metrics.WSMessages.WithLabelValues(direction, string(t)).Inc()
}

func snapshotMessage(conv issue.Conversation) protocol.ConversationSnapshot {
	turns := make([]protocol.Turn, 0, len(conv.Turns))
	for _, t := range conv.Turns {
		turns = append(turns, protocol.Turn{
			ID:        t.ID,
			Speaker:   string(t.Speaker),
			Text:      t.Text,
			SentAt:    t.SentAt,
			Synthetic: t.Synthetic,
		})
	}
	return protocol.ConversationSnapshot{
		Type:         protocol.TypeConversationSnapshot,
		IssueID:      conv.IssueID,
		State:        string(conv.State),
		Ended:        conv.Ended,
		Outcome:      string(conv.Outcome),
		Downloadable: conv.Downloadable(),
		Turns:        turns,
	}
}

func errorEvent(issueID, source string, err error) protocol.ErrorEvent {
	code, _ := failureCode(err)
	return protocol.ErrorEvent{
		Type:      protocol.TypeErrorEvent,
		IssueID:   issueID,
		Code:      code,
		Source:    source,
		Retryable: retryable(err),
		Detail:    render.ErrorMessage(err),
	}
}

// failureCode maps an error onto a stable code and HTTP status.
func failureCode(err error) (string, int) {
	switch {
	case errors.Is(err, issue.ErrConversationEnded):
		return "conversation_ended", http.StatusConflict
	case errors.Is(err, issue.ErrTurnInFlight):
		return "turn_in_flight", http.StatusConflict
	case errors.Is(err, issue.ErrConversationNotLoaded):
		return "conversation_not_loaded", http.StatusConflict
	case errors.Is(err, issue.ErrSignInRequired):
		return "sign_in_required", http.StatusUnauthorized
	case errors.Is(err, document.ErrNotDownloadable):
		return "not_downloadable", http.StatusConflict
	case errors.Is(err, auth.ErrNoUser), errors.Is(err, auth.ErrMalformedCallback), errors.Is(err, auth.ErrProviderDenied):
		return "sign_in_failed", http.StatusBadRequest
	}
	kind := reliability.KindOf(err)
	switch kind {
	case reliability.KindValidation:
		return string(kind), http.StatusBadRequest
	case reliability.KindUnauthorized:
		return string(kind), http.StatusUnauthorized
	case reliability.KindForbidden:
		return string(kind), http.StatusForbidden
	case reliability.KindNotFound:
		return string(kind), http.StatusNotFound
	case reliability.KindRateLimited:
		return string(kind), http.StatusTooManyRequests
	case reliability.KindNetwork, reliability.KindServer, reliability.KindEmptyPayload:
		return string(kind), http.StatusBadGateway
	default:
		return string(kind), http.StatusInternalServerError
	}
}

func retryable(err error) bool {
	switch reliability.KindOf(err) {
	case reliability.KindRateLimited, reliability.KindNetwork, reliability.KindServer:
		return true
	}
	return false
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

var errEmptyBody = errors.New("empty body")

func decodeJSON(r *http.Request, out any) error {
	if r.Body == nil {
		return errEmptyBody
	}
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(out); err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "eof") {
			return errEmptyBody
		}
		return err
	}
	return nil
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}

func respondFailure(w http.ResponseWriter, err error) {
	code, status := failureCode(err)
	respondError(w, status, code, render.ErrorMessage(err))
}

func maskedToken(token string) string {
	if token == "" {
		return ""
	}
	return policy.MaskToken(token)
}

func messageTypeOf(v any) (protocol.MessageType, bool) {
	switch m := v.(type) {
	case protocol.CreateIssue:
		return m.Type, true
	case protocol.SendTurn:
		return m.Type, true
	case protocol.Resume:
		return m.Type, true
	case protocol.Download:
		return m.Type, true
	case protocol.ConversationSnapshot:
		return m.Type, true
	case protocol.DownloadReady:
		return m.Type, true
	case protocol.SystemEvent:
		return m.Type, true
	case protocol.ErrorEvent:
		return m.Type, true
	default:
		return "", false
	}
}
