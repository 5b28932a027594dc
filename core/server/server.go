package server

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/petclub/wabot/core/config"
	"github.com/petclub/wabot/core/logger"
	"github.com/petclub/wabot/core/whatsapp"
)

const maxWebhookBody = 1 << 20

// Router consumes normalized inbound messages.
type Router interface {
	HandleMessage(ctx context.Context, in whatsapp.Inbound)
}

// Server hosts the Meta webhook endpoint: GET for subscription verification,
// POST for event delivery.
type Server struct {
	cfg    config.ServerConfig
	verify string
	router Router
	http   *http.Server
}

// New builds the webhook server around the given router.
func New(cfg config.ServerConfig, verifyToken string, router Router) *Server {
	s := &Server{
		cfg:    cfg,
		verify: verifyToken,
		router: router,
	}

	mux := http.NewServeMux()
	mux.HandleFunc(cfg.WebhookPath, s.handleWebhook)
	mux.HandleFunc("/healthz", s.handleHealth)

	s.http = &http.Server{
		Addr:              cfg.Listen,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return s
}

// Run serves until the listener fails or Shutdown is called. A closed
// listener after Shutdown is not an error.
func (s *Server) Run() error {
	logger.Server.Info("listening",
		slog.String("event", "server.start"),
		slog.String("addr", s.cfg.Listen),
		slog.String("path", s.cfg.WebhookPath),
	)
	err := s.http.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.handleVerification(w, r)
	case http.MethodPost:
		s.handleNotification(w, r)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// handleVerification answers Meta's subscription handshake: echo the
// challenge when the verify token matches, 403 otherwise.
func (s *Server) handleVerification(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	mode := q.Get("hub.mode")
	token := q.Get("hub.verify_token")
	challenge := q.Get("hub.challenge")

	if mode == "subscribe" && subtle.ConstantTimeCompare([]byte(token), []byte(s.verify)) == 1 {
		logger.Server.Info("webhook verified",
			slog.String("event", "webhook.verify"),
		)
		w.WriteHeader(http.StatusOK)
		io.WriteString(w, challenge)
		return
	}

	logger.Server.Warn("webhook verification rejected",
		slog.String("event", "webhook.verify"),
		slog.String("mode", mode),
	)
	w.WriteHeader(http.StatusForbidden)
}

// handleNotification parses an event delivery and routes each message.
// The response is always 200 once the body parses; Meta retries anything
// else and we handle our own failures downstream.
func (s *Server) handleNotification(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		logger.Server.Warn("webhook body unreadable",
			slog.String("event", "webhook.receive"),
			slog.String("err", err.Error()),
		)
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	var n whatsapp.Notification
	if err := json.Unmarshal(body, &n); err != nil {
		logger.Server.Warn("webhook body malformed",
			slog.String("event", "webhook.receive"),
			slog.String("err", err.Error()),
		)
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	for _, status := range n.DeliveryStatuses() {
		logger.Server.Debug("delivery status",
			slog.String("event", "webhook.status"),
			slog.String("status", status.Status),
			slog.String("recipient", status.RecipientID),
		)
	}

	for _, in := range n.InboundMessages() {
		s.router.HandleMessage(ctx, in)
	}

	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	io.WriteString(w, "ok")
}
