// Package transport carries the request/reply protocol over HTTP. Workers
// connect transiently: each exchange is one POST of a wire envelope to the
// protocol endpoint, answered by exactly one envelope. Unrelated clients are
// served concurrently and never block one another; within a single client the
// protocol is strictly request/reply, which HTTP enforces by construction.
package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/msmaccel/accelerd/internal/wire"
)

// maxRequestBytes bounds a single envelope. Model results carry frame maps,
// everything else is small.
const maxRequestBytes = 32 << 20

// ErrAlreadyReplied is returned by ClientHandle.Reply on a second call.
var ErrAlreadyReplied = errors.New("transport: handle already replied")

// ClientHandle addresses one in-flight request. It is valid for exactly one
// reply; a second Reply is a programming error surfaced as ErrAlreadyReplied.
type ClientHandle struct {
	clientID string
	w        http.ResponseWriter
	replied  bool
}

// ClientID identifies the requesting connection, for audit purposes only.
func (h *ClientHandle) ClientID() string { return h.clientID }

// Reply sends msg to the requester and consumes the handle.
func (h *ClientHandle) Reply(msg wire.Message) error {
	if h.replied {
		return ErrAlreadyReplied
	}
	raw, err := wire.Encode(msg)
	if err != nil {
		return fmt.Errorf("transport: failed to encode reply: %w", err)
	}
	h.replied = true
	h.w.Header().Set("Content-Type", "application/json")
	h.w.WriteHeader(http.StatusOK)
	_, err = h.w.Write(raw)
	return err
}

// Dispatcher consumes one raw request and must reply exactly once on the
// handle. Raw bytes are passed through undecoded so the dispatcher can turn
// malformed envelopes into protocol error replies instead of transport
// failures.
type Dispatcher interface {
	Dispatch(ctx context.Context, raw []byte, h *ClientHandle)
}

// Server binds the protocol endpoint plus /healthz and /metrics on one
// address.
type Server struct {
	addr string
	disp Dispatcher
	log  *slog.Logger
	http *http.Server
}

// NewServer creates a server for addr routing protocol requests to disp.
func NewServer(addr string, disp Dispatcher, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	s := &Server{addr: addr, disp: disp, log: log}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Post("/msg", s.handleMessage)
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok"}`))
	})
	r.Handle("/metrics", promhttp.Handler())

	s.http = &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler exposes the router, for tests that drive the server through
// httptest.
func (s *Server) Handler() http.Handler { return s.http.Handler }

func (s *Server) handleMessage(w http.ResponseWriter, r *http.Request) {
	raw, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBytes))
	if err != nil {
		http.Error(w, "failed to read request", http.StatusBadRequest)
		return
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	h := &ClientHandle{clientID: host, w: w}
	s.disp.Dispatch(r.Context(), raw, h)
	if !h.replied {
		// The dispatcher is required to reply exactly once; failing open
		// here would leave the worker hanging until its own timeout.
		s.log.Error("Dispatcher produced no reply", "client", host)
		http.Error(w, "no reply produced", http.StatusInternalServerError)
	}
}

// ListenAndServe runs the server until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.log.Info("Coordination server listening", "addr", s.addr)
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()
	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.http.Shutdown(shutCtx)
	}
}
