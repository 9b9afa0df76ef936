// Package intake implements the Event Intake component (§4.E): the single
// public HTTP endpoint the source platform calls back to, both for webhook
// verification (HEAD) and for notification delivery (POST).
package intake

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"time"

	echo "github.com/labstack/echo/v5"
	"github.com/labstack/echo/v5/middleware"

	"github.com/codeready-toolchain/boardflow/pkg/dispatcher"
)

// OverflowLogger records a notification dropped because the dispatcher
// channel was full. Implemented by *overflow.Client in production; a fake in
// tests.
type OverflowLogger interface {
	Insert(ctx context.Context, eventID, reason string, receivedAt time.Time) error
}

// Config configures the intake server.
type Config struct {
	Addr           string
	MaxInputLength int // scales the request body size cap
}

func (c Config) withDefaults() Config {
	if c.Addr == "" {
		c.Addr = ":8080"
	}
	if c.MaxInputLength <= 0 {
		c.MaxInputLength = 10000
	}
	return c
}

// Server is the Event Intake HTTP server.
type Server struct {
	echo       *echo.Echo
	httpServer *http.Server
	cfg        Config
	output     chan<- dispatcher.Notification
	overflow   OverflowLogger
}

// NewServer creates the intake server. output is the bounded channel the
// Dispatcher consumes (§4.F); overflow is the local log written
// fire-and-forget when output is full.
func NewServer(cfg Config, output chan<- dispatcher.Notification, overflow OverflowLogger) *Server {
	cfg = cfg.withDefaults()
	e := echo.New()

	s := &Server{
		echo:     e,
		cfg:      cfg,
		output:   output,
		overflow: overflow,
	}
	s.setupRoutes()
	return s
}

// setupRoutes registers the single callback URL for both verbs, per the
// source platform's convention of probing the same URL with HEAD before
// ever POSTing to it.
func (s *Server) setupRoutes() {
	// Body cap: notification bodies are bounded by card description length,
	// which is itself bounded by max_input_length; scale generously above
	// that to allow for JSON envelope overhead and label/list metadata.
	bodyLimit := s.cfg.MaxInputLength * 8
	if bodyLimit < 64*1024 {
		bodyLimit = 64 * 1024
	}
	s.echo.Use(middleware.BodyLimit(bodyLimit))

	s.echo.Add(http.MethodHead, "/webhook", s.livenessHandler)
	s.echo.GET("/webhook", s.livenessHandler)
	s.echo.POST("/webhook", s.notificationHandler)
}

// livenessHandler answers the source platform's webhook verification probe:
// 200, empty body.
func (s *Server) livenessHandler(c *echo.Context) error {
	return c.NoContent(http.StatusOK)
}

// notificationHandler answers POST /webhook. It parses and hands the
// notification to the Dispatcher over the bounded channel, then responds —
// the response never waits on downstream processing. On a malformed body it
// responds 400; on a full channel it logs to the overflow log and still
// responds 200, since a non-2xx here would make the source platform retry
// and flood the queue further.
func (s *Server) notificationHandler(c *echo.Context) error {
	body, err := readBody(c)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "could not read request body")
	}

	n, err := parseNotification(body)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	select {
	case s.output <- n:
	default:
		s.recordOverflow(n.EventID)
	}

	return c.NoContent(http.StatusOK)
}

func (s *Server) recordOverflow(eventID string) {
	if s.overflow == nil {
		slog.Error("intake: dispatcher channel full, no overflow logger configured", "event_id", eventID)
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.overflow.Insert(ctx, eventID, "dispatcher channel full", time.Now()); err != nil {
			slog.Error("intake: failed to record overflow entry", "event_id", eventID, "error", err)
		}
	}()
	slog.Warn("intake: dispatcher channel full, notification deferred to overflow log", "event_id", eventID)
}

// Start starts the HTTP server on the given address (blocking).
func (s *Server) Start(addr string) error {
	s.httpServer = &http.Server{Addr: addr, Handler: s.echo}
	return s.httpServer.ListenAndServe()
}

// StartWithListener starts the HTTP server on a pre-created listener. Used
// by tests to serve on a random OS-assigned port.
func (s *Server) StartWithListener(ln net.Listener) error {
	s.httpServer = &http.Server{Handler: s.echo}
	return s.httpServer.Serve(ln)
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}
