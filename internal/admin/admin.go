// Package admin exposes the range server's stats and control surface over
// HTTP: a /metrics endpoint for Prometheus scraping and a small set of
// JWT-authenticated /admin endpoints for operational introspection and
// maintenance actions, spec.md §6's AdminConfig. Grounded on the teacher's
// internal/ctrl package for its terse, error-wrapped control-plane style,
// adapted from ublk device ioctls to HTTP handlers over valyala/fasthttp,
// the pack's fast-path HTTP library (github.com/DBAShand-cdc-sink-redshift
// and github.com/ghjramos-aistore both reach for it over net/http).
package admin

import (
	"context"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v4"
	jsoniter "github.com/json-iterator/go"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttpadaptor"

	"github.com/hypertable-go/rangeserver/internal/config"
	"github.com/hypertable-go/rangeserver/internal/logging"
	"github.com/hypertable-go/rangeserver/internal/rangeserver"
)

var adminJSON = jsoniter.ConfigCompatibleWithStandardLibrary

// Server is the admin/stats HTTP surface for one range server instance.
type Server struct {
	cfg    config.AdminConfig
	rs     *rangeserver.Server
	logger *logging.Logger

	fasthttp *fasthttp.Server
	metrics  fasthttp.RequestHandler
}

// New builds an admin Server. It does not start listening until Run is
// called.
func New(cfg config.AdminConfig, rs *rangeserver.Server, logger *logging.Logger) *Server {
	if logger == nil {
		logger = logging.Default()
	}
	logger = logger.With("admin")
	s := &Server{
		cfg:     cfg,
		rs:      rs,
		logger:  logger,
		metrics: fasthttpadaptor.NewFastHTTPHandler(promhttp.Handler()),
	}
	s.fasthttp = &fasthttp.Server{
		Handler:      s.route,
		Name:         "rangeserverd-admin",
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	return s
}

// Run listens on cfg.Port until ctx is cancelled. It is a no-op if the
// admin surface is disabled in config.
func (s *Server) Run(ctx context.Context) error {
	if !s.cfg.Enabled {
		return nil
	}
	addr := fmt.Sprintf(":%d", s.cfg.Port)
	errCh := make(chan error, 1)
	go func() {
		errCh <- s.fasthttp.ListenAndServe(addr)
	}()
	s.logger.Infof("admin: listening on %s", addr)
	select {
	case <-ctx.Done():
		return s.fasthttp.Shutdown()
	case err := <-errCh:
		return err
	}
}

func (s *Server) route(ctx *fasthttp.RequestCtx) {
	path := string(ctx.Path())
	switch {
	case path == "/metrics":
		s.metrics(ctx)
	case path == "/healthz":
		ctx.SetStatusCode(fasthttp.StatusOK)
		ctx.SetBodyString("ok")
	case len(path) >= 7 && path[:7] == "/admin/":
		if !s.authenticate(ctx) {
			return
		}
		s.routeAdmin(ctx, path[7:])
	default:
		ctx.SetStatusCode(fasthttp.StatusNotFound)
	}
}

func (s *Server) routeAdmin(ctx *fasthttp.RequestCtx, sub string) {
	switch sub {
	case "stats":
		s.handleStats(ctx)
	case "ranges":
		s.handleRanges(ctx)
	case "purge-logs":
		s.handlePurgeLogs(ctx)
	default:
		ctx.SetStatusCode(fasthttp.StatusNotFound)
	}
}

// authenticate validates a bearer JWT signed with cfg.JWTKey. It writes a
// 401/403 response and returns false when the request should not proceed.
func (s *Server) authenticate(ctx *fasthttp.RequestCtx) bool {
	if s.cfg.JWTKey == "" {
		return true
	}
	auth := string(ctx.Request.Header.Peek("Authorization"))
	const prefix = "Bearer "
	if len(auth) <= len(prefix) || auth[:len(prefix)] != prefix {
		ctx.SetStatusCode(fasthttp.StatusUnauthorized)
		ctx.SetBodyString("missing bearer token")
		return false
	}
	tokenStr := auth[len(prefix):]
	_, err := jwt.Parse(tokenStr, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return []byte(s.cfg.JWTKey), nil
	})
	if err != nil {
		ctx.SetStatusCode(fasthttp.StatusForbidden)
		ctx.SetBodyString("invalid token: " + err.Error())
		return false
	}
	return true
}

func (s *Server) handleStats(ctx *fasthttp.RequestCtx) {
	writeJSON(ctx, s.rs.GetStatistics())
}

func (s *Server) handleRanges(ctx *fasthttp.RequestCtx) {
	writeJSON(ctx, s.rs.RangeSnapshots())
}

func (s *Server) handlePurgeLogs(ctx *fasthttp.RequestCtx) {
	if !ctx.IsPost() {
		ctx.SetStatusCode(fasthttp.StatusMethodNotAllowed)
		return
	}
	n, err := s.rs.PurgeLogs(ctx)
	if err != nil {
		ctx.SetStatusCode(fasthttp.StatusInternalServerError)
		ctx.SetBodyString(err.Error())
		return
	}
	writeJSON(ctx, map[string]int{"purged": n})
}

func writeJSON(ctx *fasthttp.RequestCtx, v interface{}) {
	ctx.SetContentType("application/json")
	enc := adminJSON.NewEncoder(ctx)
	if err := enc.Encode(v); err != nil {
		ctx.SetStatusCode(fasthttp.StatusInternalServerError)
		ctx.SetBodyString(err.Error())
	}
}

// IssueToken mints a JWT an operator can use against the /admin endpoints,
// for a CLI login flow in cmd/rangeserverd. ttl of zero means the token
// never expires.
func IssueToken(key string, subject string, ttl time.Duration) (string, error) {
	claims := jwt.MapClaims{"sub": subject, "iat": time.Now().Unix()}
	if ttl > 0 {
		claims["exp"] = time.Now().Add(ttl).Unix()
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(key))
}
