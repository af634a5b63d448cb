package server

import (
	"context"
	"crypto/subtle"
	"errors"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	goerrors "github.com/goliatone/go-errors"

	auth "github.com/goliatone/go-knowly-auth"
	"github.com/goliatone/go-knowly-auth/provider/gotrue"
	"github.com/goliatone/go-knowly-auth/provider/local"
)

// Name is reported by the health endpoint.
const Name = "knowly-auth"

// Server exposes the local account service over the GoTrue compatible REST
// subset consumed by provider/gotrue.
type Server struct {
	app        *fiber.App
	accounts   *local.Accounts
	apiKey     string
	serviceKey string
	version    string
	now        func() time.Time
	logger     auth.Logger
}

// Option customizes the server.
type Option func(*Server)

// WithAPIKey requires the apikey header on every auth route.
func WithAPIKey(key string) Option {
	return func(s *Server) {
		s.apiKey = key
	}
}

// WithServiceKey enables the admin routes for callers sending this key.
func WithServiceKey(key string) Option {
	return func(s *Server) {
		s.serviceKey = key
	}
}

// WithVersion sets the version reported by the health endpoint.
func WithVersion(v string) Option {
	return func(s *Server) {
		s.version = v
	}
}

// WithLogger overrides the logger.
func WithLogger(logger auth.Logger) Option {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithClock injects a custom clock (useful for tests).
func WithClock(now func() time.Time) Option {
	return func(s *Server) {
		if now != nil {
			s.now = now
		}
	}
}

// New builds the fiber app and registers the routes.
func New(accounts *local.Accounts, opts ...Option) *Server {
	s := &Server{
		accounts: accounts,
		now:      time.Now,
		logger:   auth.DefaultLogger(),
	}

	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}

	s.app = fiber.New(fiber.Config{
		AppName:               Name,
		DisableStartupMessage: true,
		ErrorHandler:          s.errorHandler,
	})
	s.app.Use(recover.New())
	s.routes()

	return s
}

// App returns the fiber app, e.g. for app.Test or an adaptor.
func (s *Server) App() *fiber.App {
	return s.app
}

// Listen serves on addr until Shutdown.
func (s *Server) Listen(addr string) error {
	s.logger.Info("auth server listening on %s", addr)
	return s.app.Listen(addr)
}

// Shutdown stops accepting connections and waits for in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.app.ShutdownWithContext(ctx)
}

func (s *Server) routes() {
	s.app.Get(gotrue.PathHealth, s.health)

	v1 := s.app.Group("/auth/v1", s.requireAPIKey)
	v1.Post("/token", s.token)
	v1.Post("/signup", s.signUp)
	v1.Post("/logout", s.logout)
	v1.Get("/user", s.user)

	admin := v1.Group("/admin", s.requireServiceKey)
	admin.Post("/confirm", s.confirm)
}

func (s *Server) requireAPIKey(c *fiber.Ctx) error {
	if s.apiKey == "" {
		return c.Next()
	}
	if !keyMatches(c.Get("apikey"), s.apiKey) {
		return errNoAPIKey
	}
	return c.Next()
}

func (s *Server) requireServiceKey(c *fiber.Ctx) error {
	if s.serviceKey == "" {
		return errForbidden
	}
	if !keyMatches(bearerToken(c), s.serviceKey) {
		return errForbidden
	}
	return c.Next()
}

func (s *Server) errorHandler(c *fiber.Ctx, err error) error {
	status := fiber.StatusInternalServerError
	body := gotrue.ErrorResponse{
		ErrorCode: "unexpected_failure",
		Msg:       "An unexpected server error occurred",
	}

	var richErr *goerrors.Error
	var fiberErr *fiber.Error

	switch {
	case goerrors.As(err, &richErr):
		if richErr.Code >= 400 && richErr.Code < 600 {
			status = richErr.Code
		} else if richErr.Category == goerrors.CategoryValidation {
			status = fiber.StatusBadRequest
		}
		if richErr.TextCode != "" {
			body.ErrorCode = richErr.TextCode
		}
		if status < fiber.StatusInternalServerError {
			body.Msg = richErr.Message
		}
	case errors.As(err, &fiberErr):
		status = fiberErr.Code
		body.ErrorCode = textCodeForStatus(status)
		body.Msg = fiberErr.Message
	}

	if status >= fiber.StatusInternalServerError {
		s.logger.Error("%s %s failed: %v", c.Method(), c.Path(), err)
	} else {
		s.logger.Debug("%s %s rejected: %v", c.Method(), c.Path(), err)
	}

	body.Code = status
	return c.Status(status).JSON(body)
}

func bearerToken(c *fiber.Ctx) string {
	header := strings.TrimSpace(c.Get(fiber.HeaderAuthorization))
	if len(header) > 7 && strings.EqualFold(header[:7], "bearer ") {
		return strings.TrimSpace(header[7:])
	}
	return ""
}

func keyMatches(got, want string) bool {
	return subtle.ConstantTimeCompare([]byte(got), []byte(want)) == 1
}

func textCodeForStatus(status int) string {
	switch status {
	case fiber.StatusBadRequest:
		return "bad_request"
	case fiber.StatusNotFound:
		return "not_found"
	case fiber.StatusMethodNotAllowed:
		return "method_not_allowed"
	case fiber.StatusRequestEntityTooLarge:
		return "request_too_large"
	default:
		return "request_failed"
	}
}
