// Package apiserver exposes the authenticated client to a browser: login and logout, the
// notifications, the guarded pages and a proxy to the API that goes through the gateway.
package apiserver

import (
	"context"
	"fmt"
	"time"

	"github.com/SwissDataScienceCenter/renku-authclient/internal/gateway"
	"github.com/SwissDataScienceCenter/renku-authclient/internal/models"
	"github.com/SwissDataScienceCenter/renku-authclient/internal/navigation"
	"github.com/SwissDataScienceCenter/renku-authclient/internal/notifications"
	"github.com/SwissDataScienceCenter/renku-authclient/internal/views"
	"github.com/labstack/echo/v4"
)

// Authenticator is the part of the token store used by the handlers
type Authenticator interface {
	Login(ctx context.Context, email, password string) (models.Credential, error)
	Register(ctx context.Context, email, password, fullName string) (models.Credential, error)
	Logout(ctx context.Context)
	IsAuthenticated() bool
	User() (models.User, bool)
}

// Executor sends a request to the API with the credential of the user
type Executor interface {
	Execute(ctx context.Context, req *gateway.Request) (*gateway.Response, error)
}

type Server struct {
	auth        Authenticator
	executor    Executor
	center      *notifications.Center
	guard       *navigation.Guard
	routes      []navigation.Route
	renderer    *views.TemplateRenderer
	autoDismiss time.Duration
}

func (s *Server) RegisterHandlers(server *echo.Echo, commonMiddlewares ...echo.MiddlewareFunc) {
	s.renderer.Register(server)
	e := server.Group("")
	e.Use(commonMiddlewares...)

	auth := e.Group("/auth", NoCaching)
	auth.POST("/login", s.PostLogin)
	auth.POST("/register", s.PostRegister)
	auth.POST("/logout", s.PostLogout)
	auth.GET("/status", s.GetStatus)

	e.GET("/notifications", s.GetNotifications, NoCaching)
	e.DELETE("/notifications/:id", s.DeleteNotification)

	e.Any("/api/*", s.ProxyAPI)

	for _, route := range s.routes {
		e.GET(route.Path, s.pageHandler(route), s.guard.Middleware(), NoCaching)
	}
}

type ServerOption func(*Server) error

func WithAuthenticator(auth Authenticator) ServerOption {
	return func(s *Server) error {
		s.auth = auth
		return nil
	}
}

func WithExecutor(executor Executor) ServerOption {
	return func(s *Server) error {
		s.executor = executor
		return nil
	}
}

func WithNotificationCenter(center *notifications.Center) ServerOption {
	return func(s *Server) error {
		s.center = center
		return nil
	}
}

// WithGuard sets the guard and the pages it protects
func WithGuard(guard *navigation.Guard, routes ...navigation.Route) ServerOption {
	return func(s *Server) error {
		s.guard = guard
		s.routes = routes
		return nil
	}
}

func WithAutoDismiss(d time.Duration) ServerOption {
	return func(s *Server) error {
		s.autoDismiss = d
		return nil
	}
}

// NewServer creates the handlers that serve the browser facing side of the client.
func NewServer(options ...ServerOption) (*Server, error) {
	server := Server{autoDismiss: notifications.DefaultAutoDismiss}
	for _, opt := range options {
		err := opt(&server)
		if err != nil {
			return &Server{}, err
		}
	}
	if server.auth == nil {
		return &Server{}, fmt.Errorf("authenticator not initialized")
	}
	if server.executor == nil {
		return &Server{}, fmt.Errorf("request executor not initialized")
	}
	if server.center == nil {
		return &Server{}, fmt.Errorf("notification center not initialized")
	}
	if server.guard == nil {
		return &Server{}, fmt.Errorf("route guard not initialized")
	}
	renderer, err := views.NewTemplateRenderer()
	if err != nil {
		return &Server{}, err
	}
	server.renderer = renderer
	return &server, nil
}
