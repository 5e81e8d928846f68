package navigation

import (
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/SwissDataScienceCenter/renku-authclient/internal/utils"
	"github.com/labstack/echo/v4"
)

type Route struct {
	Path         string
	Name         string
	RequiresAuth bool
	// Guest routes are only shown to users that are not logged in
	Guest bool
}

func DefaultRoutes() []Route {
	return []Route{
		{Path: "/", Name: "Home", RequiresAuth: true},
		{Path: "/login", Name: "Login", Guest: true},
		{Path: "/register", Name: "Register", Guest: true},
		{Path: "/products", Name: "Products", RequiresAuth: true},
	}
}

// AuthStatus is satisfied by the credential store
type AuthStatus interface {
	IsAuthenticated() bool
}

// Guard decides whether a route can be visited given the current authentication state
type Guard struct {
	routes    map[string]Route
	auth      AuthStatus
	loginPath string
	homePath  string
}

type GuardOption func(*Guard) error

func WithRoutes(routes ...Route) GuardOption {
	return func(g *Guard) error {
		for _, r := range routes {
			if _, found := g.routes[r.Path]; found {
				return fmt.Errorf("duplicate route %s", r.Path)
			}
			if r.Guest && r.RequiresAuth {
				return fmt.Errorf("route %s cannot be both guest only and protected", r.Path)
			}
			g.routes[r.Path] = r
		}
		return nil
	}
}

func WithAuthStatus(auth AuthStatus) GuardOption {
	return func(g *Guard) error {
		g.auth = auth
		return nil
	}
}

func WithLoginPath(path string) GuardOption {
	return func(g *Guard) error {
		g.loginPath = path
		return nil
	}
}

func WithHomePath(path string) GuardOption {
	return func(g *Guard) error {
		g.homePath = path
		return nil
	}
}

func NewGuard(options ...GuardOption) (*Guard, error) {
	g := Guard{routes: map[string]Route{}, loginPath: "/login", homePath: "/"}
	for _, opt := range options {
		err := opt(&g)
		if err != nil {
			return &Guard{}, err
		}
	}
	if g.auth == nil {
		return &Guard{}, fmt.Errorf("authentication status source is not initialized")
	}
	return &g, nil
}

func (g *Guard) Route(path string) (Route, bool) {
	r, found := g.routes[normalizePath(path)]
	return r, found
}

// Resolve returns the path the user should end up on and whether the requested one is allowed.
// Unknown routes are allowed.
func (g *Guard) Resolve(path string) (string, bool) {
	r, found := g.Route(path)
	if !found {
		return path, true
	}
	authenticated := g.auth.IsAuthenticated()
	switch {
	case r.RequiresAuth && !authenticated:
		return g.loginPath, false
	case r.Guest && authenticated:
		return g.homePath, false
	default:
		return path, true
	}
}

// Navigate resolves the path and sends the navigator to the result
func (g *Guard) Navigate(navigator Navigator, path string) string {
	target, _ := g.Resolve(path)
	navigator.RedirectTo(target)
	return target
}

// Middleware applies the guard to page requests
func (g *Guard) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			path := c.Request().URL.Path
			target, allowed := g.Resolve(path)
			if allowed {
				return next(c)
			}
			slog.Debug(
				"ROUTE GUARD MIDDLEWARE",
				"message",
				"redirecting",
				"from",
				path,
				"to",
				target,
				"requestID",
				utils.GetRequestID(c),
			)
			return c.Redirect(http.StatusFound, target)
		}
	}
}

func normalizePath(path string) string {
	if path == "" {
		return "/"
	}
	if len(path) > 1 {
		path = strings.TrimSuffix(path, "/")
	}
	return path
}
