package apiserver

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/SwissDataScienceCenter/renku-authclient/internal/authapi"
	"github.com/SwissDataScienceCenter/renku-authclient/internal/gateway"
	"github.com/SwissDataScienceCenter/renku-authclient/internal/gwerrors"
	"github.com/SwissDataScienceCenter/renku-authclient/internal/models"
	"github.com/SwissDataScienceCenter/renku-authclient/internal/navigation"
	"github.com/SwissDataScienceCenter/renku-authclient/internal/notifications"
	"github.com/SwissDataScienceCenter/renku-authclient/internal/tokenstore"
	"github.com/SwissDataScienceCenter/renku-authclient/internal/utils"
	"github.com/SwissDataScienceCenter/renku-authclient/internal/views"
	"github.com/labstack/echo/v4"
)

const maxProxyBodyBytes int64 = 10 << 20

const headerAcceptLanguage string = "Accept-Language"

// forwardedHeaders are copied from the browser request to the API request
var forwardedHeaders = []string{echo.HeaderContentType, echo.HeaderAccept, headerAcceptLanguage}

type StatusResponse struct {
	Authenticated bool         `json:"authenticated"`
	User          *models.User `json:"user,omitempty"`
}

func (s *Server) status() StatusResponse {
	res := StatusResponse{Authenticated: s.auth.IsAuthenticated()}
	if user, ok := s.auth.User(); ok {
		res.User = &user
	}
	return res
}

func (s *Server) PostLogin(c echo.Context) error {
	var req models.LoginRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, models.APIError{Message: "invalid request body"})
	}
	details := map[string][]string{}
	if req.Email == "" {
		details["email"] = []string{"required"}
	}
	if req.Password == "" {
		details["password"] = []string{"required"}
	}
	if len(details) > 0 {
		return c.JSON(http.StatusUnprocessableEntity, models.APIError{Message: "validation failed", Details: details})
	}
	_, err := s.auth.Login(c.Request().Context(), req.Email, req.Password)
	if err != nil {
		s.center.Notify(tokenstore.LoginFailedMessage, notifications.Error, s.autoDismiss)
		return c.JSON(authFailureStatus(err), models.APIError{Message: tokenstore.LoginFailedMessage})
	}
	return c.JSON(http.StatusOK, s.status())
}

func (s *Server) PostRegister(c echo.Context) error {
	var req models.RegisterRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, models.APIError{Message: "invalid request body"})
	}
	_, err := s.auth.Register(c.Request().Context(), req.Email, req.Password, req.FullName)
	if err != nil {
		s.center.Notify(tokenstore.RegisterFailedMessage, notifications.Error, s.autoDismiss)
		res := models.APIError{Message: tokenstore.RegisterFailedMessage}
		var statusErr *gwerrors.StatusError
		if errors.As(err, &statusErr) {
			// keep the validation details of the API
			if apiErr, ok := authapi.ParseError(statusErr.Body); ok {
				res.Details = apiErr.Details
				if apiErr.Message != "" {
					res.Message = apiErr.Message
				}
			}
		}
		return c.JSON(authFailureStatus(err), res)
	}
	return c.JSON(http.StatusCreated, s.status())
}

func (s *Server) PostLogout(c echo.Context) error {
	s.auth.Logout(c.Request().Context())
	return c.JSON(http.StatusOK, s.status())
}

func (s *Server) GetStatus(c echo.Context) error {
	return c.JSON(http.StatusOK, s.status())
}

func (s *Server) GetNotifications(c echo.Context) error {
	return c.JSON(http.StatusOK, s.center.List())
}

func (s *Server) DeleteNotification(c echo.Context) error {
	if !s.center.Dismiss(c.Param("id")) {
		return c.JSON(http.StatusNotFound, models.APIError{Message: "notification not found"})
	}
	return c.NoContent(http.StatusNoContent)
}

// ProxyAPI forwards /api/* to the API through the gateway
func (s *Server) ProxyAPI(c echo.Context) error {
	var body []byte
	if c.Request().Body != nil {
		var err error
		body, err = io.ReadAll(io.LimitReader(c.Request().Body, maxProxyBodyBytes))
		if err != nil {
			return err
		}
	}
	if len(body) == 0 {
		body = nil
	}
	req := gateway.NewRequest(c.Request().Method, c.Param("*"), body)
	req.Query = c.QueryParams()
	req.SetCorrelationID(utils.GetRequestID(c))
	for _, h := range forwardedHeaders {
		if v := c.Request().Header.Get(h); v != "" {
			req.Header.Set(h, v)
		}
	}
	res, err := s.executor.Execute(c.Request().Context(), req)
	if err != nil {
		return s.proxyError(c, err)
	}
	c.Response().Header().Set(echo.HeaderXRequestID, res.CorrelationID)
	if len(res.Body) == 0 {
		return c.NoContent(res.StatusCode)
	}
	contentType := res.Header.Get(echo.HeaderContentType)
	if contentType == "" {
		contentType = echo.MIMEOctetStream
	}
	return c.Blob(res.StatusCode, contentType, res.Body)
}

func (s *Server) proxyError(c echo.Context, err error) error {
	var statusErr *gwerrors.StatusError
	switch {
	case errors.Is(err, context.Canceled):
		return err
	case errors.As(err, &statusErr) && statusErr.StatusCode != http.StatusUnauthorized:
		return c.Blob(statusErr.StatusCode, echo.MIMEApplicationJSONCharsetUTF8, statusErr.Body)
	}
	category := gateway.Classify(err)
	status := http.StatusBadGateway
	switch category {
	case gateway.CategorySession:
		status = http.StatusUnauthorized
	case gateway.CategoryTimeout:
		status = http.StatusGatewayTimeout
	}
	slog.Debug(
		"API SERVER",
		"message",
		"proxied request failed",
		"path",
		c.Request().URL.Path,
		"status",
		status,
		"error",
		err,
		"requestID",
		utils.GetRequestID(c),
		"traceID",
		utils.GetTraceID(c),
	)
	return c.JSON(status, models.APIError{Message: gateway.Message(category), Code: string(category)})
}

func (s *Server) pageHandler(route navigation.Route) echo.HandlerFunc {
	return func(c echo.Context) error {
		data := views.PageData{
			Title:         route.Name,
			Links:         s.routes,
			Authenticated: s.auth.IsAuthenticated(),
			Notifications: s.center.List(),
		}
		if user, ok := s.auth.User(); ok {
			data.User = user
		}
		return c.Render(http.StatusOK, "page", data)
	}
}

// authFailureStatus maps a failed login or registration to the status returned to the browser
func authFailureStatus(err error) int {
	code := gwerrors.StatusCode(err)
	switch {
	case code >= 400 && code < 500:
		return code
	case errors.Is(err, gwerrors.ErrTimeout):
		return http.StatusGatewayTimeout
	default:
		return http.StatusBadGateway
	}
}
