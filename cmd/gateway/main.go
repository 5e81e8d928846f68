package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"runtime/debug"
	"time"

	"github.com/SwissDataScienceCenter/renku-authclient/internal/apiserver"
	"github.com/SwissDataScienceCenter/renku-authclient/internal/authapi"
	"github.com/SwissDataScienceCenter/renku-authclient/internal/config"
	"github.com/SwissDataScienceCenter/renku-authclient/internal/db"
	"github.com/SwissDataScienceCenter/renku-authclient/internal/gateway"
	"github.com/SwissDataScienceCenter/renku-authclient/internal/metrics"
	"github.com/SwissDataScienceCenter/renku-authclient/internal/navigation"
	"github.com/SwissDataScienceCenter/renku-authclient/internal/notifications"
	"github.com/SwissDataScienceCenter/renku-authclient/internal/tokenrefresher"
	"github.com/SwissDataScienceCenter/renku-authclient/internal/tokenstore"
	"github.com/SwissDataScienceCenter/renku-authclient/internal/utils"
	"github.com/getsentry/sentry-go"
	sentryecho "github.com/getsentry/sentry-go/echo"
	echoprometheus "github.com/labstack/echo-contrib/prometheus"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"
)

func main() {
	// Logging setup
	slog.SetDefault(jsonLogger)
	// Load configuration
	ch := config.NewConfigHandler()
	clientConfig, err := ch.Config()
	if err != nil {
		slog.Error("loading the configuration failed", "error", err)
		os.Exit(1)
	}
	slog.Info("loaded config", "config", clientConfig)
	err = clientConfig.Validate()
	if err != nil {
		slog.Error("the config validation failed", "error", err)
		os.Exit(1)
	}
	// Set log level to "debug" if activated
	if clientConfig.DebugMode {
		logLevel.Set(slog.LevelDebug)
	}
	// Only the debug mode is applied without a restart
	ch.HandleChanges(func(c config.Config, err error) {
		if err != nil {
			slog.Error("reloading the configuration failed", "error", err)
			return
		}
		if c.DebugMode {
			logLevel.Set(slog.LevelDebug)
		} else {
			logLevel.Set(slog.LevelInfo)
		}
	})
	ch.Watch()
	// Setup
	e := echo.New()
	e.Pre(middleware.RequestID(), middleware.RemoveTrailingSlash())
	e.Use(middleware.Recover())
	// The banner and the port do not respect the logger formatting we set below so we remove them
	// the port will be logged further down when the server starts.
	e.HideBanner = true
	e.HidePort = true
	// Health check
	e.GET("/health", func(c echo.Context) error {
		return c.NoContent(http.StatusOK)
	})
	// Version endpoint
	buildInfo, ok := debug.ReadBuildInfo()
	version := ""
	if ok && buildInfo != nil {
		version = buildInfo.Main.Version
	}
	e.GET("/version", func(c echo.Context) error {
		return c.String(http.StatusOK, version)
	})
	// Sentry
	if clientConfig.Monitoring.Sentry.Enabled {
		err := sentry.Init(sentry.ClientOptions{
			Dsn:              string(clientConfig.Monitoring.Sentry.Dsn),
			EnableTracing:    clientConfig.Monitoring.Sentry.SampleRate > 0,
			TracesSampleRate: clientConfig.Monitoring.Sentry.SampleRate,
			Environment:      clientConfig.Monitoring.Sentry.Environment,
		})
		if err != nil {
			slog.Error("sentry initialization failed", "error", err)
		}
		e.Use(sentryecho.New(sentryecho.Options{}), utils.SentryTracing())
	}
	// Notifications
	center := notifications.NewCenter(notifications.WithDefaultAutoDismiss(clientConfig.Notifications.AutoDismiss))
	notifier := notifications.Multi{center, notifications.LogNotifier{}}
	if clientConfig.Monitoring.Sentry.Enabled {
		notifier = append(notifier, notifications.SentryNotifier{Hub: sentry.CurrentHub()})
	}
	// Metrics
	var clientMetrics *metrics.Metrics
	if clientConfig.Monitoring.Prometheus.Enabled {
		clientMetrics, err = metrics.NewMetrics(prometheus.DefaultRegisterer)
		if err != nil {
			slog.Error("metrics initialization failed", "error", err)
			os.Exit(1)
		}
	}
	// Initialize the token repository
	tokenRepo, err := db.NewTokenRepository(clientConfig)
	if err != nil {
		slog.Error("token repository initialization failed", "error", err)
		os.Exit(1)
	}
	// Initialize the auth API client
	authClient, err := authapi.NewClient(
		authapi.WithBaseURL(clientConfig.API.BaseURL),
		authapi.WithTimeout(clientConfig.API.RequestTimeout(clientConfig.RunningEnvironment)),
		authapi.WithContentType(clientConfig.API.ContentType),
	)
	if err != nil {
		slog.Error("auth api client initialization failed", "error", err)
		os.Exit(1)
	}
	// Initialize the token store and restore the previous credential
	history := navigation.NewHistory(clientConfig.Navigation.HomePath)
	tokenStore, err := tokenstore.NewTokenStore(
		tokenstore.WithAuthAPI(authClient),
		tokenstore.WithTokenRepository(tokenRepo),
		tokenstore.WithNavigator(history),
		tokenstore.WithNotifier(notifier),
		tokenstore.WithMetrics(clientMetrics),
		tokenstore.WithLoginPath(clientConfig.Navigation.LoginPath),
		tokenstore.WithAutoDismiss(clientConfig.Notifications.AutoDismiss),
	)
	if err != nil {
		slog.Error("token store initialization failed", "error", err)
		os.Exit(1)
	}
	err = tokenStore.Load(context.Background())
	if err != nil {
		slog.Error("loading the persisted credential failed", "error", err)
		os.Exit(1)
	}
	// Initialize the request gateway
	requestGateway, err := gateway.NewGateway(
		gateway.WithAPIConfig(clientConfig.API, clientConfig.RunningEnvironment),
		gateway.WithCredentialStore(tokenStore),
		gateway.WithNotifier(notifier),
		gateway.WithMetrics(clientMetrics),
		gateway.WithAutoDismiss(clientConfig.Notifications.AutoDismiss),
	)
	if err != nil {
		slog.Error("request gateway initialization failed", "error", err)
		os.Exit(1)
	}
	// Proactive token refresh
	if clientConfig.Refresher.Enabled {
		refresher, err := tokenrefresher.NewTokenRefresher(
			tokenrefresher.WithConfig(clientConfig.Refresher),
			tokenrefresher.WithCredentialReader(tokenStore),
			tokenrefresher.WithRefresher(requestGateway),
		)
		if err != nil {
			slog.Error("token refresher initialization failed", "error", err)
			os.Exit(1)
		}
		scheduler, err := refresher.GetScheduler()
		if err != nil {
			slog.Error("token refresher scheduler initialization failed", "error", err)
			os.Exit(1)
		}
		scheduler.StartAsync()
		defer scheduler.Stop()
	}
	// Initialize the browser facing handlers
	routes := navigation.DefaultRoutes()
	guard, err := navigation.NewGuard(
		navigation.WithRoutes(routes...),
		navigation.WithAuthStatus(tokenStore),
		navigation.WithLoginPath(clientConfig.Navigation.LoginPath),
		navigation.WithHomePath(clientConfig.Navigation.HomePath),
	)
	if err != nil {
		slog.Error("route guard initialization failed", "error", err)
		os.Exit(1)
	}
	server, err := apiserver.NewServer(
		apiserver.WithAuthenticator(tokenStore),
		apiserver.WithExecutor(requestGateway),
		apiserver.WithNotificationCenter(center),
		apiserver.WithGuard(guard, routes...),
		apiserver.WithAutoDismiss(clientConfig.Notifications.AutoDismiss),
	)
	if err != nil {
		slog.Error("api server handlers initialization failed", "error", err)
		os.Exit(1)
	}
	server.RegisterHandlers(e, commonMiddlewares...)
	// Rate limiting
	if clientConfig.Server.RateLimits.Enabled {
		e.Use(middleware.RateLimiter(
			middleware.NewRateLimiterMemoryStoreWithConfig(
				middleware.RateLimiterMemoryStoreConfig{
					Rate:      rate.Limit(clientConfig.Server.RateLimits.Rate),
					Burst:     clientConfig.Server.RateLimits.Burst,
					ExpiresIn: 3 * time.Minute,
				}),
		),
		)
	}
	// CORS
	if len(clientConfig.Server.AllowOrigin) > 0 {
		e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
			AllowOrigins:     clientConfig.Server.AllowOrigin,
			AllowCredentials: true,
			ExposeHeaders:    []string{echo.HeaderXRequestID},
		}))
	}
	// Prometheus
	if clientConfig.Monitoring.Prometheus.Enabled {
		e.Use(echoprometheus.NewPrometheus("authclient_http", nil).HandlerFunc)
		go func() {
			metricsServer := echo.New()
			metricsServer.HideBanner = true
			metricsServer.HidePort = true
			metricsServer.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
			err := metricsServer.Start(fmt.Sprintf(":%d", clientConfig.Monitoring.Prometheus.Port))
			if err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("prometheus server failed to start", "error", err)
				os.Exit(1)
			}
		}()
	}
	// Start server
	address := fmt.Sprintf("%s:%d", clientConfig.Server.Host, clientConfig.Server.Port)
	slog.Info("starting the server on address " + address)
	go func() {
		err := e.Start(address)
		if err != nil && err != http.ErrServerClosed {
			slog.Error("shutting down the server gracefuly failed", "error", err)
			os.Exit(1)
		}
	}()
	// Wait for interrupt signal to gracefully shutdown the server with a timeout of 10 seconds.
	// Use a buffered channel to avoid missing signals as recommended for signal.Notify
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt)
	<-quit
	slog.Info("received signal to shut down the server")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(ctx); err != nil {
		slog.Error("shutting down the server gracefully failed", "error", err)
		os.Exit(1)
	}
	if clientConfig.Monitoring.Sentry.Enabled {
		sentry.Flush(2 * time.Second)
	}
}
