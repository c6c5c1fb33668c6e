package server

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"go.opentelemetry.io/otel/trace"

	echoapi "go.pilab.hu/socialcore/api/echo"
	"go.pilab.hu/socialcore/config"
	"go.pilab.hu/socialcore/log"
	"go.pilab.hu/socialcore/middleware"
)

// GoogleSignInWindow bounds a request to /session/google, which blocks until
// the browser completes the loopback redirect.
const GoogleSignInWindow = 5*time.Minute + 30*time.Second

// NewHTTPServer creates the echo based HTTP server for the session API.
func NewHTTPServer(cfg *config.ServerConfig, appLogger log.Logger, tracer trace.Tracer, api *echoapi.SessionAPI) *http.Server {
	e := NewRouter(appLogger, tracer, api)

	return &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           e,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      GoogleSignInWindow,
		IdleTimeout:       120 * time.Second,
	}
}

// NewRouter builds the echo instance with the middleware chain and the API routes.
func NewRouter(appLogger log.Logger, tracer trace.Tracer, api *echoapi.SessionAPI) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(echomw.Recover())
	e.Use(echomw.RequestID())
	e.Use(middleware.RequestLogger(appLogger))
	e.Use(middleware.Tracing(tracer))
	e.Use(middleware.SecurityHeaders())

	api.RegisterRoutes(e)

	return e
}
