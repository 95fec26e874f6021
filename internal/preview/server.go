// Package preview serves ephemeral attachment handles over a loopback HTTP
// server so the UI can render previews without touching remote storage.
package preview

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	echojwt "github.com/labstack/echo-jwt/v4"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/parlorhq/parlor/internal/attachment"
)

// HandleSource looks up live preview handles. The attachment controller's
// handle table satisfies it.
type HandleSource interface {
	Get(id string) (*attachment.Handle, bool)
}

// Server is the loopback preview server. With a JWT secret configured it
// guards both routes with a token query parameter, mirroring the retrieval
// URL contract of remote storage.
type Server struct {
	logger  *slog.Logger
	echo    *echo.Echo
	addr    string
	handles HandleSource
}

// NewServer builds the server over the given handle source.
func NewServer(log *slog.Logger, addr string, handles HandleSource, jwtSecret string) *Server {
	if log == nil {
		log = slog.Default()
	}
	if addr == "" {
		addr = "127.0.0.1:0"
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	if strings.TrimSpace(jwtSecret) != "" {
		e.Use(echojwt.WithConfig(echojwt.Config{
			SigningKey:    []byte(jwtSecret),
			SigningMethod: "HS256",
			TokenLookup:   "query:token",
			NewClaimsFunc: func(c echo.Context) jwt.Claims {
				return jwt.MapClaims{}
			},
		}))
	}

	s := &Server{
		logger:  log.With(slog.String("service", "preview")),
		echo:    e,
		addr:    addr,
		handles: handles,
	}
	e.GET("/preview/:id", s.serveInline)
	e.GET("/download/:id", s.serveDownload)
	return s
}

// Handler exposes the underlying router. Used by tests.
func (s *Server) Handler() http.Handler { return s.echo }

// Listen binds the server's address without serving yet, so BaseURL is
// known before Start. Start binds implicitly if Listen was not called.
func (s *Server) Listen() error {
	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("preview listen %s: %w", s.addr, err)
	}
	s.echo.Listener = listener
	return nil
}

// Start serves until Stop. It blocks. A listener bound by Listen is reused.
func (s *Server) Start() error {
	s.logger.Info("preview server starting", slog.String("addr", s.BaseURL()))
	if err := s.echo.Start(s.addr); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("preview server: %w", err)
	}
	return nil
}

// Stop shuts the server down gracefully.
func (s *Server) Stop(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

// BaseURL returns the server's origin once it is listening, or the
// configured address before that.
func (s *Server) BaseURL() string {
	if listener := s.echo.Listener; listener != nil {
		return "http://" + listener.Addr().String()
	}
	return "http://" + s.addr
}

func (s *Server) serveInline(c echo.Context) error {
	return s.serve(c, false)
}

func (s *Server) serveDownload(c echo.Context) error {
	return s.serve(c, true)
}

func (s *Server) serve(c echo.Context, download bool) error {
	id := c.Param("id")
	handle, ok := s.handles.Get(id)
	if !ok {
		s.logger.Debug("preview miss", slog.String("handle_id", id))
		return echo.NewHTTPError(http.StatusNotFound, "unknown preview handle")
	}
	data := handle.Bytes()
	if data == nil {
		// Released between lookup and read.
		return echo.NewHTTPError(http.StatusNotFound, "preview handle released")
	}
	if download {
		c.Response().Header().Set(echo.HeaderContentDisposition,
			fmt.Sprintf("attachment; filename=%q", handle.Name()))
	}
	mime := handle.Mime()
	if mime == "" {
		mime = echo.MIMEOctetStream
	}
	return c.Blob(http.StatusOK, mime, data)
}
