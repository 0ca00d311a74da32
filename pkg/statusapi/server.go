// Package statusapi exposes a small read-only HTTP surface for
// operators: the daemon status record and the current pairing code.
package statusapi

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/umflabs/wabridge/pkg/logger"
	"github.com/umflabs/wabridge/pkg/status"
)

type Server struct {
	echo   *echo.Echo
	record *status.Record
	addr   string
}

func NewServer(addr string, record *status.Record) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	s := &Server{echo: e, record: record, addr: addr}
	e.GET("/status", s.getStatus)
	e.GET("/qr", s.getQR)
	return s
}

// Start listens in the background; server errors other than clean
// shutdown are logged, never fatal.
func (s *Server) Start() {
	go func() {
		if err := s.echo.Start(s.addr); err != nil && err != http.ErrServerClosed {
			logger.ErrorCF("statusapi", "Status server stopped", map[string]interface{}{
				"addr":  s.addr,
				"error": err.Error(),
			})
		}
	}()
	logger.InfoCF("statusapi", "Status surface listening", map[string]interface{}{
		"addr": s.addr,
	})
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

func (s *Server) getStatus(c echo.Context) error {
	return c.JSON(http.StatusOK, s.record.Snapshot())
}

// getQR serves the raw pairing code as text while pairing is pending.
func (s *Server) getQR(c echo.Context) error {
	code := s.record.QR()
	if code == "" {
		return c.String(http.StatusNotFound, "no QR pending\n")
	}
	return c.String(http.StatusOK, code+"\n")
}
