package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	httperr "github.com/tributary-io/tributary/internal/core/errors"
	"github.com/tributary-io/tributary/internal/poller"
	"github.com/tributary-io/tributary/internal/supervisor"
)

// Controller is the slice of the supervisor the control API needs.
type Controller interface {
	Healthy() bool
	Status() map[string]poller.Status
	AccountStatus(accountID string) (poller.Status, error)
	Pause(accountID string) error
	Resume(accountID string) error
}

type Server struct {
	Engine *gin.Engine
	Addr   string
	ctrl   Controller
}

func New(addr string, ctrl Controller, mode string) *Server {
	// Set Gin mode based on configuration
	if mode == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.Default()

	s := &Server{
		Engine: r,
		Addr:   addr,
		ctrl:   ctrl,
	}

	r.GET("/health", s.healthHandler)
	r.GET("/v1/status", s.statusHandler)
	r.GET("/v1/accounts/:account/status", s.accountStatusHandler)
	r.POST("/v1/accounts/:account/pause", s.pauseHandler)
	r.POST("/v1/accounts/:account/resume", s.resumeHandler)

	return s
}

// healthHandler reports 200 while every session is polling or deliberately
// paused, 503 otherwise with the offending session states.
func (s *Server) healthHandler(c *gin.Context) {
	status := s.ctrl.Status()

	if s.ctrl.Healthy() {
		c.JSON(http.StatusOK, gin.H{
			"status":   "healthy",
			"accounts": len(status),
		})
		return
	}

	states := make(map[string]string, len(status))
	for accountID, st := range status {
		states[accountID] = string(st.State)
	}
	slog.Warn("Health check failed: sessions not polling", "accounts", states)
	c.JSON(http.StatusServiceUnavailable, gin.H{
		"status":   "unhealthy",
		"accounts": states,
	})
}

func (s *Server) statusHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"accounts": s.ctrl.Status()})
}

func (s *Server) accountStatusHandler(c *gin.Context) {
	st, err := s.ctrl.AccountStatus(c.Param("account"))
	if err != nil {
		writeControlError(c, err)
		return
	}
	c.JSON(http.StatusOK, st)
}

func (s *Server) pauseHandler(c *gin.Context) {
	accountID := c.Param("account")
	if err := s.ctrl.Pause(accountID); err != nil {
		writeControlError(c, err)
		return
	}

	slog.Info("Account paused via control API", "account_id", accountID)
	c.JSON(http.StatusOK, gin.H{"status": "paused"})
}

func (s *Server) resumeHandler(c *gin.Context) {
	accountID := c.Param("account")
	if err := s.ctrl.Resume(accountID); err != nil {
		writeControlError(c, err)
		return
	}

	slog.Info("Account resumed via control API", "account_id", accountID)
	c.JSON(http.StatusOK, gin.H{"status": "resumed"})
}

// writeControlError maps control operation failures onto the HTTP error
// vocabulary: unknown accounts are 404, lifecycle violations are 409.
func writeControlError(c *gin.Context, err error) {
	var stateErr *poller.InvalidStateError

	switch {
	case errors.Is(err, supervisor.ErrUnknownAccount):
		c.JSON(http.StatusNotFound, httperr.ErrorResponse{
			ErrorType: httperr.HttpAccountNotFound,
			Message:   err.Error(),
		})
	case errors.As(err, &stateErr):
		c.JSON(http.StatusConflict, httperr.ErrorResponse{
			ErrorType: httperr.HttpInvalidStateError,
			Message:   err.Error(),
			Details:   map[string]interface{}{"state": string(stateErr.State)},
		})
	default:
		slog.Error("Control operation failed", "error", err)
		c.JSON(http.StatusInternalServerError, httperr.ErrorResponse{
			ErrorType: httperr.HttpInternalError,
			Message:   err.Error(),
		})
	}
}

func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:    s.Addr,
		Handler: s.Engine,
	}

	slog.Info("Starting HTTP Server...", "address", s.Addr)

	go func() {
		<-ctx.Done()
		slog.Info("Stopping HTTP Server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("HTTP Server forced to shutdown", "error", err)
		}
	}()

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}
