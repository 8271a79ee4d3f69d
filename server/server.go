package server

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/uninest/chatcore/cache"
	"github.com/uninest/chatcore/config"
	"github.com/uninest/chatcore/db"
	"github.com/uninest/chatcore/realtime"
	"github.com/uninest/chatcore/services"
)

type Server struct {
	Config                 *config.Config
	ConversationRepository db.ConversationRepository
	MessageRepository      db.MessageRepository
	ConversationService    services.ConversationService
	ConversationCache      cache.ConversationCache
	Hub                    *realtime.Hub
}

// Start runs the HTTP server until interrupted, then drains in-flight
// requests and closes the realtime hub.
func (s *Server) Start() {
	port := s.Config.Port
	if port == 0 {
		port = 8080
	}

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: s.setupRouter(),
	}

	go func() {
		logrus.WithField("addr", srv.Addr).Info("server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logrus.WithError(err).Fatal("server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit
	logrus.Info("shutting down")

	s.Hub.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logrus.WithError(err).Error("forced shutdown")
	}
}
