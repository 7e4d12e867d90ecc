package server

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

// RunServer starts a server using the given configuration and listens
func RunServer(config Config) error {
	mux := chi.NewMux()
	mux.Use(middleware.RequestID)
	mux.Use(middleware.RealIP)
	mux.Use(middleware.Logger)
	SetupRoutes(config, mux)
	srv := http.Server{Addr: config.ListenAddress, Handler: mux}
	go func() {
		config.logger.Info("listening", zap.String("address", config.ListenAddress))
		if err := srv.ListenAndServe(); err != http.ErrServerClosed {
			config.logger.Fatal("server failed", zap.Error(err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt)

	<-stop

	config.logger.Info("received SIGINT, stopping")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// Close the database before returning the error
	srvErr := srv.Shutdown(ctx)

	if err := config.database.Close(); err != nil {
		return err
	}

	return srvErr
}
