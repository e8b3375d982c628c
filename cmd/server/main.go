package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"otp-auth-service/internal/config"
	"otp-auth-service/internal/factory"
	"otp-auth-service/internal/handler"
	"otp-auth-service/internal/util"
)

func main() {
	// Initialize factory (which loads config and initializes all clients)
	f, err := factory.NewFactory()
	if err != nil {
		util.Fatal("Failed to initialize factory", util.ErrorField(err))
	}
	defer f.Close()

	cfg := f.Config()
	router := setupRouter(f)

	server := &http.Server{
		Addr:         cfg.GetServerAddress(),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	if !cfg.Server.EnableTLS {
		util.Warn("Starting HTTP server - TLS is disabled",
			util.String("environment", cfg.Environment),
			util.Int("port", cfg.Server.Port),
		)
		start(server, false)
		waitForShutdown(f, server)
		return
	}

	tlsManager := f.TLSManager()
	server.Addr = fmt.Sprintf(":%d", cfg.Server.TLSPort)
	server.TLSConfig = tlsManager.GetTLSConfig()

	// The plain port only answers ACME challenges and redirects to HTTPS.
	redirect := &http.Server{
		Addr:              cfg.GetServerAddress(),
		Handler:           tlsManager.HTTPHandler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	util.Info("Starting HTTPS server",
		util.String("environment", cfg.Environment),
		util.Int("port", cfg.Server.TLSPort),
		util.Bool("auto_cert", tlsManager.UsesAutoCert()),
	)
	start(redirect, false)
	start(server, true)
	waitForShutdown(f, server, redirect)
}

// setupRouter creates the HTTP router with all handlers using Chi
func setupRouter(f *factory.Factory) http.Handler {
	cfg := f.Config()
	return handler.NewRouter(routerConfig(cfg), f.AuthHandler(), f, f.Logger())
}

func routerConfig(cfg *config.Config) handler.RouterConfig {
	return handler.RouterConfig{
		AllowedOrigins: cfg.Server.AllowedOrigins,
		RequestTimeout: cfg.Server.RequestTimeout,
		RequireHTTPS:   cfg.Server.RequireHTTPS,
	}
}

func start(server *http.Server, useTLS bool) {
	go func() {
		var err error
		if useTLS {
			// certificates come from TLSConfig.GetCertificate
			err = server.ListenAndServeTLS("", "")
		} else {
			err = server.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			util.Fatal("Server failed to start", util.String("address", server.Addr), util.ErrorField(err))
		}
	}()
	util.Info("Server listening", util.String("address", server.Addr), util.Bool("tls", useTLS))
}

func waitForShutdown(f *factory.Factory, servers ...*http.Server) {
	signalChan := make(chan os.Signal, 1)
	signal.Notify(signalChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	sig := <-signalChan
	util.Info("Received shutdown signal", util.String("signal", sig.String()))

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	for _, srv := range servers {
		if err := srv.Shutdown(ctx); err != nil {
			util.Error("Failed to shutdown server gracefully", util.ErrorField(err))
		}
	}
	f.Close()
}
