// medvaultd runs the vault behind its HTTP interface.
package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/medblocks/medvault"
	"github.com/medblocks/medvault/api"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the YAML config file")
	flag.Parse()

	// A missing .env is fine; the environment may already be populated.
	_ = godotenv.Load()

	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	if err := run(*configPath, log); err != nil {
		log.Fatalf("medvaultd: %v", err)
	}
}

func run(configPath string, log *logrus.Logger) error {
	conf, err := medvault.LoadConfig(configPath)
	if err != nil {
		return err
	}

	vault, err := medvault.New(conf, log)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	startCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := vault.Start(startCtx); err != nil {
		return err
	}
	defer vault.Close()

	server := &http.Server{
		Addr:              conf.ListenAddr,
		Handler:           api.New(vault, log),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.WithField("addr", conf.ListenAddr).Info("http server listening")
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	case <-ctx.Done():
		log.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Warnf("http shutdown: %v", err)
		}
	}
	return nil
}
