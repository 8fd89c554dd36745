package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/Wyydra/learnloop/internal/adapter/driven/auth"
	"github.com/Wyydra/learnloop/internal/adapter/driven/gateway/ws"
	"github.com/Wyydra/learnloop/internal/adapter/driven/notify/mqtt"
	"github.com/Wyydra/learnloop/internal/adapter/driven/persistence/memory"
	"github.com/Wyydra/learnloop/internal/adapter/driven/persistence/sqlite"
	handler "github.com/Wyydra/learnloop/internal/adapter/driving/http"
	"github.com/Wyydra/learnloop/internal/config"
	"github.com/Wyydra/learnloop/internal/core/port"
	"github.com/Wyydra/learnloop/internal/core/service"
	"github.com/Wyydra/learnloop/internal/logging"
	"github.com/spf13/cobra"
)

func main() {
	var configPath string
	cmd := &cobra.Command{
		Use:           "server",
		Short:         "LearnLoop call signaling server",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			return run(cfg)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", os.Getenv("LEARNLOOP_CONFIG"), "path to the TOML config file")

	if err := cmd.Execute(); err != nil {
		l := logging.Setup("error", true)
		l.Fatal().Err(err).Msg("Server failed")
	}
}

func run(cfg config.Config) error {
	l := logging.Setup(cfg.Log.Level, cfg.Log.Pretty)

	var (
		messages port.MessageRepository
		records  port.CallRecordRepository
	)
	switch cfg.Storage.Driver {
	case "sqlite":
		store, err := sqlite.Open(cfg.Storage.Path)
		if err != nil {
			return err
		}
		defer store.Close()
		messages, records = store, store
		l.Info().Str("path", cfg.Storage.Path).Msg("Using SQLite storage")
	default:
		messages = memory.NewMessageRepository()
		records = memory.NewCallRecordRepository()
	}

	var notifier port.CallNotifier
	if cfg.MQTT.Enabled() {
		n, disconnect, err := mqtt.Connect(mqtt.Options{
			Broker:   cfg.MQTT.Broker,
			ClientID: cfg.MQTT.ClientID,
			Username: cfg.MQTT.Username,
			Password: cfg.MQTT.Password,
			Prefix:   cfg.MQTT.TopicPrefix,
		})
		if err != nil {
			return err
		}
		defer disconnect()
		notifier = n
	}

	hub := ws.NewHub()
	rooms := service.NewRoomService()
	chatService := service.NewChatService(messages, hub, rooms)
	callService := service.NewCallService(rooms, hub, records, chatService, notifier)
	authenticator := auth.NewStatic(cfg.Auth.Tokens, cfg.Auth.AllowAnonymous)
	h := handler.NewHandler(chatService, callService, hub, authenticator, cfg.Server.AllowedOrigins)

	go hub.Run()

	srv := &http.Server{
		Addr:    cfg.Server.Addr,
		Handler: h.NewRouter(),
	}

	errc := make(chan error, 1)
	go func() {
		l.Info().Str("addr", cfg.Server.Addr).Msg("Starting server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	select {
	case <-quit:
	case err := <-errc:
		hub.Stop()
		return err
	}
	l.Info().Msg("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout.Duration)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		l.Error().Err(err).Msg("Server forced to shutdown")
	}

	hub.Stop()
	l.Info().Msg("Server exited")
	return nil
}
