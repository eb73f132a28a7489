package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/xiaozhi-esp32-server/streamtts/internal/config"
	"github.com/xiaozhi-esp32-server/streamtts/internal/conversation"
	"github.com/xiaozhi-esp32-server/streamtts/internal/handlers"
	"github.com/xiaozhi-esp32-server/streamtts/internal/models"
	"github.com/xiaozhi-esp32-server/streamtts/internal/mqtt"
	"github.com/xiaozhi-esp32-server/streamtts/internal/telemetry"
)

const version = "1.0.0"

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP and WebSocket server",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := loadConfig()
		if err != nil {
			return err
		}
		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return serve(ctx, cfg, logger)
	},
}

func serve(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	startTime := time.Now()
	logger.Info("starting server", "version", version)

	shutdownTelemetry, metricsHandler, err := telemetry.Setup(ctx, cfg.Telemetry, logger)
	if err != nil {
		return err
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(sctx); err != nil {
			logger.Warn("telemetry shutdown", "error", err)
		}
	}()

	svc, err := newServices(cfg, logger, true)
	if err != nil {
		return err
	}
	defer svc.close()

	var mqttClient *mqtt.Client
	if cfg.MQTT.Enabled {
		mqttClient = mqtt.NewClient(cfg.MQTT, logger)
		defer mqttClient.Disconnect(250)
	}

	deps := conversation.Dependencies{
		LLM:      svc.llm,
		Pipeline: svc.pipeline,
		Registry: svc.registry,
		AudioParams: models.AudioParams{
			Format:     cfg.TTS.Format,
			SampleRate: cfg.TTS.SampleRate,
		},
		Logger: logger,
	}
	var ingress handlers.IngressPublisher
	if mqttClient != nil {
		deps.Publisher = mqttClient
		ingress = mqttClient
	}

	voices, err := svc.tts.GetProvider("")
	if err != nil {
		return err
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/xiaozhi/v1/", handlers.WebSocketHandler(deps, ingress, logger))
	mux.HandleFunc("/api/tts/voices", handlers.VoicesHandler(voices))
	mux.HandleFunc("/api/tts", handlers.TTSHandler(svc.pipeline, handlers.AudioContentType(cfg.TTS.Format), logger))
	mux.Handle(cfg.Server.MetricsPath, metricsHandler)

	// 健康检查端点
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	// 状态信息端点
	mux.HandleFunc("/status", func(w http.ResponseWriter, r *http.Request) {
		statusInfo := struct {
			Status            string    `json:"status"`
			ActiveConnections int       `json:"active_connections"`
			ActiveUsers       int       `json:"active_users"`
			MqttConnected     bool      `json:"mqtt_connected"`
			ServerStartTime   time.Time `json:"server_start_time"`
			Uptime            string    `json:"uptime"`
			Version           string    `json:"version"`
			TTSProvider       string    `json:"tts_provider"`
			LLMProvider       string    `json:"llm_provider"`
		}{
			Status:            "running",
			ActiveConnections: handlers.GetActiveConnectionsCount(),
			ActiveUsers:       svc.registry.Len(),
			MqttConnected:     mqttClient != nil && mqttClient.IsConnected(),
			ServerStartTime:   startTime,
			Uptime:            time.Since(startTime).Round(time.Second).String(),
			Version:           version,
			TTSProvider:       cfg.TTS.Provider,
			LLMProvider:       cfg.LLM.Provider,
		}
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(statusInfo); err != nil {
			logger.Warn("error encoding status info", "error", err)
		}
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server listening", "addr", srv.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil {
		logger.Warn("http shutdown", "error", err)
	}
	logger.Info("server stopped")
	return nil
}
