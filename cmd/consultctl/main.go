package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/medlink-labs/consultkit/internal/config"
	"github.com/medlink-labs/consultkit/internal/logging"
	"github.com/medlink-labs/consultkit/pkg/capture"
	"github.com/medlink-labs/consultkit/pkg/consultation"
	"github.com/medlink-labs/consultkit/pkg/domain"
	"github.com/medlink-labs/consultkit/pkg/rtc"
	"github.com/medlink-labs/consultkit/pkg/signaling"
)

// discardSink drops media payloads. The CLI has no rendering surface.
type discardSink struct{}

func (discardSink) WritePayload(kind string, payload []byte) error { return nil }

func main() {
	var (
		configPath = flag.String("config", "", "config file path (yaml or json)")
		apiURL     = flag.String("api", "", "consultation service base URL (overrides config)")
		token      = flag.String("token", "dev-token", "bearer token")
		kind       = flag.String("type", "general", "consultation type (general, tongue, facial, comprehensive)")
		duration   = flag.Duration("duration", 30*time.Second, "how long to keep the session running")
		logLevel   = flag.String("log-level", "", "log level (overrides config)")
	)
	flag.Parse()

	cfg, err := config.Load(config.LoadOptions{Path: *configPath})
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	if *apiURL != "" {
		cfg.API.BaseURL = *apiURL
	}
	if *logLevel != "" {
		cfg.Logging.Level = *logLevel
	}

	logger := logging.New(cfg.Logging)

	channel := signaling.NewChannel(signaling.ChannelOptions{
		Logger:         logger,
		ReconnectWait:  cfg.Signaling.ReconnectWait,
		MaxReconnect:   cfg.Signaling.MaxReconnect,
		WriteTimeout:   cfg.Signaling.WriteTimeout,
		ReadTimeout:    cfg.Signaling.ReadTimeout,
		PingInterval:   cfg.Signaling.PingInterval,
		MaxMessageSize: cfg.Signaling.MaxMessageSize,
	})

	options := rtc.DefaultOptions()
	options.Logger = logger
	options.Camera = rtc.NewSyntheticCamera(cfg.Capture.VideoWidth, cfg.Capture.VideoHeight, cfg.Capture.VideoFPS)
	options.Microphone = rtc.NewSyntheticMicrophone()

	orchestrator := rtc.NewOrchestrator(channel, options)

	api := consultation.NewAPIClient(consultation.APIClientOptions{
		BaseURL: cfg.API.BaseURL,
		Timeout: cfg.API.Timeout,
	}, consultation.StaticToken(*token))

	controller := consultation.NewController(api, channel, orchestrator, consultation.StaticToken(*token), consultation.ControllerOptions{
		Logger: logger,
	})

	router := consultation.NewAIRouter(channel, logger)

	encoder := capture.NewJPEGEncoder(cfg.Capture.VideoWidth, cfg.Capture.VideoHeight, 85)
	dispatcher := capture.NewDispatcher(channel, controller, encoder, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	session, err := controller.StartSession(ctx, domain.ConsultationType(*kind), "consultctl")
	if err != nil {
		log.Fatalf("failed to start session: %v", err)
	}

	logger.Info("session started",
		"session_id", session.ID,
		"room_id", session.SignalingRoomID,
		"type", string(session.ConsultationType),
	)

	router.Start()
	go printAIEvents(router, logger)
	go printPhases(controller)

	if err := controller.ConnectMedia(discardSink{}, discardSink{}); err != nil {
		logger.Error("failed to connect media", "error", err)
		controller.EndSession(context.Background())
		os.Exit(1)
	}

	// Periodic frame capture feeds the AI side, same cadence a real
	// client uses.
	frameCamera := rtc.NewSyntheticCamera(cfg.Capture.VideoWidth, cfg.Capture.VideoHeight, cfg.Capture.VideoFPS)
	if err := frameCamera.Open(rtc.FacingFront); err != nil {
		log.Fatalf("failed to open frame camera: %v", err)
	}
	defer frameCamera.Close()

	go dispatcher.RunPeriodic(ctx, cfg.Capture.FrameInterval, func() ([]byte, error) {
		sample, err := frameCamera.ReadSample()
		if err != nil {
			return nil, err
		}
		return sample.Data, nil
	})

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case <-time.After(*duration):
		logger.Info("session duration reached")
	case sig := <-sigCh:
		logger.Info("interrupted", "signal", sig.String())
	}

	cancel()
	router.Stop()

	endCtx, endCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer endCancel()

	if err := controller.EndSession(endCtx); err != nil {
		logger.Error("end session", "error", err)
	}

	result, err := controller.AnalysisResult(endCtx)
	if err != nil {
		logger.Warn("no analysis result", "error", err)
		return
	}

	fmt.Printf("\n=== Analysis Result ===\n")
	fmt.Printf("Risk level:    %s\n", result.RiskLevel)
	fmt.Printf("Urgency:       %s\n", result.UrgencyLevel)
	fmt.Printf("Summary:       %s\n", result.VisionSummary)
	for _, rec := range result.Recommendations {
		fmt.Printf("  - %s\n", rec)
	}
}

func printAIEvents(router *consultation.AIRouter, logger *logging.Logger) {
	for ev := range router.Events() {
		switch {
		case ev.Guidance != nil:
			fmt.Printf("[AI %s] %s\n", ev.Guidance.Kind, ev.Guidance.Text)
		case ev.Detection != nil:
			fmt.Printf("[AI detect] %s %s (%.2f)\n", ev.Detection.Kind, ev.Detection.Label, ev.Detection.Confidence)
		case ev.Response != nil:
			fmt.Printf("[AI] %s\n", ev.Response.Text)
		case ev.Progress != nil:
			fmt.Printf("[analysis] %s %d%%\n", ev.Progress.Step, ev.Progress.Percentage)
		case ev.Complete != nil:
			fmt.Printf("[analysis] complete: %s\n", ev.Complete.Summary)
		}
	}
}

func printPhases(controller *consultation.Controller) {
	for change := range controller.Phases() {
		fmt.Printf("[session] %s (%s)\n", change.Phase, change.Reason)
	}
}
