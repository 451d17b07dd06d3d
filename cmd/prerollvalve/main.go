package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	prerollvalve "github.com/e7canasta/orion-care-sensor/modules/preroll-valve"
	"github.com/e7canasta/orion-care-sensor/modules/preroll-valve/internal/config"
	"github.com/e7canasta/orion-care-sensor/modules/preroll-valve/internal/control"
	"github.com/e7canasta/orion-care-sensor/modules/preroll-valve/internal/gsthost"
	"github.com/e7canasta/orion-care-sensor/modules/preroll-valve/internal/record"
	"github.com/e7canasta/orion-care-sensor/modules/preroll-valve/internal/schedule"
)

const defaultConfigPath = "config/prerollvalve.yaml"

func main() {
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	debug := flag.Bool("debug", false, "Enable debug logging")
	logJSON := flag.Bool("log-json", false, "Log as JSON instead of text")
	scheduleFlag := flag.String("schedule", "", "Open/close schedule, e.g. open@20s,close@40s (overrides config)")
	recordPath := flag.String("record", "", "Record emitted units to this file (overrides config)")
	flag.Parse()

	logLevel := slog.LevelInfo
	if *debug {
		logLevel = slog.LevelDebug
	}
	opts := &slog.HandlerOptions{Level: logLevel}
	var handler slog.Handler = slog.NewTextHandler(os.Stdout, opts)
	if *logJSON {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}
	logger := slog.New(handler)
	slog.SetDefault(logger)

	if err := run(*configPath, *scheduleFlag, *recordPath, logger); err != nil {
		logger.Error("preroll valve failed", "error", err)
		os.Exit(1)
	}
}

func run(configPath, scheduleFlag, recordPath string, logger *slog.Logger) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	valveCfg, err := cfg.ValveSettings()
	if err != nil {
		return err
	}
	reconnect := cfg.Reconnect()
	hostCfg := gsthost.HostConfig{
		Source:                cfg.Pipeline.Source,
		Sink:                  cfg.Pipeline.Sink,
		MaxReconnectAttempts:  reconnect.MaxAttempts,
		ReconnectInitialDelay: reconnect.InitialDelay,
		ReconnectMaxDelay:     reconnect.MaxDelay,
		Logger:                logger,
	}

	toggles, err := cfg.Toggles()
	if err != nil {
		return err
	}
	if scheduleFlag != "" {
		if toggles, err = schedule.Parse(scheduleFlag); err != nil {
			return fmt.Errorf("--schedule: %w", err)
		}
	}

	if recordPath == "" {
		recordPath = cfg.Pipeline.RecordPath
	}
	var recorder *record.Writer
	if recordPath != "" {
		f, err := os.Create(recordPath)
		if err != nil {
			return fmt.Errorf("failed to create record file: %w", err)
		}
		defer f.Close()
		recorder = record.NewWriter(f, cfg.Pipeline.Source)
		hostCfg.Tap = recorder
		defer func() {
			if err := recorder.Flush(); err != nil {
				logger.Error("failed to flush record file", "error", err)
			}
			records, bytes := recorder.Count()
			logger.Info("record file written", "path", recordPath, "records", records, "bytes", bytes)
		}()
	}

	var events chan prerollvalve.Event
	if cfg.MQTT.Broker != "" {
		events = make(chan prerollvalve.Event, 64)
		valveCfg.Events = events
	}

	logger.Info("starting preroll valve",
		"instance_id", cfg.InstanceID,
		"config", configPath,
		"open", valveCfg.Open,
		"max_history", valveCfg.MaxHistory,
		"flush_mode", valveCfg.FlushMode.String(),
		"schedule", len(toggles),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	host, err := gsthost.NewHost(hostCfg, valveCfg)
	if err != nil {
		return err
	}
	if err := host.Start(ctx); err != nil {
		return err
	}
	valve := host.Valve()

	if cfg.MQTT.Broker != "" {
		client, err := control.Connect(control.ClientConfig{
			Broker:   cfg.MQTT.Broker,
			ClientID: cfg.MQTT.ClientID,
			Username: cfg.MQTT.Username,
			Password: cfg.MQTT.Password,
		}, logger)
		if err != nil {
			return stopAfter(host, err, logger)
		}
		defer control.Disconnect(client, logger)

		controlCfg := control.Config{
			Topics: control.Topics{
				Control: cfg.MQTT.Topics.Control,
				Status:  cfg.MQTT.Topics.Status,
				Events:  cfg.MQTT.Topics.Events,
			},
			QoS: cfg.MQTT.QoS,
		}
		extra := func() map[string]interface{} {
			st := host.Stats()
			return map[string]interface{}{
				"instance_id": cfg.InstanceID,
				"buffers_in":  st.BuffersIn,
				"buffers_out": st.BuffersOut,
				"reconnects":  st.Reconnects,
				"uptime_s":    int64(st.Uptime.Seconds()),
			}
		}
		handler := control.NewHandler(controlCfg, client, control.ValveCallbacks(valve, extra), logger)
		if err := handler.Start(ctx); err != nil {
			return stopAfter(host, err, logger)
		}
		defer handler.Stop()

		publisher := control.NewEventPublisher(controlCfg, cfg.InstanceID, client, logger)
		go publisher.Run(ctx, events)
	}

	if len(toggles) > 0 {
		go schedule.Run(ctx, toggles, func(open bool) error {
			_, err := valve.SetOpen(open)
			return err
		}, logger)
	}

	var hostErr error
	select {
	case sig := <-sigChan:
		logger.Info("received shutdown signal", "signal", sig)
	case <-host.Done():
		hostErr = host.Err()
		if hostErr != nil {
			logger.Error("host stopped", "error", hostErr)
		} else {
			logger.Info("stream ended")
		}
	}
	cancel()

	shutdownTimeout := cfg.ShutdownTimeout()
	logger.Info("shutting down gracefully", "timeout", shutdownTimeout)

	stopped := make(chan error, 1)
	go func() { stopped <- host.Stop() }()
	select {
	case err := <-stopped:
		if err != nil {
			return fmt.Errorf("shutdown failed: %w", err)
		}
	case <-time.After(shutdownTimeout):
		return fmt.Errorf("shutdown timeout exceeded (%v)", shutdownTimeout)
	}

	logStats(logger, host.Stats())
	return hostErr
}

// stopAfter stops the host on a startup failure and returns cause, logging
// any stop error alongside it.
func stopAfter(host interface{ Stop() error }, cause error, logger *slog.Logger) error {
	if err := host.Stop(); err != nil {
		logger.Error("failed to stop host after startup error", "error", err, "cause", cause)
	}
	return cause
}

func logStats(logger *slog.Logger, st gsthost.HostStats) {
	v := st.Valve
	logger.Info("preroll valve stopped",
		"state", v.State.String(),
		"units_in", v.UnitsIn,
		"units_passed", v.UnitsPassed,
		"units_flushed", v.UnitsFlushed,
		"units_evicted", v.UnitsEvicted,
		"units_dropped", v.UnitsDropped,
		"units_discarded", v.UnitsDiscarded,
		"flushes", v.Flushes,
		"sink_errors", v.SinkErrors,
		"buffers_in", st.BuffersIn,
		"buffers_out", st.BuffersOut,
		"reconnects", st.Reconnects,
		"keyframe_interval", v.Cadence.IntervalMean,
		"uptime", st.Uptime,
	)
}
