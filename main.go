package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"ptz-panel/internal/accel"
	"ptz-panel/internal/axis"
	"ptz-panel/internal/clock"
	"ptz-panel/internal/config"
	"ptz-panel/internal/device"
	"ptz-panel/internal/dispatch"
	"ptz-panel/internal/emulator"
	"ptz-panel/internal/focus"
	"ptz-panel/internal/gesture"
	"ptz-panel/internal/ingest"
	"ptz-panel/internal/metrics"
	"ptz-panel/internal/mqtt"
	"ptz-panel/internal/operations"
	"ptz-panel/internal/panasonic"
	"ptz-panel/internal/server"
	"ptz-panel/internal/state"
	"ptz-panel/internal/stepper"
	"ptz-panel/internal/telemetry"
	"ptz-panel/internal/tracing"
	"ptz-panel/internal/visca"
)

func main() {
	// Command line flags override the config file and environment.
	configPath := flag.String("config", "", "YAML config file")
	listenAddr := flag.String("listen", "", "HTTP listen address")
	rtspURL := flag.String("rtsp", "", "RTSP URL for camera stream")
	driver := flag.String("driver", "", "Camera driver (emulator, visca, panasonic, nop)")
	address := flag.String("address", "", "Camera control address")
	proto := flag.String("proto", "", "VISCA protocol (udp or tcp)")
	iceIPs := flag.String("ice-ips", "", "Comma-separated list of static server IPs advertised as ICE host candidates")
	flag.Parse()

	overrides := map[string]any{}
	setIf := func(key, val string) {
		if val != "" {
			overrides[key] = val
		}
	}
	setIf("listen", *listenAddr)
	setIf("preview.rtsp_url", *rtspURL)
	setIf("device.driver", *driver)
	setIf("device.address", *address)
	setIf("device.protocol", *proto)
	setIf("preview.ice_ips", *iceIPs)

	cfg, err := config.Load(*configPath, overrides)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	log := newLogger(os.Stderr, cfg.Log)
	slog.SetDefault(log)

	if err := run(cfg, log); err != nil {
		log.Error("Server error", "error", err)
		os.Exit(1)
	}
}

func newLogger(w io.Writer, cfg config.LogConfig) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(cfg.Format, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func run(cfg *config.Config, log *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tp, err := tracing.Setup(ctx, tracing.Config{
		Endpoint:    cfg.Tracing.Endpoint,
		Insecure:    cfg.Tracing.Insecure,
		ServiceName: cfg.Tracing.ServiceName,
	})
	if err != nil {
		return err
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(flushCtx); err != nil {
			log.Warn("Failed to flush traces", "error", err)
		}
	}()
	if cfg.Tracing.Endpoint != "" {
		log.Info("Exporting traces", "endpoint", cfg.Tracing.Endpoint)
	}

	sched := clock.NewReal()
	catalog := cfg.Catalog()
	store := state.NewStore(state.NewTree(catalog), nil)
	toggles := config.NewToggles(cfg.Toggles...)

	profiles := accel.Builtin()
	if cfg.ProfilesFile != "" {
		if err := profiles.LoadFile(cfg.ProfilesFile); err != nil {
			return err
		}
	}

	channel, closeDevice, err := openDevice(cfg, sched, store, catalog, log)
	if err != nil {
		return err
	}
	defer closeDevice()

	m := metrics.New()
	hub := server.NewHub(log)
	sinks := telemetry.Fanout{hub}

	var mqttClient *mqtt.Client
	if cfg.MQTT.Broker != "" {
		mqttClient, err = mqtt.Connect(cfg.MQTT.Broker, "ptz-panel")
		if err != nil {
			log.Warn("MQTT unavailable, telemetry and ingest disabled", "error", err)
		} else {
			defer mqttClient.Close()
			async := telemetry.NewAsync("mqtt", telemetry.NewMQTTSink(mqttClient, cfg.MQTT.Prefix), 64, log)
			defer async.Close()
			sinks = append(sinks, async)
		}
	}
	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
		defer rdb.Close()
		async := telemetry.NewAsync("redis", telemetry.NewRedisSink(rdb, cfg.Redis.Channel), 64, log)
		defer async.Close()
		sinks = append(sinks, async)
	}

	dispatcher := dispatch.New(store, channel,
		dispatch.WithSink(sinks),
		dispatch.WithMetrics(m),
		dispatch.WithLogger(log),
	)
	if err := operations.Register(dispatcher, catalog); err != nil {
		return err
	}

	gestures := gesture.New(sched, dispatcher, store, profiles,
		gesture.WithLogger(log),
		gesture.WithContext(ctx),
	)
	defer gestures.Close()
	if err := bindControls(gestures, cfg, catalog); err != nil {
		return err
	}

	navigator := focus.NewNavigator(focus.WithDebug(log, toggles.Func(config.ToggleDebugLayout)))

	if mqttClient != nil && cfg.MQTT.Ingest {
		echo := ingest.NewEcho(mqttClient, store, cfg.MQTT.Prefix, log)
		if err := echo.Start(); err != nil {
			log.Warn("MQTT ingest disabled", "error", err)
		} else {
			defer echo.Stop()
		}
	}

	srv, err := server.New(server.Config{
		ListenAddr:      cfg.Listen,
		RTSPURL:         cfg.Preview.RTSPURL,
		ICEIPs:          splitList(cfg.Preview.ICEIPs),
		ControlProtocol: cfg.Device.Driver,
		Logger:          log,
	}, hub, server.Deps{
		Store:      store,
		Dispatcher: dispatcher,
		Gestures:   gestures,
		Navigator:  navigator,
		Toggles:    toggles,
		Metrics:    m,
	})
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	log.Info("PTZ Panel Server",
		"listen", cfg.Listen,
		"driver", cfg.Device.Driver,
		"address", cfg.Device.Address,
		"rtsp", cfg.Preview.RTSPURL,
		"operations", len(dispatcher.Operations()),
	)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info("Shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// openDevice builds the command channel for the configured driver.
func openDevice(cfg *config.Config, sched clock.Scheduler, store *state.Store, catalog *axis.Catalog, log *slog.Logger) (device.Channel, func(), error) {
	switch cfg.Device.Driver {
	case config.DriverVISCA:
		ctrl, err := visca.NewController(visca.Config{
			Address:   cfg.Device.Address,
			Protocol:  cfg.Device.Protocol,
			Throttle:  cfg.Device.Throttle,
			Catalog:   catalog,
			Scheduler: sched,
			Logger:    log,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create VISCA controller: %w", err)
		}
		log.Info("Connected to VISCA", "address", cfg.Device.Address, "protocol", cfg.Device.Protocol)
		return ctrl, func() { ctrl.Close() }, nil

	case config.DriverPanasonic:
		ctrl, err := panasonic.NewController(panasonic.Config{
			Address:   cfg.Device.Address,
			Throttle:  cfg.Device.Throttle,
			Timeout:   cfg.Device.Timeout,
			Catalog:   catalog,
			Scheduler: sched,
			Logger:    log,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create Panasonic controller: %w", err)
		}
		return ctrl, func() { ctrl.Close() }, nil

	case config.DriverNop:
		return device.Nop{}, func() {}, nil
	}

	sim := emulator.New(sched, store, catalog,
		emulator.WithLogger(log),
		emulator.WithStepperOptions(
			stepper.WithMaxUnitsPerSecond(cfg.MaxUnitsPerSecond),
			stepper.WithLogger(log),
		),
	)
	return sim, func() { sim.Close() }, nil
}

// bindControls binds one slider per axis, named after the axis with "/"
// separators ("ptz/zoom"), then applies configured bindings on top.
func bindControls(g *gesture.Controller, cfg *config.Config, catalog *axis.Catalog) error {
	for _, spec := range catalog.Specs() {
		node := strings.ReplaceAll(spec.Name, ".", "/")
		b := gesture.Binding{
			Operation: operations.SetID(spec.Name),
			Axis:      spec.Name,
			Profile:   cfg.DefaultProfile,
		}
		if err := g.Bind(node, b); err != nil {
			return err
		}
	}
	for _, bc := range cfg.Bindings {
		op := bc.Operation
		if op == "" {
			op = operations.SetID(bc.Axis)
		}
		profile := bc.Profile
		if profile == "" {
			profile = cfg.DefaultProfile
		}
		if err := g.Bind(bc.Node, gesture.Binding{
			Operation: op,
			Axis:      bc.Axis,
			Profile:   profile,
			BaseStep:  bc.BaseStep,
		}); err != nil {
			return err
		}
	}
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
