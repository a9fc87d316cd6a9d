package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"sleepywoodpecker/rp-goes-plot/internal/config"
	"sleepywoodpecker/rp-goes-plot/internal/export"
	"sleepywoodpecker/rp-goes-plot/internal/logger"
	"sleepywoodpecker/rp-goes-plot/internal/metrics"
	"sleepywoodpecker/rp-goes-plot/internal/plot"
	rserial "sleepywoodpecker/rp-goes-plot/internal/rSerial"
	"sleepywoodpecker/rp-goes-plot/internal/sample"
	"sleepywoodpecker/rp-goes-plot/internal/session"
	"sleepywoodpecker/rp-goes-plot/internal/source"
	"sleepywoodpecker/rp-goes-plot/internal/stream"
	"sleepywoodpecker/rp-goes-plot/internal/telemetry"
)

const SHUTDOWN_TIMEOUT = 2 * time.Second

func main() {
	configPath := flag.String("config", "", "path to a YAML config file (defaults are used when empty)")
	duration := flag.Duration("duration", 0, "stop plotting after this long (0 waits for Ctrl-C)")
	exportDir := flag.String("export-dir", ".", "directory the csv and png are written to")
	exportName := flag.String("export-name", "", "file stem for the export (default plot_<timestamp>)")
	xAxis := flag.String("x-axis", "", "override the x axis: time or channel1..channel4")
	listPorts := flag.Bool("list-ports", false, "print the serial ports on this machine and exit")
	interactive := flag.Bool("interactive", false, "read commands from stdin instead of exporting on exit")
	flag.Parse()

	if *listPorts {
		ports, err := rserial.ListPorts()
		if err != nil {
			panic(err)
		}
		for _, port := range ports {
			fmt.Println(port)
		}
		return
	}

	cfg, err := loadConfig(*configPath, *xAxis)
	if err != nil {
		panic(err)
	}

	// context handler for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	// first initialize the main logger
	logger, err := logger.NewLogger(cfg.LogFile)
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	m := metrics.New()
	if cfg.Metrics.Address != "" {
		srv := &http.Server{Addr: cfg.Metrics.Address, Handler: m.Handler()}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Warn("[main] metrics server stopped", zap.Error(err))
			}
		}()
		defer func() {
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), SHUTDOWN_TIMEOUT)
			defer shutdownCancel()
			srv.Shutdown(shutdownCtx)
		}()
	}

	src, closeSource, err := buildSource(cfg, logger)
	if err != nil {
		logger.Fatal("[main] could not build sample source", zap.Error(err))
	}
	defer closeSource()

	bridge := stream.NewBridge()
	bridge.Activate()

	pump := source.NewPump(src, bridge, cfg.Source.SamplePeriod, logger, m)
	canvas := plot.NewCanvas()

	ctrl, err := session.NewController(session.Options{
		Channels:  cfg.SampleChannels(),
		Selection: cfg.Selection(),
		XAxis:     cfg.XAxisMode(),
		Window:    cfg.Window(),
		Style:     cfg.PlotStyle(),
		XLabel:    cfg.XLabel,
		YLabel:    cfg.YLabel,
	}, bridge, pump, canvas, logger, m)
	if err != nil {
		logger.Fatal("[main] could not create session", zap.Error(err))
	}

	// initialize UDP connection to telegraf
	if cfg.Telemetry.Address != "" {
		udpConn, err := dialTelemetry(cfg.Telemetry.Address)
		if err != nil {
			logger.Fatal("[main] could not reach telemetry address", zap.Error(err), zap.String("address", cfg.Telemetry.Address))
		}
		defer udpConn.Close()

		sampler := telemetry.NewSampler(cfg.Telemetry.Period, udpConn, cfg.Telemetry.Measurement, logger)
		channel, err := bridge.Channel()
		if err != nil {
			logger.Fatal("[main] stream bridge unavailable", zap.Error(err))
		}
		sub := channel.Subscribe(sampler.Observe)
		defer sub.Dispose()
		go sampler.Run(ctx)
	}

	// run everything
	go pump.Run(ctx)

	if err := ctrl.Start(); err != nil {
		logger.Fatal("[main] could not start plotting", zap.Error(err))
	}
	logger.Info("[main] plotting", zap.String("session", ctrl.SessionID()), zap.Stringer("xAxis", ctrl.XAxisMode()), zap.Ints("channels", ctrl.Selection().Indices()))

	png := export.PNGFunc(func(w io.Writer) error {
		return canvas.WritePNG(w, plot.DefaultWidth, plot.DefaultHeight)
	})

	var timeout <-chan time.Time
	if *duration > 0 {
		timeout = time.After(*duration)
	}

	consoleDone := make(chan struct{})
	if *interactive {
		con := &console{ctrl: ctrl, png: png, exportDir: *exportDir, out: os.Stdout, logger: logger}
		fmt.Fprintln(os.Stdout, HELP)
		go func() {
			defer close(consoleDone)
			con.Run(ctx, os.Stdin)
		}()
	}

	select {
	case <-sigCh:
		logger.Info("[main] received shutdown signal")
	case <-timeout:
		logger.Info("[main] plotting duration elapsed", zap.Duration("duration", *duration))
	case <-consoleDone:
		logger.Info("[main] console closed")
	}

	if err := ctrl.Stop(); err != nil && !errors.Is(err, session.ErrNotPlotting) {
		logger.Warn("[main] stop failed", zap.Error(err))
	}
	if err := ctrl.LastError(); err != nil {
		logger.Warn("[main] session ended with an error", zap.Error(err))
	}
	cancel()

	if *interactive {
		return
	}

	name := *exportName
	if name == "" {
		name = export.DefaultName(time.Now())
	}
	csvPath, pngPath, err := ctrl.Export(*exportDir, name, png)
	if err != nil {
		logger.Warn("[main] export skipped", zap.Error(err))
		return
	}
	logger.Info("[main] export written", zap.String("csv", csvPath), zap.String("png", pngPath), zap.Int("samples", ctrl.Snapshot().Len()))
}

func loadConfig(path, xAxis string) (*config.Config, error) {
	cfg := config.Default()
	if path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			return nil, err
		}
		cfg = *loaded
	}

	if xAxis != "" {
		if _, err := sample.ParseXAxisMode(xAxis); err != nil {
			return nil, err
		}
		cfg.XAxis = xAxis
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}
	return &cfg, nil
}

// buildSource returns the configured source and a cleanup for anything it
// opened besides the device itself.
func buildSource(cfg *config.Config, logger *zap.Logger) (source.Source, func() error, error) {
	noop := func() error { return nil }

	switch cfg.Source.Kind {
	case config.SourceCard:
		card := source.NewCard(cfg.Source.Card.Address, logger)
		if cfg.Source.Card.Timeout > 0 {
			card.Timeout = cfg.Source.Card.Timeout
		}
		return card, noop, nil

	case config.SourceSerial:
		serialCfg := cfg.Source.Serial
		src := rserial.NewSource(serialCfg.Port, serialCfg.Baudrate, rserial.Framing(serialCfg.Framing), logger)
		if serialCfg.RawLog == "" {
			return src, noop, nil
		}

		rawLog, err := os.OpenFile(serialCfg.RawLog, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, nil, err
		}
		src.RawLog = rawLog
		return src, func() error {
			src.Stop()
			return multierr.Append(rawLog.Sync(), rawLog.Close())
		}, nil

	default:
		return source.NewGenerator(logger), noop, nil
	}
}

func dialTelemetry(address string) (*net.UDPConn, error) {
	udpAddr, err := net.ResolveUDPAddr("udp", address)
	if err != nil {
		return nil, err
	}
	return net.DialUDP("udp", nil, udpAddr)
}
