package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/enricmcalvo/UUTrap/internal/camera"
	"github.com/enricmcalvo/UUTrap/internal/controller"
	"github.com/enricmcalvo/UUTrap/internal/logger"
	"github.com/enricmcalvo/UUTrap/internal/metrics"
	"github.com/enricmcalvo/UUTrap/internal/preview"
	"github.com/enricmcalvo/UUTrap/internal/session"
	"github.com/enricmcalvo/UUTrap/internal/webmonitor"
)

var (
	// Command-line flags
	configPath      = flag.String("config", "", "Session config file (YAML)")
	logLevel        = flag.String("log-level", "info", "Log level (debug, info, warn, error, silent)")
	logColor        = flag.Bool("log-color", true, "Enable colored log output")
	metricsAddr     = flag.String("metrics", "", "Metrics server address (empty = disabled)")
	httpAddr        = flag.String("http", "", "Web monitor address (empty = disabled)")
	previewPath     = flag.String("preview", "", "PNG file refreshed with the latest frame (empty = disabled)")
	previewInterval = flag.Duration("preview-interval", time.Second, "Minimum time between preview writes")
	sensorWidth     = flag.Int("sensor-width", 640, "Simulated sensor width")
	sensorHeight    = flag.Int("sensor-height", 480, "Simulated sensor height")
	saveDir         = flag.String("save-dir", "", "Override the save directory of the config")
)

func main() {
	flag.Parse()

	// Initialize logger
	level, err := logger.ParseLevel(*logLevel)
	if err != nil {
		log.Fatalf("Invalid log level: %v", err)
	}
	logger.Init(level, os.Stderr, *logColor)
	defer logger.Sync()

	logger.Info("Main", "Camera monitor starting...")
	logger.Info("Main", "Log level: %s", level)

	cfg := session.DefaultConfig()
	if *configPath != "" {
		if cfg, err = session.Load(*configPath); err != nil {
			log.Fatalf("Failed to load config: %v", err)
		}
	}
	if *saveDir != "" {
		cfg.SaveDirectory = *saveDir
	}

	if err := run(cfg, os.Stdin, os.Stdout); err != nil {
		logger.Error("Main", "%v", err)
		logger.Sync()
		os.Exit(1)
	}
	logger.Info("Main", "Camera monitor stopped")
}

func run(cfg session.Config, in io.Reader, out io.Writer) error {
	cam := camera.NewSimulated(*sensorWidth, *sensorHeight, camera.WithExposure(cfg.Exposure))
	m := metrics.New()

	// Refresh sinks are registered before Run starts and never change after.
	var sinks []func(controller.View)
	ctrl, err := controller.New(cam, session.NewStore(cfg),
		controller.WithMetrics(m),
		controller.WithOnRefresh(func(v controller.View) {
			for _, sink := range sinks {
				sink(v)
			}
		}),
	)
	if err != nil {
		return fmt.Errorf("failed to create controller: %w", err)
	}

	views := make(chan controller.View, 1)
	if *previewPath != "" {
		sinks = append(sinks, func(v controller.View) {
			select {
			case views <- v:
			default:
			}
		})
	}

	var monitor *webmonitor.Server
	if *httpAddr != "" {
		monitorCfg := webmonitor.DefaultConfig()
		monitorCfg.Addr = *httpAddr
		if monitor, err = webmonitor.NewServer(monitorCfg, ctrl); err != nil {
			return fmt.Errorf("failed to create web monitor: %w", err)
		}
		sinks = append(sinks, monitor.Offer)
	}

	logger.Info("Main", "  Sensor: %dx%d (simulated)", *sensorWidth, *sensorHeight)
	logger.Info("Main", "  Save directory: %s", cfg.SaveDirectory)
	logger.Info("Main", "  Refresh interval: %s", cfg.RefreshInterval)

	g, ctx := errgroup.WithContext(context.Background())

	g.Go(func() error {
		return ctrl.Run(ctx)
	})

	// Event log
	g.Go(func() error {
		for {
			select {
			case ev := <-ctrl.Events():
				logger.Debug("Main", "Event: %s", ev)
			case <-ctrl.Done():
				return nil
			}
		}
	})

	// Wait for shutdown signal
	g.Go(func() error {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(sigChan)

		select {
		case sig := <-sigChan:
			logger.Info("Main", "Received %s, shutting down...", sig)
			ctrl.RequestClose()
		case <-ctrl.Done():
		}
		return nil
	})

	if *metricsAddr != "" {
		srv := m.NewServer(*metricsAddr)
		g.Go(func() error {
			logger.Info("Main", "Starting metrics server on %s", *metricsAddr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-ctrl.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	if monitor != nil {
		httpServer := &http.Server{
			Addr:              *httpAddr,
			Handler:           monitor.Handler(),
			ReadHeaderTimeout: 5 * time.Second,
		}
		g.Go(func() error {
			logger.Info("Main", "Web monitor listening on %s", *httpAddr)
			if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("web monitor: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-ctrl.Done()
			// Ends MJPEG streams so Shutdown does not wait on them.
			monitor.Close()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return httpServer.Shutdown(shutdownCtx)
		})
	}

	if *previewPath != "" {
		g.Go(func() error {
			return writePreviews(ctrl, views, *previewPath, *previewInterval)
		})
	}

	g.Go(func() error {
		return commandLoop(ctx, ctrl, in, out)
	})

	return g.Wait()
}

// commandLoop executes stdin commands until quit, EOF or shutdown.
func commandLoop(ctx context.Context, ctrl *controller.Controller, in io.Reader, out io.Writer) error {
	lines := make(chan string)
	go func() {
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctrl.Done():
				return
			}
		}
		close(lines)
	}()

	fmt.Fprintln(out, usage())
	for {
		select {
		case <-ctrl.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				// No more input; keep running until a signal arrives.
				logger.Debug("Main", "stdin closed")
				lines = nil
				continue
			}
			result, err := execute(ctx, ctrl, line)
			if errors.Is(err, errQuit) {
				ctrl.RequestClose()
				continue
			}
			if err != nil {
				fmt.Fprintf(out, "error: %v\n", err)
				continue
			}
			if result != "" {
				fmt.Fprintln(out, result)
			}
		}
	}
}

// writePreviews renders the latest view to path at most once per interval.
func writePreviews(ctrl *controller.Controller, views <-chan controller.View, path string, interval time.Duration) error {
	var last time.Time
	for {
		select {
		case <-ctrl.Done():
			return nil
		case v := <-views:
			if v.Latest == nil || time.Since(last) < interval {
				continue
			}
			last = time.Now()

			img := preview.Annotate(preview.Frame(v.Latest, 640, 480), strings.Split(formatStatus(v), "\n"))
			if err := preview.WritePNG(path, img); err != nil {
				logger.Warn("Preview", "Failed to write %s: %v", path, err)
				continue
			}
			if v.Waterfall != nil {
				wfPath := strings.TrimSuffix(path, ".png") + "_waterfall.png"
				if err := preview.WritePNG(wfPath, preview.Waterfall(v.Waterfall, 640, 480)); err != nil {
					logger.Warn("Preview", "Failed to write %s: %v", wfPath, err)
				}
			}
		}
	}
}
