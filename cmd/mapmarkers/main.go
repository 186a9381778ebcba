package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/OCAP2/mapmarkers/internal/config"
	"github.com/OCAP2/mapmarkers/internal/dispatcher"
	"github.com/OCAP2/mapmarkers/internal/handlers"
	"github.com/OCAP2/mapmarkers/internal/influx"
	"github.com/OCAP2/mapmarkers/internal/logging"
	intOtel "github.com/OCAP2/mapmarkers/internal/otel"
	"github.com/OCAP2/mapmarkers/internal/resolver"
	"github.com/OCAP2/mapmarkers/internal/selection"
	"github.com/OCAP2/mapmarkers/internal/session"
	"github.com/OCAP2/mapmarkers/internal/storage"
	wsstorage "github.com/OCAP2/mapmarkers/internal/storage/websocket"
	"github.com/OCAP2/mapmarkers/pkg/core"

	"github.com/rs/zerolog"
	otelapi "go.opentelemetry.io/otel"
)

// module defs - BuildDate can be set at build time via ldflags
var (
	CurrentVersion string = "0.0.1"
	BuildDate      string = "unknown"
)

const appName = "mapmarkers"

// maxLineSize bounds one input line; :IMPORT: carries a whole document.
const maxLineSize = 16 * 1024 * 1024

// request is one line of input.
type request struct {
	Command string   `json:"command"`
	Args    []string `json:"args"`
}

// response is one line of output.
type response struct {
	Command string `json:"command"`
	Result  any    `json:"result,omitempty"`
	Error   string `json:"error,omitempty"`
}

// app owns every long-lived component of one process.
type app struct {
	start   time.Time
	logsDir string

	slogManager *logging.SlogManager
	log         *slog.Logger
	zlog        zerolog.Logger
	logFile     *os.File
	graylog     io.Closer
	otel        *intOtel.Provider

	session    *session.Session
	sink       storage.Sink
	stream     *wsstorage.Backend
	influx     *influx.Manager
	dispatcher *dispatcher.Dispatcher
}

func main() {
	Execute()
}

// newApp loads configuration from configDir and wires every component.
func newApp(configDir string) (*app, error) {
	a := &app{
		start:       time.Now(),
		slogManager: logging.NewSlogManager(),
	}

	// console logging until the log file is known
	a.slogManager.Setup(logging.Options{Level: "info"})
	a.log = a.slogManager.Logger()

	if err := config.Load(configDir); err != nil {
		a.log.Warn("Failed to load config, using defaults!", "error", err)
	} else {
		a.log.Info("Loaded config", "dir", configDir)
	}

	if err := a.setupLogging(); err != nil {
		return nil, err
	}

	if err := a.setupSession(); err != nil {
		a.close()
		return nil, err
	}

	if err := a.setupStorage(); err != nil {
		a.close()
		return nil, err
	}

	a.setupStreaming()
	a.setupInflux()

	d, err := dispatcher.New(logging.NewDispatcherLogger(a.zlog))
	if err != nil {
		a.close()
		return nil, fmt.Errorf("failed to create dispatcher: %w", err)
	}
	a.dispatcher = d

	handlers.NewService(handlers.Dependencies{
		Session: a.session,
		Sink:    a.sink,
		Logger:  a.log,
		Flush:   a.flush,
	}).RegisterHandlers(d)
	a.registerLifecycleHandlers(d)

	a.log.Info("Ready", "version", CurrentVersion, "commands", len(d.Commands()))
	return a, nil
}

func (a *app) setupLogging() error {
	level := config.GetString("logLevel")
	a.logsDir = config.GetString("logsDir")

	if err := os.MkdirAll(a.logsDir, 0755); err != nil {
		a.log.Error("Failed to create logs dir, logging to console", "error", err, "path", a.logsDir)
	} else {
		path := logging.LogFilePath(a.logsDir, appName, a.start)
		if _, err := os.Stat(path); err == nil {
			_ = os.Rename(path, path+".old")
		}
		f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0666)
		if err != nil {
			a.log.Error("Failed to create/open log file!", "error", err, "path", path)
		} else {
			a.logFile = f
			a.log.Info("Begin logging in logs directory", "path", path)
		}
	}

	opts := logging.Options{
		Level:       level,
		ServiceName: appName,
		Context: func() []slog.Attr {
			if a.session == nil {
				return nil
			}
			return a.session.LogAttrs()
		},
	}
	if a.logFile != nil {
		opts.File = a.logFile
	}

	otelCfg := config.GetOTelConfig()
	if otelCfg.Enabled {
		var logWriter io.Writer
		if a.logFile != nil {
			logWriter = a.logFile
		}
		provider, err := intOtel.New(otelCfg, logWriter)
		if err != nil {
			a.log.Error("Failed to initialize OTel provider", "error", err)
		} else {
			a.otel = provider
			opts.Provider = provider.LoggerProvider()
			if mp := provider.MeterProvider(); mp != nil {
				otelapi.SetMeterProvider(mp)
			}
			a.log.Info("OTel provider initialized", "endpoint", otelCfg.Endpoint)
		}
	}

	graylogCfg := config.GetGraylogConfig()
	if graylogCfg.Enabled {
		w, err := logging.NewGraylogWriter(graylogCfg.Address, appName)
		if err != nil {
			a.log.Error("Failed to set up Graylog", "error", err)
		} else {
			a.graylog = w
			opts.Graylog = w
		}
	}

	a.slogManager.Setup(opts)
	a.log = a.slogManager.Logger()

	var zw io.Writer = os.Stderr
	if a.logFile != nil {
		zw = a.logFile
	}
	a.zlog = logging.NewZerolog(zw, level).With().Str("app", appName).Logger()
	return nil
}

func (a *app) setupSession() error {
	sessCfg, err := config.GetSessionConfig()
	if err != nil {
		return err
	}
	selCfg := config.GetSelectionConfig()
	policy, err := selection.ParsePolicy(selCfg.Policy)
	if err != nil {
		return err
	}
	res, err := resolver.New(config.GetResolverConfig().Index)
	if err != nil {
		return err
	}

	a.session, err = session.New(session.Options{
		Center:       core.Position{Lon: sessCfg.Center[0], Lat: sessCfg.Center[1]},
		Policy:       policy,
		ClearOnLeave: selCfg.ClearOnLeave,
		Resolver:     res,
		Logger:       a.log,
	})
	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}

	seeds := make([]session.SeedMarker, 0, len(sessCfg.Seed))
	for _, sm := range sessCfg.Seed {
		seeds = append(seeds, session.SeedMarker{
			Position:    core.Position{Lon: sm.Lon, Lat: sm.Lat},
			Title:       sm.Title,
			Description: sm.Description,
			Score:       sm.Score,
		})
	}
	if err := a.session.Seed(seeds); err != nil {
		return fmt.Errorf("failed to seed markers: %w", err)
	}

	if sessCfg.SeedFile != "" {
		data, err := os.ReadFile(sessCfg.SeedFile)
		if err != nil {
			return fmt.Errorf("failed to read seed file: %w", err)
		}
		n, err := a.session.Import(data)
		if err != nil {
			return fmt.Errorf("failed to import seed file %s: %w", sessCfg.SeedFile, err)
		}
		a.log.Info("Imported seed file", "path", sessCfg.SeedFile, "count", n)
	}

	a.log.Info("Session ready",
		"policy", policy.String(),
		"resolver", config.GetResolverConfig().Index,
		"markers", a.session.Snapshot().Len())
	return nil
}

func (a *app) setupStorage() error {
	sink, err := createSink(config.GetStorageConfig(), sinkDeps{
		Logger:   a.log,
		DBLogger: a.zlog,
		LogsDir:  a.logsDir,
		Start:    a.start,
	})
	if err != nil {
		return err
	}
	if sink == nil {
		return nil
	}
	if err := sink.Init(); err != nil {
		_ = sink.Close()
		return fmt.Errorf("failed to initialize storage backend: %w", err)
	}
	a.sink = sink
	return nil
}

// setupStreaming publishes every view to the UI stream. A websocket sink is
// reused so there is one connection per process.
func (a *app) setupStreaming() {
	streamCfg := config.GetStreamingConfig()
	if !streamCfg.Enabled {
		return
	}

	if ws, ok := a.sink.(*wsstorage.Backend); ok {
		a.stream = ws
	} else {
		ws := wsstorage.New(streamCfg, a.log)
		if err := ws.Init(); err != nil {
			a.log.Error("Failed to connect state stream", "error", err, "url", streamCfg.URL)
			return
		}
		a.stream = ws
	}

	var pub storage.StatePublisher = a.stream
	a.session.Subscribe(func(v core.View) {
		if err := pub.PublishState(v); err != nil {
			a.log.Warn("Failed to publish state", "error", err)
		}
	})
	if err := pub.PublishState(a.session.View()); err != nil {
		a.log.Warn("Failed to publish initial state", "error", err)
	}
}

func (a *app) setupInflux() {
	influxCfg := config.GetInfluxConfig()
	if !influxCfg.Enabled {
		return
	}

	backup := filepath.Join(a.logsDir, fmt.Sprintf("%s_influx_%s.lp.gz", appName, a.start.Format("20060102_150405")))
	m := influx.NewManager(a.zlog, backup)
	if err := m.Connect(influxCfg); err != nil {
		a.log.Error("Failed to set up InfluxDB", "error", err)
		return
	}
	a.influx = m
	a.session.Subscribe(m.Listener())
}

// registerLifecycleHandlers registers process level commands
func (a *app) registerLifecycleHandlers(d *dispatcher.Dispatcher) {
	d.Register(":VERSION:", func(dispatcher.Event) (any, error) {
		return []string{CurrentVersion, BuildDate}, nil
	}, dispatcher.ReadOnly())

	d.Register(":COMMANDS:", func(dispatcher.Event) (any, error) {
		return d.Commands(), nil
	}, dispatcher.ReadOnly())

	d.Register(":GETDIR:LOGS:", func(dispatcher.Event) (any, error) {
		if a.logFile == nil {
			return "", nil
		}
		return a.logFile.Name(), nil
	}, dispatcher.ReadOnly())
}

func (a *app) flush(ctx context.Context) error {
	if a.otel == nil {
		return nil
	}
	return a.otel.Flush(ctx)
}

// run reads newline-delimited requests from in until EOF or ctx is done and
// writes one response line per request to out.
func (a *app) run(ctx context.Context, in io.Reader, out io.Writer) error {
	lines := make(chan []byte)
	scanErr := make(chan error, 1)

	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)
		for scanner.Scan() {
			line := append([]byte(nil), scanner.Bytes()...)
			select {
			case lines <- line:
			case <-ctx.Done():
				return
			}
		}
		scanErr <- scanner.Err()
	}()

	enc := json.NewEncoder(out)
	for {
		select {
		case <-ctx.Done():
			a.log.Info("Stopping", "reason", ctx.Err())
			return nil
		case line, ok := <-lines:
			if !ok {
				select {
				case err := <-scanErr:
					if err != nil {
						return fmt.Errorf("failed to read input: %w", err)
					}
				default:
				}
				return nil
			}
			if len(line) == 0 {
				continue
			}
			if err := enc.Encode(a.handleLine(line)); err != nil {
				return fmt.Errorf("failed to write output: %w", err)
			}
		}
	}
}

func (a *app) handleLine(line []byte) response {
	var req request
	if err := json.Unmarshal(line, &req); err != nil {
		return response{Error: fmt.Sprintf("invalid request: %v", err)}
	}

	result, err := a.dispatcher.Dispatch(dispatcher.Event{
		Command:   req.Command,
		Args:      req.Args,
		Timestamp: time.Now(),
	})
	resp := response{Command: req.Command, Result: result}
	if err != nil {
		resp.Error = err.Error()
	}
	return resp
}

// close waits for the running command and releases every component in reverse order.
func (a *app) close() {
	if a.dispatcher != nil {
		a.dispatcher.Close()
	}

	var errs []error
	if a.session != nil {
		errs = append(errs, a.session.Close())
	}
	if a.stream != nil && storage.Sink(a.stream) != a.sink {
		errs = append(errs, a.stream.Close())
	}
	if a.sink != nil {
		errs = append(errs, a.sink.Close())
	}
	if a.influx != nil {
		errs = append(errs, a.influx.Close())
	}
	if err := errors.Join(errs...); err != nil {
		a.log.Error("Failed to close components", "error", err)
	}

	if a.otel != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := a.otel.Shutdown(ctx); err != nil {
			a.log.Warn("Failed to shut down OTel", "error", err)
		}
		cancel()
	}
	a.log.Info("Shut down", "uptime", time.Since(a.start).Round(time.Millisecond).String())

	if a.graylog != nil {
		_ = a.graylog.Close()
	}
	if a.logFile != nil {
		_ = a.logFile.Close()
	}
}
