// Package profiling starts the optional pprof endpoint and Pyroscope agent.
package profiling

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/pprof"
	"os"
	"runtime"
	"strconv"
	"time"

	"github.com/grafana/pyroscope-go"

	"github.com/jonesrussell/siteops/internal/config"
	"github.com/jonesrussell/siteops/internal/logger"
)

const (
	applicationName   = "siteops"
	readHeaderTimeout = 5 * time.Second
	defaultServerURL  = "http://pyroscope:4040"
)

// Profiler holds whatever profiling was started.
type Profiler struct {
	pprofServer *http.Server
	pyroscope   *pyroscope.Profiler
	log         logger.Logger
}

// Start enables the profilers cfg asks for. With nothing enabled it returns
// an inert Profiler.
func Start(cfg config.ProfilingConfig, version string, log logger.Logger) (*Profiler, error) {
	p := &Profiler{log: log}

	if cfg.PprofEnabled {
		if err := p.startPprof(cfg.PprofPort); err != nil {
			return nil, err
		}
	}

	if cfg.PyroscopeEnabled {
		if err := p.startPyroscope(cfg, version); err != nil {
			_ = p.Stop(context.Background())
			return nil, err
		}
	}

	return p, nil
}

// PprofAddr returns the pprof listen address, or "" when disabled.
func (p *Profiler) PprofAddr() string {
	if p == nil || p.pprofServer == nil {
		return ""
	}
	return p.pprofServer.Addr
}

func (p *Profiler) startPprof(port int) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)

	// Bind to localhost only.
	ln, err := net.Listen("tcp", net.JoinHostPort("localhost", strconv.Itoa(port)))
	if err != nil {
		return fmt.Errorf("listen for pprof: %w", err)
	}

	p.pprofServer = &http.Server{
		Addr:              ln.Addr().String(),
		Handler:           mux,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	go func() {
		if serveErr := p.pprofServer.Serve(ln); serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			p.log.Error("pprof server error", logger.Error(serveErr))
		}
	}()

	p.log.Info("pprof server started",
		logger.String("address", p.pprofServer.Addr),
		logger.String("profiles", "http://"+p.pprofServer.Addr+"/debug/pprof/"),
	)
	return nil
}

func (p *Profiler) startPyroscope(cfg config.ProfilingConfig, version string) error {
	serverURL := cfg.PyroscopeServerURL
	if serverURL == "" {
		serverURL = defaultServerURL
	}
	environment := cfg.Environment
	if environment == "" {
		environment = "development"
	}

	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}

	profiler, err := pyroscope.Start(pyroscope.Config{
		ApplicationName: applicationName,
		ServerAddress:   serverURL,
		ProfileTypes: []pyroscope.ProfileType{
			pyroscope.ProfileCPU,
			pyroscope.ProfileAllocObjects,
			pyroscope.ProfileAllocSpace,
			pyroscope.ProfileInuseObjects,
			pyroscope.ProfileInuseSpace,
			pyroscope.ProfileGoroutines,
		},
		Tags: map[string]string{
			"environment": environment,
			"version":     version,
			"hostname":    hostname,
			"go_version":  runtime.Version(),
		},
	})
	if err != nil {
		return fmt.Errorf("failed to start Pyroscope profiler: %w", err)
	}
	p.pyroscope = profiler

	p.log.Info("Pyroscope continuous profiling started",
		logger.String("server", serverURL),
		logger.String("environment", environment),
	)
	return nil
}

// Stop shuts down whatever was started.
func (p *Profiler) Stop(ctx context.Context) error {
	if p == nil {
		return nil
	}

	var errs []error
	if p.pprofServer != nil {
		if err := p.pprofServer.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("stop pprof server: %w", err))
		}
	}
	if p.pyroscope != nil {
		if err := p.pyroscope.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("stop pyroscope: %w", err))
		}
	}
	return errors.Join(errs...)
}
