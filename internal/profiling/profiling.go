// Package profiling starts the optional pprof endpoint and Pyroscope agent.
// Both are off unless enabled through the environment.
package profiling

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/pprof"
	"os"
	"runtime"
	"time"

	"github.com/grafana/pyroscope-go"

	"github.com/moonerfun/flywheel/internal/logger"
)

const (
	defaultPprofPort     = "6060"
	defaultPyroscopeURL  = "http://pyroscope:4040"
	defaultEnvironment   = "development"
	applicationPrefix    = "flywheel."
	pprofShutdownTimeout = 5 * time.Second
)

// Settings controls which profilers run.
type Settings struct {
	PprofEnabled     bool
	PprofAddr        string
	PyroscopeEnabled bool
	PyroscopeURL     string
	Environment      string
	Version          string
}

// SettingsFromEnv reads ENABLE_PROFILING, PPROF_PORT,
// ENABLE_CONTINUOUS_PROFILING, PYROSCOPE_SERVER_URL, PYROSCOPE_ENVIRONMENT
// and APP_VERSION through getenv.
func SettingsFromEnv(getenv func(string) string) Settings {
	s := Settings{
		PprofEnabled:     getenv("ENABLE_PROFILING") == "true",
		PprofAddr:        "localhost:" + valueOr(getenv("PPROF_PORT"), defaultPprofPort),
		PyroscopeEnabled: getenv("ENABLE_CONTINUOUS_PROFILING") == "true",
		PyroscopeURL:     valueOr(getenv("PYROSCOPE_SERVER_URL"), defaultPyroscopeURL),
		Environment:      valueOr(getenv("PYROSCOPE_ENVIRONMENT"), defaultEnvironment),
		Version:          valueOr(getenv("APP_VERSION"), "unknown"),
	}
	return s
}

func valueOr(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}

// Profiler holds whatever profilers were started.
type Profiler struct {
	pprof     *http.Server
	pyroscope *pyroscope.Profiler
	log       logger.Logger
}

// Start launches the profilers enabled in s. A nil Profiler is never
// returned; Stop is always safe to call.
func Start(serviceName string, s Settings, log logger.Logger) (*Profiler, error) {
	p := &Profiler{log: log.With(logger.Component("profiling"))}

	if s.PprofEnabled {
		p.pprof = &http.Server{
			Addr:              s.PprofAddr,
			Handler:           pprofMux(),
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			p.log.Info("pprof server listening", logger.String("address", s.PprofAddr))
			if err := p.pprof.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				p.log.Error("pprof server failed", logger.Error(err))
			}
		}()
	}

	if s.PyroscopeEnabled {
		cfg := pyroscopeConfig(serviceName, s)
		profiler, err := pyroscope.Start(cfg)
		if err != nil {
			return p, fmt.Errorf("start pyroscope: %w", err)
		}
		p.pyroscope = profiler
		p.log.Info("continuous profiling started",
			logger.String("application", cfg.ApplicationName),
			logger.String("server", s.PyroscopeURL),
			logger.String("environment", s.Environment),
		)
	}

	return p, nil
}

func pprofMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	return mux
}

func pyroscopeConfig(serviceName string, s Settings) pyroscope.Config {
	return pyroscope.Config{
		ApplicationName: applicationPrefix + serviceName,
		ServerAddress:   s.PyroscopeURL,
		ProfileTypes: []pyroscope.ProfileType{
			pyroscope.ProfileCPU,
			pyroscope.ProfileAllocObjects,
			pyroscope.ProfileAllocSpace,
			pyroscope.ProfileInuseObjects,
			pyroscope.ProfileInuseSpace,
			pyroscope.ProfileGoroutines,
		},
		Tags: map[string]string{
			"environment": s.Environment,
			"version":     s.Version,
			"hostname":    hostname(),
			"go_version":  runtime.Version(),
		},
	}
}

// Stop shuts down any running profilers.
func (p *Profiler) Stop() {
	if p == nil {
		return
	}
	if p.pprof != nil {
		ctx, cancel := context.WithTimeout(context.Background(), pprofShutdownTimeout)
		defer cancel()
		if err := p.pprof.Shutdown(ctx); err != nil {
			p.log.Warn("pprof shutdown failed", logger.Error(err))
		}
	}
	if p.pyroscope != nil {
		if err := p.pyroscope.Stop(); err != nil {
			p.log.Warn("pyroscope stop failed", logger.Error(err))
		}
	}
}

func hostname() string {
	name, err := os.Hostname()
	if err != nil {
		return "unknown"
	}
	return name
}
