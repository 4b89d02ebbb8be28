// Package pprof exposes runtime profiling for a running bridge: HTTP
// endpoints mounted on the server's router and optional profile files
// written around the process lifetime.
package pprof

import (
	"errors"
	"fmt"
	"net/http"
	netpprof "net/http/pprof"
	"os"
	"path/filepath"
	"runtime/pprof"
	"sync"

	"github.com/codefionn/diffbridge/internal/logger"
	"github.com/julienschmidt/httprouter"
)

// Prefix is where the profiling endpoints are mounted
const Prefix = "/debug/pprof"

// Register mounts the net/http/pprof handlers under Prefix
func Register(router *httprouter.Router) {
	router.HandlerFunc(http.MethodGet, Prefix+"/", netpprof.Index)
	router.HandlerFunc(http.MethodGet, Prefix+"/cmdline", netpprof.Cmdline)
	router.HandlerFunc(http.MethodGet, Prefix+"/profile", netpprof.Profile)
	router.HandlerFunc(http.MethodGet, Prefix+"/symbol", netpprof.Symbol)
	router.HandlerFunc(http.MethodPost, Prefix+"/symbol", netpprof.Symbol)
	router.HandlerFunc(http.MethodGet, Prefix+"/trace", netpprof.Trace)
	for _, name := range []string{"goroutine", "heap", "allocs", "block", "mutex", "threadcreate"} {
		router.Handler(http.MethodGet, Prefix+"/"+name, netpprof.Handler(name))
	}
	logger.Debug("pprof endpoints mounted at %s", Prefix)
}

// Config selects the profile files to write. Empty paths are skipped.
type Config struct {
	CPUProfile       string // written from Start until Stop
	HeapProfile      string // snapshot taken at Stop
	GoroutineProfile string // snapshot taken at Stop
}

// Enabled reports whether any profile file is configured
func (c Config) Enabled() bool {
	return c.CPUProfile != "" || c.HeapProfile != "" || c.GoroutineProfile != ""
}

// Profiler manages file-based profiling
type Profiler struct {
	config  Config
	cpuFile *os.File

	mu      sync.Mutex
	stopped bool
}

// NewProfiler creates a profiler for config
func NewProfiler(config Config) *Profiler {
	return &Profiler{config: config}
}

// Start begins CPU profiling if configured
func (p *Profiler) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.config.CPUProfile == "" {
		return nil
	}

	f, err := createProfileFile(p.config.CPUProfile)
	if err != nil {
		return fmt.Errorf("failed to create CPU profile file: %w", err)
	}
	if err := pprof.StartCPUProfile(f); err != nil {
		f.Close()
		return fmt.Errorf("failed to start CPU profiling: %w", err)
	}
	p.cpuFile = f
	logger.Info("Writing CPU profile to %s", p.config.CPUProfile)
	return nil
}

// Stop ends CPU profiling and writes the snapshot profiles. Calling it more
// than once is a no-op.
func (p *Profiler) Stop() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.stopped {
		return nil
	}
	p.stopped = true

	var errs []error

	if p.cpuFile != nil {
		pprof.StopCPUProfile()
		if err := p.cpuFile.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close CPU profile: %w", err))
		}
		p.cpuFile = nil
	}

	if p.config.HeapProfile != "" {
		if err := writeProfile("heap", p.config.HeapProfile); err != nil {
			errs = append(errs, err)
		}
	}

	if p.config.GoroutineProfile != "" {
		if err := writeProfile("goroutine", p.config.GoroutineProfile); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

func createProfileFile(path string) (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	return os.Create(path)
}

// writeProfile writes a named profile to a file
func writeProfile(name, path string) error {
	prof := pprof.Lookup(name)
	if prof == nil {
		return fmt.Errorf("profile %q not found", name)
	}
	f, err := createProfileFile(path)
	if err != nil {
		return fmt.Errorf("failed to create %s profile file: %w", name, err)
	}
	defer f.Close()
	if err := prof.WriteTo(f, 0); err != nil {
		return fmt.Errorf("failed to write %s profile: %w", name, err)
	}
	return nil
}
