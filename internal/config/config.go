package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/codefionn/diffbridge/internal/consts"
	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

const (
	envPrefix = "DIFFBRIDGE"
	appName   = "diffbridge"
)

// Policies for RPC methods the dispatcher does not know.
const (
	UnknownMethodError  = "error"
	UnknownMethodIgnore = "ignore"
)

// Console logging modes.
const (
	ConsoleAuto = "auto"
	ConsoleOn   = "on"
	ConsoleOff  = "off"
)

// Config represents application configuration
type Config struct {
	Host string `json:"host" mapstructure:"host"`
	// Port 0 selects an ephemeral port
	Port int `json:"port" mapstructure:"port"`
	// ProcessID is the editor's process id, used only to route the log file
	ProcessID string `json:"process_id" mapstructure:"process_id"`

	LogLevel   string `json:"log_level" mapstructure:"log_level"` // debug, info, warn, error, none
	LogPath    string `json:"log_path" mapstructure:"log_path"`
	LogDir     string `json:"log_dir" mapstructure:"log_dir"`
	LogConsole string `json:"log_console" mapstructure:"log_console"` // auto, on, off

	ArtifactDir string `json:"artifact_dir" mapstructure:"artifact_dir"`

	// RunDir holds one lock file per running server
	RunDir string `json:"run_dir" mapstructure:"run_dir"`

	ProbeInterval time.Duration `json:"probe_interval" mapstructure:"probe_interval"`
	StaleAfter    time.Duration `json:"stale_after" mapstructure:"stale_after"`
	SweepInterval time.Duration `json:"sweep_interval" mapstructure:"sweep_interval"`

	UnknownMethod string `json:"unknown_method" mapstructure:"unknown_method"`

	// Pprof mounts the profiling endpoints next to /status
	Pprof       bool   `json:"pprof" mapstructure:"pprof"`
	CPUProfile  string `json:"cpu_profile" mapstructure:"cpu_profile"`
	HeapProfile string `json:"heap_profile" mapstructure:"heap_profile"`
}

func defaultCacheDir() string {
	if dir, err := os.UserCacheDir(); err == nil && dir != "" {
		return filepath.Join(dir, appName)
	}
	return filepath.Join(os.TempDir(), appName)
}

func defaultStateDir() string {
	switch runtime.GOOS {
	case "linux":
		if stateHome := strings.TrimSpace(os.Getenv("XDG_STATE_HOME")); stateHome != "" {
			return filepath.Join(stateHome, appName)
		}
		homeDir, _ := os.UserHomeDir()
		return filepath.Join(homeDir, ".local", "state", appName)
	case "windows":
		if localAppData := strings.TrimSpace(os.Getenv("LOCALAPPDATA")); localAppData != "" {
			return filepath.Join(localAppData, appName)
		}
		homeDir, _ := os.UserHomeDir()
		return filepath.Join(homeDir, "AppData", "Local", appName)
	default:
		homeDir, _ := os.UserHomeDir()
		return filepath.Join(homeDir, ".config", appName)
	}
}

// DefaultConfig returns default configuration
func DefaultConfig() *Config {
	return &Config{
		Host:          "127.0.0.1",
		Port:          0,
		LogLevel:      "info",
		LogDir:        filepath.Join(defaultStateDir(), "logs"),
		LogConsole:    ConsoleAuto,
		ArtifactDir:   filepath.Join(defaultCacheDir(), "diff"),
		RunDir:        filepath.Join(defaultStateDir(), "run"),
		ProbeInterval: consts.DefaultProbeInterval,
		StaleAfter:    consts.DefaultStaleArtifactAge,
		SweepInterval: consts.DefaultSweepInterval,
		UnknownMethod: UnknownMethodError,
	}
}

// GetConfigPath returns the default config path
func GetConfigPath() string {
	if dir, err := os.UserConfigDir(); err == nil && dir != "" {
		return filepath.Join(dir, appName, "config.json")
	}
	return filepath.Join(defaultStateDir(), "config.json")
}

// Load layers defaults, the optional JSON file at path and the environment
// into v and decodes the result. A missing file is not an error.
func Load(v *viper.Viper, path string) (*Config, error) {
	if v == nil {
		v = viper.New()
	}

	defaults := DefaultConfig()
	v.SetDefault("host", defaults.Host)
	v.SetDefault("port", defaults.Port)
	v.SetDefault("process_id", "")
	v.SetDefault("log_level", defaults.LogLevel)
	v.SetDefault("log_path", "")
	v.SetDefault("log_dir", defaults.LogDir)
	v.SetDefault("log_console", defaults.LogConsole)
	v.SetDefault("artifact_dir", defaults.ArtifactDir)
	v.SetDefault("run_dir", defaults.RunDir)
	v.SetDefault("probe_interval", defaults.ProbeInterval)
	v.SetDefault("stale_after", defaults.StaleAfter)
	v.SetDefault("sweep_interval", defaults.SweepInterval)
	v.SetDefault("unknown_method", defaults.UnknownMethod)
	v.SetDefault("pprof", false)
	v.SetDefault("cpu_profile", "")
	v.SetDefault("heap_profile", "")

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	// Variables set by the editor plugin that launches us
	if err := v.BindEnv("port", envPrefix+"_PORT", "CLAUDE_CODE_SSE_PORT"); err != nil {
		return nil, fmt.Errorf("bind port env: %w", err)
	}
	if err := v.BindEnv("process_id", envPrefix+"_PROCESS_ID", "VIM_PROCESS_ID"); err != nil {
		return nil, fmt.Errorf("bind process id env: %w", err)
	}

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("json")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) && !errors.Is(err, os.ErrNotExist) {
				return nil, fmt.Errorf("read config %s: %w", path, err)
			}
		}
	}

	return decode(v)
}

func decode(v *viper.Viper) (*Config, error) {
	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.applyDerived()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyDerived() {
	c.UnknownMethod = strings.ToLower(strings.TrimSpace(c.UnknownMethod))
	c.LogConsole = strings.ToLower(strings.TrimSpace(c.LogConsole))
	if c.LogPath == "" && c.ProcessID != "" {
		c.LogPath = filepath.Join(c.LogDir, c.ProcessID+".log")
	}
}

// Validate reports configuration values the server cannot run with
func (c *Config) Validate() error {
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Port)
	}
	if c.ProbeInterval <= 0 {
		return fmt.Errorf("probe_interval must be positive, got %s", c.ProbeInterval)
	}
	if c.StaleAfter <= 0 {
		return fmt.Errorf("stale_after must be positive, got %s", c.StaleAfter)
	}
	if c.SweepInterval <= 0 {
		return fmt.Errorf("sweep_interval must be positive, got %s", c.SweepInterval)
	}
	if c.ArtifactDir == "" {
		return errors.New("artifact_dir must not be empty")
	}
	switch c.UnknownMethod {
	case UnknownMethodError, UnknownMethodIgnore:
	default:
		return fmt.Errorf("unknown_method must be %q or %q, got %q", UnknownMethodError, UnknownMethodIgnore, c.UnknownMethod)
	}
	switch c.LogConsole {
	case ConsoleAuto, ConsoleOn, ConsoleOff:
	default:
		return fmt.Errorf("log_console must be auto, on or off, got %q", c.LogConsole)
	}
	return nil
}

// Addr returns the listen address
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Watch re-decodes the configuration whenever the file loaded into v changes
// and hands the result to onChange. It returns false when v has no file.
func Watch(v *viper.Viper, onChange func(*Config)) bool {
	if v == nil || v.ConfigFileUsed() == "" {
		return false
	}
	if _, err := os.Stat(v.ConfigFileUsed()); err != nil {
		return false
	}

	v.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		cfg, err := decode(v)
		if err != nil {
			// Keep running with the previous configuration
			return
		}
		onChange(cfg)
	})
	v.WatchConfig()
	return true
}
