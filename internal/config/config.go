package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// ErrInvalid is wrapped by every configuration error.
var ErrInvalid = errors.New("invalid configuration")

// Built-in defaults.
const (
	DefaultPlotSize        Size = 108_100_000_000
	DefaultRequiredFree    Size = 109_100_000_000
	DefaultPlotSuffix           = ".plot"
	DefaultQuiescence           = Duration(45 * time.Second)
	DefaultPollInterval         = Duration(3 * time.Second)
	DefaultStartDelay           = Duration(10 * time.Second)
	DefaultRefreshInterval      = Duration(time.Minute)
	DefaultReportInterval       = Duration(5 * time.Second)
	DefaultMinBusSpeedMbps      = 5000
)

// Config represents the plotfarm configuration file.
type Config struct {
	Archive ArchiveConfig `toml:"archive"`
	Metrics MetricsConfig `toml:"metrics"`
	Mount   MountConfig   `toml:"mount"`
}

// ArchiveConfig drives the archive daemon.
type ArchiveConfig struct {
	WatchDir        string   `toml:"watch_dir"`
	FarmDir         string   `toml:"farm_dir"`
	PlotSize        Size     `toml:"plot_size"`
	RequiredFree    Size     `toml:"required_free"`
	PlotSuffix      string   `toml:"plot_suffix"`
	Quiescence      Duration `toml:"quiescence"`
	PollInterval    Duration `toml:"poll_interval"`
	StartDelay      Duration `toml:"start_delay"`
	RefreshInterval Duration `toml:"refresh_interval"`
	ReportInterval  Duration `toml:"report_interval"`
	Notify          bool     `toml:"notify"`
	FSTypes         []string `toml:"fs_types"`
	CopyCommand     []string `toml:"copy_command"`
	MinBusSpeedMbps int      `toml:"min_bus_speed_mbps"`
}

// MetricsConfig enables the HTTP status endpoint when Listen is set.
type MetricsConfig struct {
	Listen string `toml:"listen"`
}

// MountConfig drives the mount helper.
type MountConfig struct {
	ScanDir  string `toml:"scan_dir"`
	MountDir string `toml:"mount_dir"`
	ReadOnly bool   `toml:"read_only"`
}

// Default returns a Config holding the built-in defaults. Directories have no
// default and must come from the file or flags.
func Default() Config {
	return Config{
		Archive: ArchiveConfig{
			PlotSize:        DefaultPlotSize,
			RequiredFree:    DefaultRequiredFree,
			PlotSuffix:      DefaultPlotSuffix,
			Quiescence:      DefaultQuiescence,
			PollInterval:    DefaultPollInterval,
			StartDelay:      DefaultStartDelay,
			RefreshInterval: DefaultRefreshInterval,
			ReportInterval:  DefaultReportInterval,
			Notify:          true,
			FSTypes:         []string{"ext4"},
			CopyCommand:     []string{"rsync", "-aP", "--remove-source-files"},
			MinBusSpeedMbps: DefaultMinBusSpeedMbps,
		},
		Mount: MountConfig{
			ScanDir: "/dev/disk/by-label",
		},
	}
}

// Path returns the resolved path to the default config file.
func Path() string {
	dir := os.Getenv("XDG_CONFIG_HOME")
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return ""
		}
		dir = filepath.Join(home, ".config")
	}
	return filepath.Join(dir, "plotfarm", "config.toml")
}

// Load reads the config file at path over the built-in defaults. An empty
// path means the default location, which may be absent; an explicit path
// must exist. Unknown keys are rejected.
func Load(path string) (Config, error) {
	cfg := Default()

	explicit := path != ""
	if !explicit {
		path = Path()
		if path == "" {
			return cfg, nil
		}
	}

	md, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) && !explicit {
			return Default(), nil
		}
		return Config{}, fmt.Errorf("%w: %s: %w", ErrInvalid, path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return Config{}, fmt.Errorf("%w: %s: unknown keys: %s", ErrInvalid, path, strings.Join(keys, ", "))
	}
	return cfg, nil
}

// Validate checks the archive settings. Every problem found is reported,
// each wrapping ErrInvalid.
func (c Config) Validate() error {
	a := c.Archive
	var errs []error
	bad := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf("%w: "+format, append([]any{ErrInvalid}, args...)...))
	}

	for _, d := range []struct{ key, path string }{
		{"watch_dir", a.WatchDir},
		{"farm_dir", a.FarmDir},
	} {
		if d.path == "" {
			bad("%s is not set", d.key)
			continue
		}
		fi, err := os.Stat(d.path)
		switch {
		case err != nil:
			bad("%s: %v", d.key, err)
		case !fi.IsDir():
			bad("%s: %s is not a directory", d.key, d.path)
		}
	}

	if a.PlotSize == 0 {
		bad("plot_size must be positive")
	}
	if a.RequiredFree <= a.PlotSize {
		bad("required_free (%d) must exceed plot_size (%d)", a.RequiredFree, a.PlotSize)
	}
	for _, d := range []struct {
		key string
		v   Duration
	}{
		{"poll_interval", a.PollInterval},
		{"refresh_interval", a.RefreshInterval},
		{"report_interval", a.ReportInterval},
	} {
		if d.v <= 0 {
			bad("%s must be positive", d.key)
		}
	}
	if a.Quiescence < 0 {
		bad("quiescence must not be negative")
	}
	if a.StartDelay < 0 {
		bad("start_delay must not be negative")
	}
	if len(a.FSTypes) == 0 {
		bad("fs_types is empty")
	}
	if len(a.CopyCommand) == 0 || a.CopyCommand[0] == "" {
		bad("copy_command is empty")
	}
	if a.MinBusSpeedMbps <= 0 {
		bad("min_bus_speed_mbps must be positive")
	}
	return errors.Join(errs...)
}

// ValidateMount checks the mount helper settings.
func (c Config) ValidateMount() error {
	var errs []error
	if c.Mount.ScanDir == "" {
		errs = append(errs, fmt.Errorf("%w: scan_dir is not set", ErrInvalid))
	}
	if c.Mount.MountDir == "" {
		errs = append(errs, fmt.Errorf("%w: mount_dir is not set", ErrInvalid))
	}
	return errors.Join(errs...)
}

// Encode writes c as TOML.
func Encode(w io.Writer, c Config) error {
	if err := toml.NewEncoder(w).Encode(c); err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	return nil
}

// WriteFile writes c to path, creating the parent directory. An existing
// file is never overwritten.
func WriteFile(path string, c Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return fmt.Errorf("create config file: %w", err)
	}
	if err := Encode(f, c); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}
