// Package config resolves packlist settings from layered JSONC files, the
// environment and flags.
package config

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"packlist/internal/model"

	"github.com/natefinch/atomic"
	"github.com/tailscale/hujson"
)

//go:embed defaults.jsonc
var defaultsJSONC []byte

// ProjectFileName is looked up in the working directory.
const ProjectFileName = "packlist.jsonc"

var (
	ErrConfigFileNotFound = errors.New("config file not found")
	ErrConfigFileRead     = errors.New("cannot read config file")
	ErrConfigInvalid      = errors.New("invalid config")
)

type Config struct {
	Title  string   `json:"title,omitempty"`
	AppKey string   `json:"appKey,omitempty"`
	Roster []string `json:"roster,omitempty"`
	// DefaultItems seeds an empty hub. Same shape as the items document.
	DefaultItems model.ItemsDoc `json:"defaultItems,omitempty"`

	// Remote is the hub websocket URL. Empty means this process hosts the hub
	// when serving, and runs offline otherwise.
	Remote           string `json:"remote,omitempty"`
	DataDir          string `json:"dataDir,omitempty"`
	Backend          string `json:"backend,omitempty"` // sqlite|json|memory
	DebounceMs       int    `json:"debounceMs,omitempty"`
	ConnectAttempts  int    `json:"connectAttempts,omitempty"`
	ConnectBackoffMs int    `json:"connectBackoffMs,omitempty"`

	Listen        string `json:"listen,omitempty"`
	InitialFilter string `json:"initialFilter,omitempty"` // all|first
	// Target is an RFC3339 departure time for the countdown.
	Target string `json:"target,omitempty"`
	// Notes is markdown shown under the checklist.
	Notes string `json:"notes,omitempty"`

	Sources Sources `json:"-"`
}

// Sources records which layers contributed, for `config show`.
type Sources struct {
	User     string   `json:"user,omitempty"`
	Project  string   `json:"project,omitempty"`
	Explicit string   `json:"explicit,omitempty"`
	Env      []string `json:"env,omitempty"`
}

// Defaults returns the embedded defaults.
func Defaults() (Config, error) {
	cfg, err := parse(defaultsJSONC)
	if err != nil {
		return Config{}, fmt.Errorf("%w defaults.jsonc: %w", ErrConfigInvalid, err)
	}
	return cfg, nil
}

// UserPath is $XDG_CONFIG_HOME/packlist/config.jsonc, falling back to
// ~/.config. Empty when neither is known.
func UserPath(env map[string]string) string {
	if xdg := env["XDG_CONFIG_HOME"]; xdg != "" {
		return filepath.Join(xdg, "packlist", "config.jsonc")
	}
	if home := env["HOME"]; home != "" {
		return filepath.Join(home, ".config", "packlist", "config.jsonc")
	}
	return ""
}

type LoadInput struct {
	WorkDir    string            // empty means os.Getwd()
	ConfigPath string            // --config; must exist when set
	Env        map[string]string // environment
}

// Load resolves the configuration, lowest precedence first:
// defaults, user config, project packlist.jsonc, --config, PACKLIST_* env.
// Flags are applied by the caller on the result.
func Load(in LoadInput) (Config, error) {
	workDir := in.WorkDir
	if workDir == "" {
		var err error
		if workDir, err = os.Getwd(); err != nil {
			return Config{}, fmt.Errorf("cannot get working directory: %w", err)
		}
	}

	cfg, err := Defaults()
	if err != nil {
		return Config{}, err
	}

	if p := UserPath(in.Env); p != "" {
		layer, ok, err := loadFile(p, false)
		if err != nil {
			return Config{}, err
		}
		if ok {
			cfg = merge(cfg, layer)
			cfg.Sources.User = p
		}
	}

	project := filepath.Join(workDir, ProjectFileName)
	layer, ok, err := loadFile(project, false)
	if err != nil {
		return Config{}, err
	}
	if ok {
		cfg = merge(cfg, layer)
		cfg.Sources.Project = project
	}

	if in.ConfigPath != "" {
		p := in.ConfigPath
		if !filepath.IsAbs(p) {
			p = filepath.Join(workDir, p)
		}
		layer, _, err := loadFile(p, true)
		if err != nil {
			return Config{}, err
		}
		cfg = merge(cfg, layer)
		cfg.Sources.Explicit = p
	}

	cfg, err = applyEnv(cfg, in.Env)
	if err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func loadFile(path string, mustExist bool) (Config, bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			if mustExist {
				return Config{}, false, fmt.Errorf("%w: %s", ErrConfigFileNotFound, path)
			}
			return Config{}, false, nil
		}
		return Config{}, false, fmt.Errorf("%w: %s: %w", ErrConfigFileRead, path, err)
	}
	cfg, err := parse(data)
	if err != nil {
		return Config{}, false, fmt.Errorf("%w %s: %w", ErrConfigInvalid, path, err)
	}
	return cfg, true, nil
}

func parse(data []byte) (Config, error) {
	std, err := hujson.Standardize(data)
	if err != nil {
		return Config{}, fmt.Errorf("invalid JSONC: %w", err)
	}
	dec := json.NewDecoder(bytes.NewReader(std))
	dec.DisallowUnknownFields()
	var cfg Config
	if err := dec.Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("invalid JSON: %w", err)
	}
	return cfg, nil
}

func merge(base, overlay Config) Config {
	if overlay.Title != "" {
		base.Title = overlay.Title
	}
	if overlay.AppKey != "" {
		base.AppKey = overlay.AppKey
	}
	if overlay.Roster != nil {
		base.Roster = overlay.Roster
	}
	if overlay.DefaultItems != nil {
		base.DefaultItems = overlay.DefaultItems
	}
	if overlay.Remote != "" {
		base.Remote = overlay.Remote
	}
	if overlay.DataDir != "" {
		base.DataDir = overlay.DataDir
	}
	if overlay.Backend != "" {
		base.Backend = overlay.Backend
	}
	if overlay.DebounceMs != 0 {
		base.DebounceMs = overlay.DebounceMs
	}
	if overlay.ConnectAttempts != 0 {
		base.ConnectAttempts = overlay.ConnectAttempts
	}
	if overlay.ConnectBackoffMs != 0 {
		base.ConnectBackoffMs = overlay.ConnectBackoffMs
	}
	if overlay.Listen != "" {
		base.Listen = overlay.Listen
	}
	if overlay.InitialFilter != "" {
		base.InitialFilter = overlay.InitialFilter
	}
	if overlay.Target != "" {
		base.Target = overlay.Target
	}
	if overlay.Notes != "" {
		base.Notes = overlay.Notes
	}
	return base
}

func applyEnv(cfg Config, env map[string]string) (Config, error) {
	str := func(key string, dst *string) {
		if v := strings.TrimSpace(env[key]); v != "" {
			*dst = v
			cfg.Sources.Env = append(cfg.Sources.Env, key)
		}
	}
	num := func(key string, dst *int) error {
		v := strings.TrimSpace(env[key])
		if v == "" {
			return nil
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%w: %s=%q is not a number", ErrConfigInvalid, key, v)
		}
		*dst = n
		cfg.Sources.Env = append(cfg.Sources.Env, key)
		return nil
	}

	str("PACKLIST_TITLE", &cfg.Title)
	str("PACKLIST_APP_KEY", &cfg.AppKey)
	str("PACKLIST_REMOTE", &cfg.Remote)
	str("PACKLIST_DATA_DIR", &cfg.DataDir)
	str("PACKLIST_BACKEND", &cfg.Backend)
	str("PACKLIST_LISTEN", &cfg.Listen)
	str("PACKLIST_INITIAL_FILTER", &cfg.InitialFilter)
	str("PACKLIST_TARGET", &cfg.Target)
	if v := strings.TrimSpace(env["PACKLIST_ROSTER"]); v != "" {
		cfg.Roster = model.ParsePersons(v)
		cfg.Sources.Env = append(cfg.Sources.Env, "PACKLIST_ROSTER")
	}
	if err := num("PACKLIST_DEBOUNCE_MS", &cfg.DebounceMs); err != nil {
		return Config{}, err
	}
	if err := num("PACKLIST_CONNECT_ATTEMPTS", &cfg.ConnectAttempts); err != nil {
		return Config{}, err
	}
	if err := num("PACKLIST_CONNECT_BACKOFF_MS", &cfg.ConnectBackoffMs); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	switch c.Backend {
	case "", "sqlite", "json", "memory":
	default:
		return fmt.Errorf("%w: backend %q (expected sqlite|json|memory)", ErrConfigInvalid, c.Backend)
	}
	switch strings.ToLower(c.InitialFilter) {
	case "", "all", "first":
	default:
		return fmt.Errorf("%w: initialFilter %q (expected all|first)", ErrConfigInvalid, c.InitialFilter)
	}
	if c.DebounceMs < 0 || c.ConnectAttempts < 0 || c.ConnectBackoffMs < 0 {
		return fmt.Errorf("%w: durations and attempts must not be negative", ErrConfigInvalid)
	}
	if _, err := c.TargetTime(); err != nil {
		return err
	}
	return nil
}

func (c Config) Debounce() time.Duration {
	return time.Duration(c.DebounceMs) * time.Millisecond
}

func (c Config) ConnectBackoff() time.Duration {
	return time.Duration(c.ConnectBackoffMs) * time.Millisecond
}

// TargetTime parses Target. A blank target is the zero time.
func (c Config) TargetTime() (time.Time, error) {
	s := strings.TrimSpace(c.Target)
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: target %q is not RFC3339", ErrConfigInvalid, s)
	}
	return t, nil
}

// Catalog is the default catalog built from DefaultItems.
func (c Config) Catalog() model.Catalog {
	if c.DefaultItems == nil {
		return model.Catalog{}
	}
	return c.DefaultItems.Catalog()
}

// ResolveDataDir returns DataDir, or $XDG_DATA_HOME/packlist, or
// ~/.local/share/packlist.
func (c Config) ResolveDataDir(env map[string]string) (string, error) {
	if c.DataDir != "" {
		return c.DataDir, nil
	}
	if xdg := env["XDG_DATA_HOME"]; xdg != "" {
		return filepath.Join(xdg, "packlist"), nil
	}
	if home := env["HOME"]; home != "" {
		return filepath.Join(home, ".local", "share", "packlist"), nil
	}
	return "", errors.New("config: cannot resolve data dir (set dataDir or HOME)")
}

// Save writes c to path as indented JSON. The previous file, if any, is kept
// next to it as path+".bak".
func Save(path string, c Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	b, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	b = append(b, '\n')
	if prev, err := os.ReadFile(path); err == nil && len(prev) > 0 {
		_ = atomic.WriteFile(path+".bak", bytes.NewReader(prev))
	}
	return atomic.WriteFile(path, bytes.NewReader(b))
}

// Environ returns os.Environ as a map.
func Environ() map[string]string {
	env := map[string]string{}
	for _, kv := range os.Environ() {
		if k, v, ok := strings.Cut(kv, "="); ok {
			env[k] = v
		}
	}
	return env
}
