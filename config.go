package main

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"
)

// Known model variants the backend serves.
const (
	ModelGPT5     = "gpt-5"
	ModelGPT5High = "gpt-5-high"
)

// Built-in defaults; mirror the backend's dev setup.
const (
	defaultAPIBase   = "http://127.0.0.1:8000"
	defaultSession   = "demo"
	defaultModel     = ModelGPT5
	defaultRefreshMs = 1000
	defaultTimeout   = 30 // seconds, per request
)

// Environment variables honored between flags and the config file.
const (
	envAPIBase = "POOOLIFY_API_BASE"
	envToken   = "POOOLIFY_API_TOKEN"
	envSession = "POOOLIFY_SESSION_ID"
	envModel   = "POOOLIFY_MODEL"
)

// ConfigFile holds per-user defaults from ~/.pooolctl/config.yaml.
// Everything is optional; flags and environment take precedence.
type ConfigFile struct {
	APIBase      string `yaml:"api_base,omitempty"`
	APIToken     string `yaml:"api_token,omitempty"`
	Session      string `yaml:"session,omitempty"`
	Model        string `yaml:"model,omitempty"`
	AutoRefresh  *bool  `yaml:"auto_refresh,omitempty"`
	RefreshMs    *int   `yaml:"refresh_interval_ms,omitempty"`
	ShowInternal *bool  `yaml:"show_internal,omitempty"`
	Timeout      *int   `yaml:"timeout,omitempty"` // Seconds
}

func configDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".pooolctl"), nil
}

func loadConfig() (*ConfigFile, error) {
	dir, err := configDir()
	if err != nil {
		// Don't fail completely if we can't get home dir
		return &ConfigFile{}, nil
	}

	configPath := filepath.Join(dir, "config.yaml")

	data, err := os.ReadFile(configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			// No config file; set up the directory and go with defaults
			os.MkdirAll(dir, 0o755) // Ignore error
			return &ConfigFile{}, nil
		}
		// Can't read config, but don't fail the program
		return &ConfigFile{}, nil
	}

	var cfg ConfigFile
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", configPath, err)
	}

	return &cfg, nil
}

// RunConfig is the fully resolved configuration one invocation runs
// with. It is passed explicitly into every operation; there is no
// ambient settings state.
type RunConfig struct {
	APIBase      string
	Token        string
	Session      string
	Model        string
	AutoRefresh  bool
	RefreshEvery time.Duration
	ShowInternal bool
	Timeout      time.Duration
	Verbose      bool
}

func (rc RunConfig) Validate() error {
	return validation.ValidateStruct(&rc,
		validation.Field(&rc.APIBase, validation.Required, validation.By(validBaseURL)),
		validation.Field(&rc.Session, validation.Required),
		validation.Field(&rc.Model, validation.Required, validation.In(ModelGPT5, ModelGPT5High)),
	)
}

func validBaseURL(value interface{}) error {
	s, _ := value.(string)
	u, err := url.Parse(s)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" || u.Host == "" {
		return errors.New("must be an absolute http(s) url")
	}
	return nil
}

// addClientFlags registers the client configuration surface on a flag
// set. main puts these on the root command's persistent set; tests
// register them on a scratch command.
func addClientFlags(f *pflag.FlagSet) {
	f.StringP("api-base", "b", defaultAPIBase, "Backend base URL")
	f.StringP("token", "k", "", "Bearer token (empty is fine against a dev backend)")
	f.StringP("session", "s", defaultSession, "Session id")
	f.Bool("new-session", false, "Start with a freshly generated session id")
	f.StringP("model", "m", defaultModel, "Model: gpt-5 or gpt-5-high")
	f.Int("refresh-ms", defaultRefreshMs, "Refresh interval in milliseconds (floored at 250)")
	f.Bool("auto-refresh", true, "Auto-refresh while the session is processing")
	f.Bool("show-internal", false, "Show internal thought/plan/route/decision traces")
	f.Int("timeout", defaultTimeout, "Per-request timeout in seconds")
	f.BoolP("verbose", "v", false, "http & debug logging")
}

// getRunConfig resolves flags > environment > config file > defaults.
func getRunConfig(cmd *cobra.Command, cfg *ConfigFile) (RunConfig, error) {
	rc := RunConfig{
		APIBase:      defaultAPIBase,
		Session:      defaultSession,
		Model:        defaultModel,
		AutoRefresh:  true,
		RefreshEvery: defaultRefreshMs * time.Millisecond,
		Timeout:      defaultTimeout * time.Second,
	}

	// Config file layer
	if cfg != nil {
		if cfg.APIBase != "" {
			rc.APIBase = cfg.APIBase
		}
		if cfg.APIToken != "" {
			rc.Token = cfg.APIToken
		}
		if cfg.Session != "" {
			rc.Session = cfg.Session
		}
		if cfg.Model != "" {
			rc.Model = cfg.Model
		}
		if cfg.AutoRefresh != nil {
			rc.AutoRefresh = *cfg.AutoRefresh
		}
		if cfg.RefreshMs != nil {
			rc.RefreshEvery = time.Duration(*cfg.RefreshMs) * time.Millisecond
		}
		if cfg.ShowInternal != nil {
			rc.ShowInternal = *cfg.ShowInternal
		}
		if cfg.Timeout != nil {
			rc.Timeout = time.Duration(*cfg.Timeout) * time.Second
		}
	}

	// Environment layer
	if v := os.Getenv(envAPIBase); v != "" {
		rc.APIBase = v
	}
	if v := os.Getenv(envToken); v != "" {
		rc.Token = v
	}
	if v := os.Getenv(envSession); v != "" {
		rc.Session = v
	}
	if v := os.Getenv(envModel); v != "" {
		rc.Model = v
	}

	// Flag layer (only when the user actually set the flag)
	if cmd.Flags().Changed("api-base") {
		rc.APIBase, _ = cmd.Flags().GetString("api-base")
	}
	if cmd.Flags().Changed("token") {
		rc.Token, _ = cmd.Flags().GetString("token")
	}
	if cmd.Flags().Changed("session") {
		rc.Session, _ = cmd.Flags().GetString("session")
	}
	if cmd.Flags().Changed("model") {
		rc.Model, _ = cmd.Flags().GetString("model")
	}
	if cmd.Flags().Changed("auto-refresh") {
		rc.AutoRefresh, _ = cmd.Flags().GetBool("auto-refresh")
	}
	if cmd.Flags().Changed("refresh-ms") {
		ms, _ := cmd.Flags().GetInt("refresh-ms")
		rc.RefreshEvery = time.Duration(ms) * time.Millisecond
	}
	if cmd.Flags().Changed("show-internal") {
		rc.ShowInternal, _ = cmd.Flags().GetBool("show-internal")
	}
	if cmd.Flags().Changed("timeout") {
		sec, _ := cmd.Flags().GetInt("timeout")
		rc.Timeout = time.Duration(sec) * time.Second
	}
	rc.Verbose, _ = cmd.Flags().GetBool("verbose")

	if newSession, _ := cmd.Flags().GetBool("new-session"); newSession {
		rc.Session = uuid.NewString()
	}

	rc.APIBase = trimBase(rc.APIBase)

	if err := rc.Validate(); err != nil {
		return rc, err
	}
	return rc, nil
}

func trimBase(base string) string {
	for len(base) > 0 && base[len(base)-1] == '/' {
		base = base[:len(base)-1]
	}
	return base
}
