// Package config loads the ssh-shell configuration from a YAML file and the
// environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	appName      = "ssh-shell"
	envVarPrefix = "SSH_SHELL"
)

// Config contains every option of the server and its admin commands.
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	HostKey HostKeyConfig `mapstructure:"host_key"`
	Auth    AuthConfig    `mapstructure:"auth"`
	Log     LogConfig     `mapstructure:"log"`

	// File is the config file that was read, empty when defaults and the
	// environment were used alone.
	File string `mapstructure:"-"`
}

// ServerConfig holds the listener and session settings under the "server" key.
type ServerConfig struct {
	// Address the SSH listener binds to.
	ListenAddress string `mapstructure:"listen_address"`
	// SSH identification string sent to clients.
	Version string `mapstructure:"version"`
	// Pre-authentication banner. Blank sends none.
	Banner string `mapstructure:"banner"`
	// Shown at the start of every interactive session.
	Motd string `mapstructure:"motd"`
	// A connection with no inbound traffic for this long is closed. Zero disables.
	IdleTimeout time.Duration `mapstructure:"idle_timeout"`
	// Maximum number of concurrent sessions. Zero is unlimited.
	MaxSessions int `mapstructure:"max_sessions"`
	// Expect a PROXY protocol header in front of every connection.
	ProxyProtocol bool `mapstructure:"proxy_protocol"`
	// How long shutdown waits for live sessions to end.
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// HostKeyConfig describes where the SSH host key lives and how a missing one is
// generated.
type HostKeyConfig struct {
	// PEM file holding the host key, created on first start.
	Path string `mapstructure:"path"`
	// Type of a generated key: ed25519 or rsa.
	Type string `mapstructure:"type"`
	// Modulus size of a generated rsa key.
	RSABits int `mapstructure:"rsa_bits"`
}

// AuthConfig holds the credential sources and the failure throttle.
type AuthConfig struct {
	// JSON user database.
	UsersFile string `mapstructure:"users_file"`
	// Also accept passwords checked by the host's PAM stack.
	PAMEnabled bool `mapstructure:"pam_enabled"`
	// PAM service consulted when pam_enabled is set.
	PAMService string `mapstructure:"pam_service"`
	// Require a public key followed by a password.
	RequireMultiFactor bool `mapstructure:"require_multi_factor"`
	// Rejected attempts from one host before it is throttled. Zero disables.
	MaxFailures int `mapstructure:"max_failures"`
	// Window in which max_failures is counted.
	FailureWindow time.Duration `mapstructure:"failure_window"`
	// Account created at startup when it does not exist yet.
	DefaultUser     string `mapstructure:"default_user"`
	DefaultPassword string `mapstructure:"default_password"`
	DefaultRole     string `mapstructure:"default_role"`
}

// LogConfig is passed to logging.New.
type LogConfig struct {
	// Minimum level written. Options: debug, info, warn, error
	Level string `mapstructure:"level"`
	// text or json
	Format string `mapstructure:"format"`
	// File logs are appended to. Blank writes to stdout.
	File string `mapstructure:"file"`
}

// GetConfigDir returns the configuration directory for ssh-shell, creating it if
// needed. It follows platform-specific conventions:
// - $XDG_CONFIG_HOME/ssh-shell when set
// - Windows: %APPDATA%\ssh-shell
// - Unix-like: $HOME/.config/ssh-shell
func GetConfigDir() (string, error) {
	var configDir string

	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		configDir = filepath.Join(xdgConfig, appName)
	} else if appData := os.Getenv("APPDATA"); appData != "" {
		configDir = filepath.Join(appData, appName)
	} else if homeDir, err := os.UserHomeDir(); err == nil {
		configDir = filepath.Join(homeDir, ".config", appName)
	} else {
		return "", err
	}

	if err := os.MkdirAll(configDir, 0755); err != nil {
		return "", err
	}
	return configDir, nil
}

func setDefaults(v *viper.Viper, dir string) {
	v.SetDefault("server.listen_address", ":2222")
	v.SetDefault("server.version", "SSH-2.0-ssh-shell_1.0")
	v.SetDefault("server.banner", "")
	v.SetDefault("server.motd", "")
	v.SetDefault("server.idle_timeout", 15*time.Minute)
	v.SetDefault("server.max_sessions", 0)
	v.SetDefault("server.proxy_protocol", false)
	v.SetDefault("server.shutdown_timeout", 10*time.Second)

	v.SetDefault("host_key.path", filepath.Join(dir, "host_key"))
	v.SetDefault("host_key.type", "ed25519")
	v.SetDefault("host_key.rsa_bits", 4096)

	v.SetDefault("auth.users_file", filepath.Join(dir, "users.json"))
	v.SetDefault("auth.pam_enabled", false)
	v.SetDefault("auth.pam_service", "sshd")
	v.SetDefault("auth.require_multi_factor", false)
	v.SetDefault("auth.max_failures", 5)
	v.SetDefault("auth.failure_window", 5*time.Minute)
	v.SetDefault("auth.default_user", "")
	v.SetDefault("auth.default_password", "")
	v.SetDefault("auth.default_role", "admin")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("log.file", "")
}

// Load reads configFile, or config.yaml from the working directory and the config
// directory when configFile is empty. A missing config.yaml is not an error. Every
// key can be overridden from the environment: server.listen_address is read from
// SSH_SHELL_SERVER_LISTEN_ADDRESS.
//
// Parameters:
//   - configFile: Explicit config file path, or "" to search for config.yaml.
//
// Returns:
//   - *Config: The merged and validated configuration.
//   - error: If an explicit file cannot be read, decoding fails, or a value is invalid.
//
// Example:
//
//	cfg, err := config.Load("")
//	if err != nil { ... }
func Load(configFile string) (*Config, error) {
	dir, err := GetConfigDir()
	if err != nil {
		dir = "."
	}

	v := viper.New()
	setDefaults(v, dir)

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath(dir)
	}

	v.SetEnvPrefix(envVarPrefix)
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configFile != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	// Nested keys are set through the environment as <prefix>_<SECTION>_<KEY>.
	for _, k := range v.AllKeys() {
		envVar := strings.ReplaceAll(strings.ToUpper(k), ".", "_")
		if err := v.BindEnv(k, envVarPrefix+"_"+envVar); err != nil {
			return nil, fmt.Errorf("bind %s to %s: %w", k, envVarPrefix+"_"+envVar, err)
		}
	}

	cfg := &Config{File: v.ConfigFileUsed()}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate reports the first option with an unusable value.
func (c *Config) Validate() error {
	switch {
	case c.Server.ListenAddress == "":
		return errors.New("config: server.listen_address is required")
	case c.Server.IdleTimeout < 0:
		return errors.New("config: server.idle_timeout must not be negative")
	case c.Server.MaxSessions < 0:
		return errors.New("config: server.max_sessions must not be negative")
	case c.HostKey.Type != "ed25519" && c.HostKey.Type != "rsa":
		return fmt.Errorf("config: host_key.type must be ed25519 or rsa, got %q", c.HostKey.Type)
	case c.HostKey.Type == "rsa" && c.HostKey.RSABits < 2048:
		return errors.New("config: host_key.rsa_bits must be at least 2048")
	case c.Auth.MaxFailures < 0:
		return errors.New("config: auth.max_failures must not be negative")
	case c.Log.Format != "text" && c.Log.Format != "json":
		return fmt.Errorf("config: log.format must be text or json, got %q", c.Log.Format)
	}
	return nil
}
