// Package config loads the engine's CLI/file/env configuration, using
// spf13/pflag for flag definitions and spf13/viper to layer flags over
// a config file and environment variables, spec.md §6.3/§6.4.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Server holds the resolved configuration for cmd/nettest-server,
// spec.md §6.3's server flag surface.
type Server struct {
	ListenAddr    string `mapstructure:"listen"`
	TLSListenAddr string `mapstructure:"tls-listen"`
	CertFile      string `mapstructure:"cert"`
	KeyFile       string `mapstructure:"key"`
	Workers       int    `mapstructure:"workers"`
	User          string `mapstructure:"user"`
	Daemonize     bool   `mapstructure:"daemonize"`
	LogLevel      string `mapstructure:"log"`
	Secrets       []string `mapstructure:"secrets"`
	MetricsAddr   string `mapstructure:"metrics-addr"`
	ControlBase   string `mapstructure:"control-base-url"`
}

// Client holds the resolved configuration for cmd/nettest-client,
// spec.md §6.3's client flag surface.
type Client struct {
	Host        string `mapstructure:"host"`
	Port        int    `mapstructure:"port"`
	Threads     int    `mapstructure:"threads"`
	TLS         bool   `mapstructure:"tls"`
	WebSocket   bool   `mapstructure:"ws"`
	GuessServer bool   `mapstructure:"guess"`
	Raw         bool   `mapstructure:"raw"`
	LogLevel    string `mapstructure:"log"`
	Token       string `mapstructure:"token"`
	ControlURL  string `mapstructure:"control-url"`
	ClientUUID  string `mapstructure:"client-uuid"`
}

// BindServerFlags registers the server flag surface on fs and returns
// a viper instance layering those flags over env vars and an optional
// config file, spec.md §6.3 (server: -l, -L, -c, -k, -t, -u, -d, -log, -e).
func BindServerFlags(fs *pflag.FlagSet) *viper.Viper {
	fs.StringP("listen", "l", ":5005", "plain TCP listen address")
	fs.StringP("tls-listen", "L", "", "TLS listen address")
	fs.StringP("cert", "c", "", "TLS certificate file")
	fs.StringP("key", "k", "", "TLS key file")
	fs.IntP("workers", "t", 4, "worker reactor count")
	fs.StringP("user", "u", "", "drop privileges to this user after binding")
	fs.BoolP("daemonize", "d", false, "run as a background daemon")
	fs.String("log", "info", "log level")
	fs.StringSliceP("secrets", "e", nil, "accepted token HMAC secrets, oldest first")
	fs.String("metrics-addr", "", "Prometheus /metrics listen address, empty disables")
	fs.String("control-base-url", "", "this server's own control-plane base URL for auto-register/ping")
	fs.String("control-token", "", "shared token this server presents to the control plane on auto-register")

	v := viper.New()
	v.SetEnvPrefix("NETTEST")
	v.AutomaticEnv()
	_ = v.BindPFlags(fs)
	return v
}

// BindClientFlags registers the client flag surface on fs, spec.md
// §6.3 (client: -c, -t, -tls, -ws, -g, -raw, -log, -p).
func BindClientFlags(fs *pflag.FlagSet) *viper.Viper {
	fs.StringP("host", "c", "", "measurement server host")
	fs.IntP("port", "p", 5005, "measurement server port")
	fs.IntP("threads", "t", 3, "parallel measurement connections")
	fs.Bool("tls", false, "use TLS transport")
	fs.Bool("ws", false, "use WebSocket carrier")
	fs.BoolP("guess", "g", false, "discover nearest server via the control plane")
	fs.Bool("raw", false, "print raw per-thread samples")
	fs.String("log", "info", "log level")
	fs.String("token", "", "pre-minted session token (normally supplied by the control plane)")
	fs.String("control-url", "", "control-plane discovery URL")
	fs.String("client-uuid", "", "override the persisted client UUID")

	v := viper.New()
	v.SetEnvPrefix("NETTEST")
	v.AutomaticEnv()
	_ = v.BindPFlags(fs)
	return v
}

// LoadFile merges a config file (if present) into v at the conventional
// locations spec.md §6.4 names: ~/.config/nettest.conf, falling back to
// /etc/nettest.conf. Missing files are not an error.
func LoadFile(v *viper.Viper) error {
	v.SetConfigType("yaml")
	if home, err := os.UserHomeDir(); err == nil {
		userPath := filepath.Join(home, ".config", "nettest.conf")
		if _, statErr := os.Stat(userPath); statErr == nil {
			v.SetConfigFile(userPath)
			return v.ReadInConfig()
		}
	}
	const systemPath = "/etc/nettest.conf"
	if _, statErr := os.Stat(systemPath); statErr == nil {
		v.SetConfigFile(systemPath)
		return v.ReadInConfig()
	}
	return nil
}

// PersistedClientUUID loads (or mints and persists) the client's stable
// UUID, spec.md §6.4 ("the optional client UUID written into a config
// file"). It reads/writes the same file LoadFile looks for, creating
// the user config directory if necessary.
func PersistedClientUUID(v *viper.Viper) (string, error) {
	if id := v.GetString("client-uuid"); id != "" {
		return id, nil
	}
	if id := v.GetString("clientUuid"); id != "" {
		return id, nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return uuid.NewString(), nil
	}
	dir := filepath.Join(home, ".config")
	path := filepath.Join(dir, "nettest.conf")

	fv := viper.New()
	fv.SetConfigFile(path)
	fv.SetConfigType("yaml")
	if err := fv.ReadInConfig(); err == nil {
		if id := fv.GetString("clientUuid"); id != "" {
			return id, nil
		}
	}

	id := uuid.NewString()
	if mkErr := os.MkdirAll(dir, 0o755); mkErr != nil {
		return id, fmt.Errorf("config: create config dir: %w", mkErr)
	}
	fv.Set("clientUuid", id)
	if err := fv.WriteConfigAs(path); err != nil {
		return id, fmt.Errorf("config: persist client uuid: %w", err)
	}
	return id, nil
}

// WritePIDFile writes the current process PID to spec.md §6.4's
// conventional location. No pack library specializes PID-file
// handling, so this stays on plain os calls.
func WritePIDFile(path string) error {
	if path == "" {
		path = "/run/rmbt.pid"
	}
	return os.WriteFile(path, []byte(fmt.Sprintf("%d\n", os.Getpid())), 0o644)
}

// RemovePIDFile removes a PID file written by WritePIDFile, ignoring a
// not-exist error so shutdown is idempotent.
func RemovePIDFile(path string) error {
	if path == "" {
		path = "/run/rmbt.pid"
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("config: remove pid file: %w", err)
	}
	return nil
}
