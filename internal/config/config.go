package config

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment variable.
const EnvPrefix = "RELAYCHAT"

const (
	// DefaultPort is the relay's TCP port.
	DefaultPort = 5050
	// DefaultChunkSize is the upload slice size in bytes.
	DefaultChunkSize = 32 * 1024
	// MaxChunkSize keeps an encrypted chunk frame well below the codec's
	// line limit.
	MaxChunkSize = 1 << 20
)

var (
	// ErrInvalid wraps every validation failure.
	ErrInvalid = errors.New("invalid configuration")

	validLevels = []string{"ERROR", "WARNING", "NOTICE", "INFO", "DEBUG"}
)

// Log configures the logging backend.
type Log struct {
	File    string `mapstructure:"file"`
	Level   string `mapstructure:"level"`
	Disable bool   `mapstructure:"disable"`
}

// Server is the relay configuration.
type Server struct {
	Listen        string `mapstructure:"listen"`
	KeyFile       string `mapstructure:"key_file"`
	KeyPassphrase string `mapstructure:"key_passphrase"`
	MetricsAddr   string `mapstructure:"metrics_addr"`
	Log           Log    `mapstructure:"log"`
}

// Client is the terminal client configuration.
type Client struct {
	Host           string        `mapstructure:"host"`
	Port           int           `mapstructure:"port"`
	Username       string        `mapstructure:"username"`
	AvatarID       int           `mapstructure:"avatar_id"`
	DownloadDir    string        `mapstructure:"download_dir"`
	ChunkSize      int           `mapstructure:"chunk_size"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
	Log            Log           `mapstructure:"log"`
}

// Addr returns host:port.
func (c *Client) Addr() string { return net.JoinHostPort(c.Host, strconv.Itoa(c.Port)) }

// serverFlagKeys and clientFlagKeys map flag names to config keys.
var serverFlagKeys = map[string]string{
	"listen":         "listen",
	"key-file":       "key_file",
	"key-passphrase": "key_passphrase",
	"metrics-addr":   "metrics_addr",
	"log-file":       "log.file",
	"log-level":      "log.level",
	"log-disable":    "log.disable",
}

var clientFlagKeys = map[string]string{
	"host":            "host",
	"port":            "port",
	"username":        "username",
	"avatar":          "avatar_id",
	"download-dir":    "download_dir",
	"chunk-size":      "chunk_size",
	"connect-timeout": "connect_timeout",
	"log-file":        "log.file",
	"log-level":       "log.level",
	"log-disable":     "log.disable",
}

// ServerFlags declares the relay flags on fs.
func ServerFlags(fs *pflag.FlagSet) {
	fs.String("config", "", "path to a yaml or toml config file")
	fs.String("listen", "0.0.0.0:5050", "address to accept clients on")
	fs.String("key-file", "", "persist the relay RSA key at this path")
	fs.String("key-passphrase", "", "seal the key file under this passphrase")
	fs.String("metrics-addr", "", "serve Prometheus metrics on this address")
	logFlags(fs)
}

// ClientFlags declares the client flags on fs.
func ClientFlags(fs *pflag.FlagSet) {
	fs.String("config", "", "path to a yaml or toml config file")
	fs.String("host", "127.0.0.1", "relay host")
	fs.Int("port", DefaultPort, "relay port")
	fs.StringP("username", "u", "", "name to join as (required)")
	fs.Int("avatar", 0, "avatar id shown to others")
	fs.String("download-dir", "downloads", "where accepted files are saved")
	fs.Int("chunk-size", DefaultChunkSize, "upload chunk size in bytes")
	fs.Duration("connect-timeout", 10*time.Second, "give up connecting after this long")
	logFlags(fs)
}

func logFlags(fs *pflag.FlagSet) {
	fs.String("log-file", "", "log to this file instead of stderr")
	fs.String("log-level", "NOTICE", "ERROR, WARNING, NOTICE, INFO or DEBUG")
	fs.Bool("log-disable", false, "discard all log output")
}

func setServerDefaults(v *viper.Viper) {
	v.SetDefault("listen", "0.0.0.0:5050")
	v.SetDefault("key_file", "")
	v.SetDefault("key_passphrase", "")
	v.SetDefault("metrics_addr", "")
	setLogDefaults(v)
}

func setClientDefaults(v *viper.Viper) {
	v.SetDefault("host", "127.0.0.1")
	v.SetDefault("port", DefaultPort)
	v.SetDefault("username", "")
	v.SetDefault("avatar_id", 0)
	v.SetDefault("download_dir", "downloads")
	v.SetDefault("chunk_size", DefaultChunkSize)
	v.SetDefault("connect_timeout", "10s")
	setLogDefaults(v)
}

func setLogDefaults(v *viper.Viper) {
	v.SetDefault("log.file", "")
	v.SetDefault("log.level", "NOTICE")
	v.SetDefault("log.disable", false)
}

// LoadServer resolves the relay configuration from fs and its sources.
func LoadServer(fs *pflag.FlagSet) (*Server, error) {
	v, err := load(fs, setServerDefaults, serverFlagKeys)
	if err != nil {
		return nil, err
	}
	var cfg Server
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadClient resolves the client configuration from fs and its sources.
func LoadClient(fs *pflag.FlagSet) (*Client, error) {
	v, err := load(fs, setClientDefaults, clientFlagKeys)
	if err != nil {
		return nil, err
	}
	var cfg Client
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func load(fs *pflag.FlagSet, defaults func(*viper.Viper), flagKeys map[string]string) (*viper.Viper, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	defaults(v)

	if f := fs.Lookup("config"); f != nil && f.Value.String() != "" {
		v.SetConfigFile(f.Value.String())
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	for name, key := range flagKeys {
		f := fs.Lookup(name)
		if f == nil || !f.Changed {
			continue
		}
		if err := v.BindPFlag(key, f); err != nil {
			return nil, fmt.Errorf("bind flag %s: %w", name, err)
		}
	}
	return v, nil
}

// Validate checks the relay configuration.
func (c *Server) Validate() error {
	if c.Listen == "" {
		return fmt.Errorf("%w: listen address is required", ErrInvalid)
	}
	if c.KeyPassphrase != "" && c.KeyFile == "" {
		return fmt.Errorf("%w: key_passphrase needs key_file", ErrInvalid)
	}
	return c.Log.Validate()
}

// Validate checks the client configuration.
func (c *Client) Validate() error {
	switch {
	case c.Username == "":
		return fmt.Errorf("%w: username is required (use --username or %s_USERNAME)", ErrInvalid, EnvPrefix)
	case c.Username == "*" || strings.ContainsAny(c.Username, " \t\r\n"):
		return fmt.Errorf("%w: username %q is not allowed", ErrInvalid, c.Username)
	case c.Port < 1 || c.Port > 65535:
		return fmt.Errorf("%w: port %d out of range", ErrInvalid, c.Port)
	case c.AvatarID < 0:
		return fmt.Errorf("%w: avatar_id must not be negative", ErrInvalid)
	case c.ChunkSize < 1 || c.ChunkSize > MaxChunkSize:
		return fmt.Errorf("%w: chunk_size must be between 1 and %d", ErrInvalid, MaxChunkSize)
	case c.DownloadDir == "":
		return fmt.Errorf("%w: download_dir is required", ErrInvalid)
	}
	return c.Log.Validate()
}

// Validate checks the log level.
func (l *Log) Validate() error {
	if l.Level == "" {
		return nil
	}
	for _, lvl := range validLevels {
		if strings.EqualFold(l.Level, lvl) {
			return nil
		}
	}
	return fmt.Errorf("%w: unknown log level %q", ErrInvalid, l.Level)
}
