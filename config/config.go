package config

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/kleeedolinux/chatsocket/hub"
	"github.com/kleeedolinux/chatsocket/logs"
	"github.com/kleeedolinux/chatsocket/socket"
)

const (
	EnvPrefix            = "CHAT"
	defaultConfigRelPath = "configs/chat.yml"
)

type ClientConfig struct {
	WSBaseURL  string `mapstructure:"ws_base_url"`
	APIBaseURL string `mapstructure:"api_base_url"`
	Host       string `mapstructure:"host"`
	Secure     bool   `mapstructure:"secure"`
	Dev        bool   `mapstructure:"dev"`

	Username string `mapstructure:"username"`
	Avatar   string `mapstructure:"avatar"`
	Token    string `mapstructure:"token"`

	ReconnectAttempts int           `mapstructure:"reconnect_attempts"`
	ReconnectDelay    time.Duration `mapstructure:"reconnect_delay"`
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval"`
}

func (c ClientConfig) Endpoint() socket.EndpointConfig {
	return socket.EndpointConfig{
		WSBaseURL:  c.WSBaseURL,
		APIBaseURL: c.APIBaseURL,
		PageHost:   c.Host,
		Secure:     c.Secure,
		Dev:        c.Dev,
		Username:   c.Username,
		Avatar:     c.Avatar,
		Token:      c.Token,
	}
}

func (c ClientConfig) Options() []socket.ClientOption {
	return []socket.ClientOption{
		socket.WithReconnectAttempts(c.ReconnectAttempts),
		socket.WithReconnectDelay(c.ReconnectDelay),
		socket.WithHeartbeat(c.HeartbeatInterval, nil),
	}
}

type ServerConfig struct {
	Addr string `mapstructure:"addr"`
	// StorePath selects the sqlite history store; empty keeps history in
	// memory.
	StorePath       string        `mapstructure:"store_path"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type Config struct {
	Log    logs.Config  `mapstructure:"log"`
	Client ClientConfig `mapstructure:"client"`
	Server ServerConfig `mapstructure:"server"`
	Hub    hub.Config   `mapstructure:"hub"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")
	v.SetDefault("log.file", "")
	v.SetDefault("log.max_size", 100)
	v.SetDefault("log.max_backups", 3)
	v.SetDefault("log.max_age", 28)
	v.SetDefault("log.compress", false)
	v.SetDefault("log.dev", false)

	v.SetDefault("client.ws_base_url", "")
	v.SetDefault("client.api_base_url", "")
	v.SetDefault("client.host", "localhost:8080")
	v.SetDefault("client.secure", false)
	v.SetDefault("client.dev", false)
	v.SetDefault("client.username", "")
	v.SetDefault("client.avatar", "")
	v.SetDefault("client.token", "")
	v.SetDefault("client.reconnect_attempts", socket.DefaultReconnectAttempts)
	v.SetDefault("client.reconnect_delay", socket.DefaultReconnectDelay)
	v.SetDefault("client.heartbeat_interval", socket.DefaultHeartbeatInterval)

	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.store_path", "")
	v.SetDefault("server.shutdown_timeout", 10*time.Second)

	d := hub.DefaultConfig()
	v.SetDefault("hub.history_limit", d.HistoryLimit)
	v.SetDefault("hub.message_rate", d.MessageRate)
	v.SetDefault("hub.message_burst", d.MessageBurst)
	v.SetDefault("hub.kick_delay", d.KickDelay)
	v.SetDefault("hub.mute_all", d.MuteAll)
	v.SetDefault("hub.jwt_secret", "")
}

// Loader owns one viper instance. Config is safe to call while a watch
// reloads the file.
type Loader struct {
	v    *viper.Viper
	path string

	mu  sync.RWMutex
	cur Config
}

// Load reads the optional .env files, then the config file, then CHAT_*
// environment overrides (CHAT_HUB_MUTE_ALL overrides hub.mute_all). An empty
// path searches upward from the working directory for configs/chat.yml and
// runs on defaults when none is found.
func Load(path string, envFiles ...string) (*Loader, error) {
	if err := loadEnvFiles(envFiles); err != nil {
		return nil, err
	}

	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if err := v.BindEnv("hub.jwt_secret", EnvPrefix+"_HUB_JWT_SECRET", "JWT_SECRET"); err != nil {
		return nil, errors.Wrap(err, "bind jwt secret env")
	}

	if path == "" {
		path = findConfigUpward()
	}
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.Wrapf(err, "read config %s", path)
		}
	}

	l := &Loader{v: v, path: path}
	if err := l.reload(); err != nil {
		return nil, err
	}
	return l, nil
}

func loadEnvFiles(files []string) error {
	var existing []string
	for _, f := range files {
		if _, err := os.Stat(f); err == nil {
			existing = append(existing, f)
		}
	}
	if len(existing) == 0 {
		return nil
	}
	return errors.Wrap(godotenv.Load(existing...), "load env files")
}

func findConfigUpward() string {
	dir, err := os.Getwd()
	if err != nil {
		return ""
	}
	for {
		candidate := filepath.Join(dir, defaultConfigRelPath)
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}

func (l *Loader) reload() error {
	var c Config
	if err := l.v.Unmarshal(&c); err != nil {
		return errors.Wrap(err, "unmarshal config")
	}
	l.mu.Lock()
	l.cur = c
	l.mu.Unlock()
	return nil
}

func (l *Loader) Config() Config {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.cur
}

func (l *Loader) Path() string {
	return l.path
}

// Watch reloads the config file whenever it changes and passes the result to
// onChange. A file that fails to decode keeps the previous config.
func (l *Loader) Watch(onChange func(Config)) {
	if l.path == "" {
		return
	}
	l.v.OnConfigChange(func(e fsnotify.Event) {
		if err := l.reload(); err != nil {
			logs.Warn("config reload failed", zap.String("file", e.Name), zap.Error(err))
			return
		}
		logs.Info("config reloaded", zap.String("file", e.Name), zap.String("op", e.Op.String()))
		if onChange != nil {
			onChange(l.Config())
		}
	})
	l.v.WatchConfig()
}
