package socket

import (
	"net/url"
	"strings"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/kleeedolinux/chatsocket/logs"
)

const ChatPath = "/api/chat/ws"

// EndpointConfig carries what the hosting page knows about itself plus the
// optional identity sent in the query string.
type EndpointConfig struct {
	// WSBaseURL overrides host selection; a ws:// or wss:// prefix and any
	// path are dropped.
	WSBaseURL string
	// APIBaseURL is consulted outside Dev: when its host differs from
	// PageHost, the socket goes to the API host.
	APIBaseURL string
	PageHost   string
	Secure     bool
	Dev        bool

	Username string
	Avatar   string
	Token    string
}

func BuildEndpoint(cfg EndpointConfig) (string, error) {
	host := resolveHost(cfg)
	if host == "" {
		return "", errors.New("endpoint host is empty")
	}

	scheme := "ws:"
	if cfg.Secure {
		scheme = "wss:"
	}

	var b strings.Builder
	b.WriteString(scheme)
	b.WriteString("//")
	b.WriteString(host)
	b.WriteString(ChatPath)

	// Insertion order: username, avatar, token.
	sep := byte('?')
	for _, kv := range [][2]string{
		{"username", cfg.Username},
		{"avatar", cfg.Avatar},
		{"token", cfg.Token},
	} {
		if kv[1] == "" {
			continue
		}
		b.WriteByte(sep)
		b.WriteString(kv[0])
		b.WriteByte('=')
		b.WriteString(url.QueryEscape(kv[1]))
		sep = '&'
	}
	return b.String(), nil
}

// resolveHost falls back to the page host when APIBaseURL does not parse.
func resolveHost(cfg EndpointConfig) string {
	if cfg.WSBaseURL != "" {
		host := cfg.WSBaseURL
		host = strings.TrimPrefix(host, "wss://")
		host = strings.TrimPrefix(host, "ws://")
		host, _, _ = strings.Cut(host, "/")
		return host
	}

	host := cfg.PageHost
	if cfg.Dev || cfg.APIBaseURL == "" {
		return host
	}

	u, err := url.Parse(cfg.APIBaseURL)
	if err != nil {
		logs.Warn("api base url does not parse, using page host",
			zap.String("api_base_url", cfg.APIBaseURL),
			zap.String("host", host),
			zap.Error(err))
		return host
	}
	if u.Host != "" && u.Host != host {
		return u.Host
	}
	return host
}
