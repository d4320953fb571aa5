package livesocket

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/bitrise-io/go-utils/v2/env"
	"github.com/opalnova/webassets/internal/envconfig"
	"github.com/opalnova/webassets/upload"
)

const (
	// DefaultPath is the mount point of the live endpoint.
	DefaultPath = "/live"
	// DefaultHeartbeatInterval ...
	DefaultHeartbeatInterval = 30 * time.Second

	protocolVsn = "2.0.0"
)

// Config describes the socket of one page.
type Config struct {
	// URL is the origin of the page, e.g. https://example.com.
	URL               string
	Path              string
	CSRFToken         envconfig.Secret
	Params            map[string]string
	HeartbeatInterval time.Duration
	// Uploaders maps the uploader names used by file inputs to their implementation.
	Uploaders map[string]upload.Uploader
}

func (c Config) withDefaults() Config {
	out := c
	out.URL = strings.TrimSpace(out.URL)
	if out.Path == "" {
		out.Path = DefaultPath
	}
	if out.HeartbeatInterval <= 0 {
		out.HeartbeatInterval = DefaultHeartbeatInterval
	}
	return out
}

// EndpointURL returns the websocket URL the socket dials.
func (c Config) EndpointURL() (string, error) {
	c = c.withDefaults()

	u, err := url.Parse(c.URL)
	if err != nil {
		return "", fmt.Errorf("parse socket url: %w", err)
	}
	switch strings.ToLower(u.Scheme) {
	case "http", "ws":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported socket url scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return "", fmt.Errorf("socket url %q has no host", c.URL)
	}

	u.Path = strings.TrimRight(c.Path, "/") + "/websocket"

	query := url.Values{}
	for k, v := range c.Params {
		query.Set(k, v)
	}
	if c.CSRFToken != "" {
		query.Set("_csrf_token", string(c.CSRFToken))
	}
	query.Set("vsn", protocolVsn)
	u.RawQuery = query.Encode()

	return u.String(), nil
}

type envConfig struct {
	URL               string           `koanf:"LIVE_SOCKET_URL"`
	Path              string           `koanf:"LIVE_SOCKET_PATH"`
	CSRFToken         envconfig.Secret `koanf:"LIVE_SOCKET_CSRF_TOKEN"`
	HeartbeatInterval time.Duration    `koanf:"LIVE_SOCKET_HEARTBEAT_INTERVAL"`
}

// NewConfigFromEnv reads the LIVE_SOCKET_* variables.
func NewConfigFromEnv(repository env.Repository) (Config, error) {
	var raw envConfig
	if err := envconfig.Load(&raw, repository, "LIVE_SOCKET_URL"); err != nil {
		return Config{}, err
	}
	return Config{
		URL:               raw.URL,
		Path:              raw.Path,
		CSRFToken:         raw.CSRFToken,
		HeartbeatInterval: raw.HeartbeatInterval,
	}.withDefaults(), nil
}
