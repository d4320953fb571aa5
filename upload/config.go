package upload

import (
	"fmt"
	"time"

	"github.com/bitrise-io/go-utils/v2/env"
	"github.com/opalnova/webassets/imgcdn"
	"github.com/opalnova/webassets/internal/envconfig"
)

// DefaultCDNBaseURL is where uploaded originals become publicly readable.
const DefaultCDNBaseURL = "https://morphic-pro.imgix.net/opalnova"

// Rendition names with a destination in Meta.
const (
	RenditionMedium = "medium"
	RenditionSmall  = "small"
)

// CompletionMode decides when a successful entry is reported as done.
type CompletionMode string

const (
	// CompleteAfterDelay reports completion a fixed delay after the primary
	// transfer succeeded, without waiting for the derivative writes. The UI
	// may show an entry as done before its renditions exist.
	CompleteAfterDelay CompletionMode = "delay"
	// CompleteAfterDerivatives reports completion once both derivative
	// writes finished, successfully or not.
	CompleteAfterDerivatives CompletionMode = "derivatives"
)

// Config holds configuration for the Coordinator.
type Config struct {
	// CDNBaseURL is the public location of uploaded originals, used when an
	// entry carries no Meta.PublicURL.
	CDNBaseURL string

	// CompletionDelay is the wait between primary success and the completion
	// report in CompleteAfterDelay mode.
	// Default: 1 second
	CompletionDelay time.Duration

	// Default: CompleteAfterDelay
	CompletionMode CompletionMode

	// Renditions requested from the CDN after the primary transfer. Each
	// is written to Meta.Destination(rendition.Name).
	Renditions []imgcdn.Rendition

	// MaxConcurrentTransfers bounds parallel primary transfers.
	// Default: 0 (unbounded)
	MaxConcurrentTransfers int

	// RetryMax is the retry count of every HTTP request.
	// Default: 0
	RetryMax int
}

// DefaultRenditions returns the medium (600px wide) and small (300x200
// cropped) renditions.
func DefaultRenditions() []imgcdn.Rendition {
	return []imgcdn.Rendition{
		{Name: RenditionMedium, Width: 600},
		{Name: RenditionSmall, Width: 300, Height: 200, Fit: "crop"},
	}
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		CDNBaseURL:      DefaultCDNBaseURL,
		CompletionDelay: time.Second,
		CompletionMode:  CompleteAfterDelay,
		Renditions:      DefaultRenditions(),
	}
}

type envConfig struct {
	CDNBaseURL             string        `koanf:"UPLOAD_CDN_BASE_URL"`
	CompletionDelay        time.Duration `koanf:"UPLOAD_COMPLETION_DELAY"`
	CompletionMode         string        `koanf:"UPLOAD_COMPLETION_MODE"`
	MaxConcurrentTransfers int           `koanf:"UPLOAD_MAX_CONCURRENT_TRANSFERS"`
	RetryMax               int           `koanf:"UPLOAD_RETRY_MAX"`
}

// NewConfigFromEnv returns DefaultConfig overridden by the UPLOAD_* variables.
func NewConfigFromEnv(repository env.Repository) (Config, error) {
	config := DefaultConfig()
	raw := envConfig{
		CDNBaseURL:      config.CDNBaseURL,
		CompletionDelay: config.CompletionDelay,
		CompletionMode:  string(config.CompletionMode),
	}
	if err := envconfig.Load(&raw, repository); err != nil {
		return Config{}, err
	}

	config.CDNBaseURL = raw.CDNBaseURL
	config.CompletionDelay = raw.CompletionDelay
	config.CompletionMode = CompletionMode(raw.CompletionMode)
	config.MaxConcurrentTransfers = raw.MaxConcurrentTransfers
	config.RetryMax = raw.RetryMax

	if err := config.Validate(); err != nil {
		return Config{}, err
	}
	return config, nil
}

// Validate ...
func (c Config) Validate() error {
	if c.CDNBaseURL == "" {
		return fmt.Errorf("CDN base URL is empty")
	}
	if c.CompletionDelay < 0 {
		return fmt.Errorf("completion delay must not be negative")
	}
	switch c.CompletionMode {
	case CompleteAfterDelay, CompleteAfterDerivatives:
	default:
		return fmt.Errorf("unknown completion mode %q", c.CompletionMode)
	}
	if c.MaxConcurrentTransfers < 0 {
		return fmt.Errorf("max concurrent transfers must not be negative")
	}
	if c.RetryMax < 0 {
		return fmt.Errorf("retry max must not be negative")
	}
	return nil
}
