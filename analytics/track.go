// Package analytics builds the optional tracker shared by the upload
// coordinator and the page-load listener. Tracking is off unless enabled
// through the environment.
package analytics

import (
	"fmt"

	"github.com/bitrise-io/go-utils/v2/analytics"
	"github.com/bitrise-io/go-utils/v2/env"
	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/opalnova/webassets/internal/envconfig"
)

// TrackerFactory matches analytics.NewDefaultTracker.
type TrackerFactory func(log.Logger, ...analytics.Properties) analytics.Tracker

const (
	// EnabledEnvKey turns tracking on when set to a true value.
	EnabledEnvKey = "WEBASSETS_ANALYTICS_ENABLED"
	// SessionIDEnvKey names the variable holding the session identifier.
	SessionIDEnvKey = "WEBASSETS_SESSION_ID"
	// SessionID is the property key every event is tagged with.
	SessionID = "session_id"
)

type trackerEnv struct {
	Enabled   bool   `koanf:"WEBASSETS_ANALYTICS_ENABLED"`
	SessionID string `koanf:"WEBASSETS_SESSION_ID"`
}

// NewTracker returns a tracker tagged with the session ID, or nil when
// tracking is disabled.
func NewTracker(repository env.Repository, logger log.Logger, trackerFactory TrackerFactory) (analytics.Tracker, error) {
	var cfg trackerEnv
	if err := envconfig.Load(&cfg, repository); err != nil {
		return nil, err
	}
	if !cfg.Enabled {
		return nil, nil
	}
	if cfg.SessionID == "" {
		return nil, fmt.Errorf("analytics enabled but %s is not set", SessionIDEnvKey)
	}
	return trackerFactory(logger, analytics.Properties{SessionID: cfg.SessionID}), nil
}

// NewDefaultTracker ...
func NewDefaultTracker(repository env.Repository, logger log.Logger) (analytics.Tracker, error) {
	return NewTracker(repository, logger, analytics.NewDefaultTracker)
}
