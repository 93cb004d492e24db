// Package delivery implements the virtual-user journey against the Ten
// Minute Delivery API: browsing, search, an authenticated account flow,
// signup and delivery tracking.
package delivery

import (
	"math/rand"
	"strings"
	"time"

	"github.com/wesleyorama2/deliveryload/internal/loadtest/config"
)

// Credentials is a test account used by the authenticated flow.
type Credentials struct {
	Email    string
	Password string
}

// Options configures a Runner.
type Options struct {
	BaseURL string

	// ThinkTime is the pause after every executed step. With ThinkTimeMax
	// above it, the pause is drawn from [ThinkTime, ThinkTimeMax].
	ThinkTime    time.Duration
	ThinkTimeMax time.Duration

	// Probabilities in [0,1] of taking each optional branch per iteration.
	AuthRate     float64
	SignupRate   float64
	TrackingRate float64

	Users         []Credentials
	SearchQueries []string
	Categories    []string
}

// DefaultOptions returns the stock flow: every default taken from config.
func DefaultOptions() Options {
	return OptionsFromConfig(config.Default())
}

// OptionsFromConfig builds runner options from a test configuration.
// Defaults must already be applied.
func OptionsFromConfig(cfg *config.TestConfig) Options {
	opts := Options{
		BaseURL:       strings.TrimRight(cfg.Settings.BaseURL, "/"),
		ThinkTime:     config.DefaultThinkTime,
		AuthRate:      config.DefaultAuthRate,
		SignupRate:    config.DefaultSignupRate,
		TrackingRate:  config.DefaultTrackingRate,
		SearchQueries: append([]string(nil), cfg.Data.SearchQueries...),
		Categories:    append([]string(nil), cfg.Data.Categories...),
	}

	if cfg.Settings.ThinkTime != nil {
		opts.ThinkTime = time.Duration(*cfg.Settings.ThinkTime)
	}
	if cfg.Settings.ThinkTimeMax != nil {
		opts.ThinkTimeMax = time.Duration(*cfg.Settings.ThinkTimeMax)
	}
	if cfg.Scenario.AuthRate != nil {
		opts.AuthRate = *cfg.Scenario.AuthRate
	}
	if cfg.Scenario.SignupRate != nil {
		opts.SignupRate = *cfg.Scenario.SignupRate
	}
	if cfg.Scenario.TrackingRate != nil {
		opts.TrackingRate = *cfg.Scenario.TrackingRate
	}
	for _, u := range cfg.Data.Users {
		opts.Users = append(opts.Users, Credentials{Email: u.Email, Password: u.Password})
	}

	return opts
}

// Pause returns the think time for one step.
func (o Options) Pause(rng *rand.Rand) time.Duration {
	spread := o.ThinkTimeMax - o.ThinkTime
	if spread <= 0 {
		return o.ThinkTime
	}
	return o.ThinkTime + time.Duration(rng.Int63n(int64(spread)+1))
}
