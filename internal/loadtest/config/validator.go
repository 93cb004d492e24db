package config

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/wesleyorama2/deliveryload/internal/loadtest/threshold"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("validation error on field '%s': %s", e.Field, e.Message)
	}
	return fmt.Sprintf("validation error: %s", e.Message)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors struct {
	Errors []*ValidationError
}

func (e *ValidationErrors) Error() string {
	if len(e.Errors) == 0 {
		return "no validation errors"
	}
	if len(e.Errors) == 1 {
		return e.Errors[0].Error()
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "%d validation errors:\n", len(e.Errors))
	for i, err := range e.Errors {
		fmt.Fprintf(&sb, "  %d. %s\n", i+1, err.Error())
	}
	return sb.String()
}

// Add adds an error to the collection.
func (e *ValidationErrors) Add(field, message string) {
	e.Errors = append(e.Errors, &ValidationError{Field: field, Message: message})
}

// HasErrors returns true if there are any errors.
func (e *ValidationErrors) HasErrors() bool {
	return len(e.Errors) > 0
}

// Validate validates the entire test configuration.
//
// Returns nil if valid, or a ValidationErrors containing all validation errors.
func (c *TestConfig) Validate() error {
	errs := &ValidationErrors{}

	validateSettings(&c.Settings, errs)
	validateScenario("scenario", &c.Scenario, errs)
	validateData(&c.Data, errs)
	validateThresholds(c.Thresholds, errs)

	if errs.HasErrors() {
		return errs
	}
	return nil
}

func validateSettings(s *Settings, errs *ValidationErrors) {
	if s.BaseURL == "" {
		errs.Add("settings.baseUrl", "base URL is required")
	} else if u, err := url.Parse(s.BaseURL); err != nil {
		errs.Add("settings.baseUrl", fmt.Sprintf("invalid URL: %v", err))
	} else if u.Scheme != "http" && u.Scheme != "https" {
		errs.Add("settings.baseUrl", fmt.Sprintf("scheme must be http or https, got %q", u.Scheme))
	} else if u.Host == "" {
		errs.Add("settings.baseUrl", "host is required")
	}

	if s.Timeout < 0 {
		errs.Add("settings.timeout", "cannot be negative")
	}
	if s.ThinkTime != nil && *s.ThinkTime < 0 {
		errs.Add("settings.thinkTime", "cannot be negative")
	}
	if s.ThinkTimeMax != nil {
		minThink := Duration(DefaultThinkTime)
		if s.ThinkTime != nil {
			minThink = *s.ThinkTime
		}
		if *s.ThinkTimeMax < minThink {
			errs.Add("settings.thinkTimeMax", "must be >= thinkTime")
		}
	}
	if s.MaxRPS < 0 {
		errs.Add("settings.maxRps", "cannot be negative")
	}
	if s.MaxConnectionsPerHost < 0 {
		errs.Add("settings.maxConnectionsPerHost", "cannot be negative")
	}
	if s.MaxIdleConnsPerHost < 0 {
		errs.Add("settings.maxIdleConnsPerHost", "cannot be negative")
	}
}

func validateScenario(prefix string, sc *ScenarioConfig, errs *ValidationErrors) {
	switch sc.Executor {
	case "":
		errs.Add(prefix+".executor", "executor type is required")
	case "constant-vus":
		if sc.VUs <= 0 {
			errs.Add(prefix+".vus", "vus must be greater than 0")
		}
		validateRequiredDuration(prefix+".duration", sc.Duration, errs)
	case "ramping-vus":
		if len(sc.Stages) == 0 {
			errs.Add(prefix+".stages", "at least one stage is required for ramping-vus executor")
		}
		if sc.StartVUs < 0 {
			errs.Add(prefix+".startVUs", "startVUs cannot be negative")
		}
		if total, err := ScenarioDuration(sc); err == nil && len(sc.Stages) > 0 && total <= 0 {
			errs.Add(prefix+".stages", "total stage duration must be greater than 0")
		}
	case "per-vu-iterations":
		if sc.VUs <= 0 {
			errs.Add(prefix+".vus", "vus must be greater than 0")
		}
		if sc.Iterations <= 0 {
			errs.Add(prefix+".iterations", "iterations must be greater than 0")
		}
	default:
		errs.Add(prefix+".executor", fmt.Sprintf("unknown executor type: %s", sc.Executor))
	}

	for i, stage := range sc.Stages {
		validateStage(fmt.Sprintf("%s.stages[%d]", prefix, i), &stage, errs)
	}

	validateOptionalDuration(prefix+".gracefulStop", sc.GracefulStop, errs)
	validateOptionalDuration(prefix+".gracefulRampDown", sc.GracefulRampDown, errs)
	validateOptionalDuration(prefix+".maxDuration", sc.MaxDuration, errs)

	if sc.Pacing != nil {
		validatePacing(prefix+".pacing", sc.Pacing, errs)
	}

	validateProbability(prefix+".authRate", sc.AuthRate, errs)
	validateProbability(prefix+".signupRate", sc.SignupRate, errs)
	validateProbability(prefix+".trackingRate", sc.TrackingRate, errs)
}

func validateRequiredDuration(field, value string, errs *ValidationErrors) {
	if value == "" {
		errs.Add(field, "duration is required")
		return
	}
	d, err := ParseDurationString(value)
	if err != nil {
		errs.Add(field, fmt.Sprintf("invalid duration: %v", err))
		return
	}
	if d <= 0 {
		errs.Add(field, "duration must be greater than 0")
	}
}

func validateOptionalDuration(field, value string, errs *ValidationErrors) {
	if value == "" {
		return
	}
	d, err := ParseDurationString(value)
	if err != nil {
		errs.Add(field, fmt.Sprintf("invalid duration: %v", err))
		return
	}
	if d < 0 {
		errs.Add(field, "cannot be negative")
	}
}

func validateProbability(field string, p *float64, errs *ValidationErrors) {
	if p == nil {
		return
	}
	if *p < 0 || *p > 1 {
		errs.Add(field, fmt.Sprintf("must be between 0 and 1, got %v", *p))
	}
}

func validateStage(prefix string, stage *StageConfig, errs *ValidationErrors) {
	if stage.Duration == "" {
		errs.Add(prefix+".duration", "duration is required")
	} else if d, err := ParseDurationString(stage.Duration); err != nil {
		errs.Add(prefix+".duration", fmt.Sprintf("invalid duration: %v", err))
	} else if d < 0 {
		errs.Add(prefix+".duration", "cannot be negative")
	}

	if stage.Target < 0 {
		errs.Add(prefix+".target", "target cannot be negative")
	}
}

func validatePacing(prefix string, pacing *PacingConfig, errs *ValidationErrors) {
	switch pacing.Type {
	case "none":
	case "constant":
		validateRequiredDuration(prefix+".duration", pacing.Duration, errs)

	case "random":
		if pacing.Min == "" {
			errs.Add(prefix+".min", "min is required for random pacing")
		}
		if pacing.Max == "" {
			errs.Add(prefix+".max", "max is required for random pacing")
		}
		minDur, minErr := ParseDurationString(pacing.Min)
		maxDur, maxErr := ParseDurationString(pacing.Max)
		if minErr != nil {
			errs.Add(prefix+".min", fmt.Sprintf("invalid min: %v", minErr))
		}
		if maxErr != nil {
			errs.Add(prefix+".max", fmt.Sprintf("invalid max: %v", maxErr))
		}
		if minErr == nil && maxErr == nil && minDur > maxDur {
			errs.Add(prefix, "min must be less than or equal to max")
		}

	default:
		errs.Add(prefix+".type", fmt.Sprintf("invalid pacing type: %s", pacing.Type))
	}
}

func validateData(d *DataConfig, errs *ValidationErrors) {
	if len(d.Users) == 0 {
		errs.Add("data.users", "at least one user is required")
	}
	for i, u := range d.Users {
		if u.Email == "" {
			errs.Add(fmt.Sprintf("data.users[%d].email", i), "email is required")
		}
	}
	if len(d.SearchQueries) == 0 {
		errs.Add("data.searchQueries", "at least one search query is required")
	}
	if len(d.Categories) == 0 {
		errs.Add("data.categories", "at least one category is required")
	}
}

func validateThresholds(thresholds map[string][]string, errs *ValidationErrors) {
	for metric, exprs := range thresholds {
		for i, expr := range exprs {
			if err := threshold.Validate(metric, expr); err != nil {
				errs.Add(fmt.Sprintf("thresholds.%s[%d]", metric, i), err.Error())
			}
		}
	}
}
