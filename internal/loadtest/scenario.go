// Package loadtest provides the virtual-user runtime that drives a scenario
// against an HTTP API.
//
// A Scenario describes one user journey. The VUScheduler spawns
// VirtualUsers, each of which calls Scenario.Iterate repeatedly while an
// executor (see the executor package) decides how many VUs are alive.
package loadtest

import "context"

// SetupData is the value produced by Scenario.Setup and handed to every
// iteration and to Teardown. It must be treated as read-only by iterations.
type SetupData map[string]any

// Scenario is a user journey executed once per VU iteration.
type Scenario interface {
	// Name identifies the scenario in logs and summaries.
	Name() string

	// Setup runs once before any VU starts.
	Setup(ctx context.Context) (SetupData, error)

	// Iterate runs one iteration on behalf of vu. Failures of individual
	// requests are recorded as metrics and must not be returned; a returned
	// error is reserved for conditions that make the iteration meaningless.
	Iterate(ctx context.Context, vu *VirtualUser, data SetupData) error

	// Teardown runs once after all VUs stopped.
	Teardown(ctx context.Context, data SetupData) error
}
