// Package preflight verifies that every tool the lifecycle engine shells out
// to is installed, recent enough, and that the Docker daemon is running. It
// never mutates environment state.
package preflight

import (
	"context"
	"errors"
	"fmt"
	"io"
	"runtime"

	"github.com/Masterminds/semver/v3"
	"github.com/cdp-platform/cdp-dev/pkg/utils/notify"
	"golang.org/x/sync/errgroup"
)

// ErrUnsatisfied is returned when one or more prerequisites are missing,
// outdated, or the Docker daemon is not running.
var ErrUnsatisfied = errors.New("prerequisites not satisfied")

// CheckStatus classifies the outcome of a single prerequisite probe.
type CheckStatus string

const (
	// StatusOK means the tool is present and recent enough.
	StatusOK CheckStatus = "ok"
	// StatusMissing means the tool was not found on PATH.
	StatusMissing CheckStatus = "missing"
	// StatusOutdated means the tool is older than the required version.
	StatusOutdated CheckStatus = "outdated"
	// StatusError means the probe itself failed (daemon down, command error).
	StatusError CheckStatus = "error"
)

// Requirement describes a tool probe: the command producing a version string
// and the minimum accepted version.
type Requirement struct {
	// Name is the tool name (also the binary looked up on PATH).
	Name string
	// MinVersion is the minimum accepted semantic version.
	MinVersion string
	// VersionArgs are the arguments producing a version string.
	VersionArgs []string
	// Hints maps GOOS values to installation instructions.
	Hints map[string]string
}

// Hint returns the installation hint for the current platform.
func (r Requirement) Hint() string {
	if hint, ok := r.Hints[runtime.GOOS]; ok {
		return hint
	}

	return r.Hints["linux"]
}

// CheckResult is the outcome of probing a single requirement.
type CheckResult struct {
	Name     string
	Required string
	Detected string
	Status   CheckStatus
	Detail   string
	Hint     string
}

// Report aggregates all probe outcomes.
type Report struct {
	Checks []CheckResult
}

// Unsatisfied reports whether any check failed.
func (r Report) Unsatisfied() bool {
	for _, check := range r.Checks {
		if check.Status != StatusOK {
			return true
		}
	}

	return false
}

// Render writes the report through notify, one line per check.
func (r Report) Render(writer io.Writer) {
	for _, check := range r.Checks {
		switch check.Status {
		case StatusOK:
			notify.Successf(writer, "%s %s (>= %s)", check.Name, check.Detected, check.Required)
		case StatusMissing:
			notify.Errorf(writer, "%s not found\n install: %s", check.Name, check.Hint)
		case StatusOutdated:
			notify.Errorf(
				writer,
				"%s %s is older than required %s\n upgrade: %s",
				check.Name, check.Detected, check.Required, check.Hint,
			)
		case StatusError:
			notify.Errorf(writer, "%s: %s", check.Name, check.Detail)
		}
	}
}

// VersionProber probes a tool for its version string.
type VersionProber interface {
	// Probe runs the requirement's version command and returns its raw output.
	// A missing binary is reported with ErrToolNotFound.
	Probe(ctx context.Context, requirement Requirement) (string, error)
}

// DaemonPinger checks that the container runtime daemon responds.
type DaemonPinger interface {
	Ping(ctx context.Context) error
}

// Checker runs all prerequisite probes concurrently.
type Checker struct {
	requirements []Requirement
	prober       VersionProber
	pinger       DaemonPinger
}

// NewChecker creates a Checker for the default tool set.
func NewChecker(prober VersionProber, pinger DaemonPinger) *Checker {
	return &Checker{
		requirements: DefaultRequirements(),
		prober:       prober,
		pinger:       pinger,
	}
}

// NewCheckerWithRequirements creates a Checker for a custom tool set.
func NewCheckerWithRequirements(
	requirements []Requirement,
	prober VersionProber,
	pinger DaemonPinger,
) *Checker {
	return &Checker{requirements: requirements, prober: prober, pinger: pinger}
}

// Check probes every requirement plus the Docker daemon. The probes are
// independent, so they run concurrently. The returned error is nil even when
// checks fail; callers gate on Report.Unsatisfied.
func (c *Checker) Check(ctx context.Context) (Report, error) {
	results := make([]CheckResult, len(c.requirements)+1)

	group, groupCtx := errgroup.WithContext(ctx)

	for i, requirement := range c.requirements {
		group.Go(func() error {
			results[i] = c.checkTool(groupCtx, requirement)

			return nil
		})
	}

	group.Go(func() error {
		results[len(results)-1] = c.checkDaemon(groupCtx)

		return nil
	})

	err := group.Wait()
	if err != nil {
		return Report{}, fmt.Errorf("preflight probes: %w", err)
	}

	return Report{Checks: results}, nil
}

func (c *Checker) checkTool(ctx context.Context, requirement Requirement) CheckResult {
	result := CheckResult{
		Name:     requirement.Name,
		Required: requirement.MinVersion,
		Hint:     requirement.Hint(),
	}

	raw, err := c.prober.Probe(ctx, requirement)
	if err != nil {
		if errors.Is(err, ErrToolNotFound) {
			result.Status = StatusMissing
			result.Detail = err.Error()

			return result
		}

		result.Status = StatusError
		result.Detail = err.Error()

		return result
	}

	detected := extractVersion(raw)
	if detected == "" {
		// Version output we cannot parse is accepted, matching the lenient
		// behavior users expect from tools with exotic version formats.
		result.Status = StatusOK
		result.Detected = "unknown"

		return result
	}

	result.Detected = detected

	detectedVersion, parseErr := semver.NewVersion(detected)
	if parseErr != nil {
		result.Status = StatusOK

		return result
	}

	minVersion, minErr := semver.NewVersion(requirement.MinVersion)
	if minErr == nil && detectedVersion.LessThan(minVersion) {
		result.Status = StatusOutdated

		return result
	}

	result.Status = StatusOK

	return result
}

func (c *Checker) checkDaemon(ctx context.Context) CheckResult {
	result := CheckResult{Name: "docker daemon", Required: "running"}

	err := c.pinger.Ping(ctx)
	if err != nil {
		result.Status = StatusError
		result.Detail = "not running (start Docker Desktop or the docker service)"

		return result
	}

	result.Status = StatusOK
	result.Detected = "running"

	return result
}
