package preflight

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"regexp"
	"time"
)

// ErrToolNotFound is returned when a probed binary is not on PATH.
var ErrToolNotFound = errors.New("tool not found on PATH")

// probeTimeout bounds a single version command.
const probeTimeout = 10 * time.Second

// versionPattern matches the first semantic-ish version in command output.
var versionPattern = regexp.MustCompile(`v?(\d+)\.(\d+)(\.(\d+))?`)

// ExecProber probes tools by executing their version commands.
type ExecProber struct{}

var _ VersionProber = ExecProber{}

// Probe looks the binary up on PATH and runs its version command with a
// bounded timeout, returning the combined output.
func (ExecProber) Probe(ctx context.Context, requirement Requirement) (string, error) {
	_, lookErr := exec.LookPath(requirement.Name)
	if lookErr != nil {
		return "", fmt.Errorf("%w: %s", ErrToolNotFound, requirement.Name)
	}

	probeCtx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	cmd := exec.CommandContext(probeCtx, requirement.Name, requirement.VersionArgs...)

	output, err := cmd.CombinedOutput()
	if err != nil {
		return "", fmt.Errorf("probe %s version: %w", requirement.Name, err)
	}

	return string(output), nil
}

// extractVersion pulls "major.minor.patch" out of raw version output,
// defaulting a missing patch component to zero.
func extractVersion(raw string) string {
	match := versionPattern.FindStringSubmatch(raw)
	if match == nil {
		return ""
	}

	patch := match[4]
	if patch == "" {
		patch = "0"
	}

	return fmt.Sprintf("%s.%s.%s", match[1], match[2], patch)
}
