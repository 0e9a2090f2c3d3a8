package preflight_test

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/cdp-platform/cdp-dev/pkg/svc/preflight"
	fcolor "github.com/fatih/color"
	"github.com/gkampitakis/go-snaps/snaps"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	// Keep rendered output stable regardless of the terminal running the tests.
	fcolor.NoColor = true
}

var errProbeBoom = errors.New("probe boom")

// fakeProber serves canned version output per tool.
type fakeProber struct {
	outputs map[string]string
	errs    map[string]error
}

func (f fakeProber) Probe(_ context.Context, requirement preflight.Requirement) (string, error) {
	if err := f.errs[requirement.Name]; err != nil {
		return "", err
	}

	return f.outputs[requirement.Name], nil
}

type fakePinger struct {
	err error
}

func (f fakePinger) Ping(context.Context) error {
	return f.err
}

func testRequirements() []preflight.Requirement {
	hints := map[string]string{
		"linux":   "https://example.invalid/install",
		"darwin":  "https://example.invalid/install",
		"windows": "https://example.invalid/install",
	}

	return []preflight.Requirement{
		{Name: "docker", MinVersion: "24.0.0", VersionArgs: []string{"--version"}, Hints: hints},
		{Name: "kubectl", MinVersion: "1.28.0", VersionArgs: []string{"version"}, Hints: hints},
		{Name: "helm", MinVersion: "3.14.0", VersionArgs: []string{"version"}, Hints: hints},
		{Name: "kind", MinVersion: "0.23.0", VersionArgs: []string{"version"}, Hints: hints},
	}
}

func checkByName(t *testing.T, report preflight.Report, name string) preflight.CheckResult {
	t.Helper()

	for _, check := range report.Checks {
		if check.Name == name {
			return check
		}
	}

	t.Fatalf("no check named %q in report", name)

	return preflight.CheckResult{}
}

func TestCheck_AllSatisfied(t *testing.T) {
	t.Parallel()

	checker := preflight.NewCheckerWithRequirements(testRequirements(), fakeProber{
		outputs: map[string]string{
			"docker":  "Docker version 27.3.1, build ce12230",
			"kubectl": "Client Version: v1.31.0",
			"helm":    `version.BuildInfo{Version:"v3.16.2"}`,
			"kind":    "kind version 0.24.0",
		},
	}, fakePinger{})

	report, err := checker.Check(context.Background())

	require.NoError(t, err)
	assert.False(t, report.Unsatisfied())
	assert.Equal(t, "27.3.1", checkByName(t, report, "docker").Detected)
	assert.Equal(t, preflight.StatusOK, checkByName(t, report, "docker daemon").Status)
}

func TestCheck_Classification(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		output   string
		err      error
		expected preflight.CheckStatus
		detected string
	}{
		{"recent enough", "kind version 0.24.0", nil, preflight.StatusOK, "0.24.0"},
		{"exact minimum", "kind version 0.23.0", nil, preflight.StatusOK, "0.23.0"},
		{"outdated", "kind version 0.20.0", nil, preflight.StatusOutdated, "0.20.0"},
		{
			"missing",
			"",
			fmt.Errorf("%w: kind", preflight.ErrToolNotFound),
			preflight.StatusMissing,
			"",
		},
		{"probe error", "", errProbeBoom, preflight.StatusError, ""},
		{"unparsable accepted", "kind built from source", nil, preflight.StatusOK, "unknown"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			requirements := []preflight.Requirement{{
				Name:       "kind",
				MinVersion: "0.23.0",
				Hints:      map[string]string{"linux": "install kind"},
			}}

			checker := preflight.NewCheckerWithRequirements(requirements, fakeProber{
				outputs: map[string]string{"kind": tc.output},
				errs:    map[string]error{"kind": tc.err},
			}, fakePinger{})

			report, err := checker.Check(context.Background())

			require.NoError(t, err)

			check := checkByName(t, report, "kind")
			assert.Equal(t, tc.expected, check.Status)
			assert.Equal(t, tc.detected, check.Detected)
		})
	}
}

func TestCheck_DaemonDownGates(t *testing.T) {
	t.Parallel()

	checker := preflight.NewCheckerWithRequirements(testRequirements(), fakeProber{
		outputs: map[string]string{
			"docker":  "Docker version 27.3.1",
			"kubectl": "v1.31.0",
			"helm":    "v3.16.2",
			"kind":    "kind version 0.24.0",
		},
	}, fakePinger{err: errProbeBoom})

	report, err := checker.Check(context.Background())

	require.NoError(t, err)
	assert.True(t, report.Unsatisfied())
	assert.Equal(t, preflight.StatusError, checkByName(t, report, "docker daemon").Status)
}

func TestReport_Render(t *testing.T) {
	checker := preflight.NewCheckerWithRequirements(testRequirements(), fakeProber{
		outputs: map[string]string{
			"docker":  "Docker version 27.3.1, build ce12230",
			"kubectl": "Client Version: v1.27.0",
			"helm":    `version.BuildInfo{Version:"v3.16.2"}`,
		},
		errs: map[string]error{
			"kind": fmt.Errorf("%w: kind", preflight.ErrToolNotFound),
		},
	}, fakePinger{})

	report, err := checker.Check(context.Background())
	require.NoError(t, err)

	var buf bytes.Buffer

	report.Render(&buf)

	snaps.MatchSnapshot(t, buf.String())
}
