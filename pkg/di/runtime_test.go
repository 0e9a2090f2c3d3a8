package di_test

import (
	"errors"
	"testing"

	"github.com/cdp-platform/cdp-dev/pkg/di"
	"github.com/cdp-platform/cdp-dev/pkg/utils/timer"
	"github.com/samber/do/v2"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	errHandler = errors.New("handler error")
	errModule  = errors.New("module error")
)

func TestRuntime_Invoke_RunsModulesInOrder(t *testing.T) {
	t.Parallel()

	var order []int

	base := func(di.Injector) error {
		order = append(order, 1)

		return nil
	}
	extra := func(di.Injector) error {
		order = append(order, 2)

		return nil
	}

	runtime := di.New(base)

	err := runtime.Invoke(func(di.Injector) error {
		order = append(order, 3)

		return nil
	}, extra)

	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 3}, order, "base modules, extras, then the handler")
}

func TestRuntime_Invoke_ModuleErrorSkipsHandler(t *testing.T) {
	t.Parallel()

	runtime := di.New(func(di.Injector) error {
		return errModule
	})

	err := runtime.Invoke(func(di.Injector) error {
		t.Fatal("handler must not run when a module fails")

		return nil
	})

	require.ErrorIs(t, err, errModule)
}

func TestRuntime_Invoke_HandlerError(t *testing.T) {
	t.Parallel()

	err := di.New().Invoke(func(di.Injector) error {
		return errHandler
	})

	require.ErrorIs(t, err, errHandler)
}

func TestRuntime_Invoke_NilModulesSkipped(t *testing.T) {
	t.Parallel()

	runtime := di.New(nil)

	err := runtime.Invoke(func(di.Injector) error {
		return nil
	}, nil)

	require.NoError(t, err)
}

func TestRuntime_Invoke_FreshInjectorPerInvocation(t *testing.T) {
	t.Parallel()

	type marker struct{ value string }

	runtime := di.New()

	err := runtime.Invoke(func(i di.Injector) error {
		do.Provide(i, func(di.Injector) (*marker, error) {
			return &marker{value: "first"}, nil
		})

		_, resolveErr := do.Invoke[*marker](i)

		return resolveErr
	})
	require.NoError(t, err)

	// The second invocation must not see the first invocation's registration.
	err = runtime.Invoke(func(i di.Injector) error {
		_, resolveErr := do.Invoke[*marker](i)
		require.Error(t, resolveErr)

		return nil
	})
	require.NoError(t, err)
}

func TestNewRuntime_ResolvesDefaults(t *testing.T) {
	t.Parallel()

	runtime := di.NewRuntime()

	err := runtime.Invoke(func(injector di.Injector) error {
		tmr, resolveErr := di.ResolveTimer(injector)
		require.NoError(t, resolveErr)
		require.NotNil(t, tmr)

		factory, resolveErr := di.ResolveClusterProvisionerFactory(injector)
		require.NoError(t, resolveErr)
		require.NotNil(t, factory)

		return nil
	})

	require.NoError(t, err)
}

func TestResolveTimer_MissingRegistration(t *testing.T) {
	t.Parallel()

	err := di.New().Invoke(func(injector di.Injector) error {
		_, resolveErr := di.ResolveTimer(injector)

		return resolveErr
	})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "resolve timer dependency")
}

func TestWithTimer_PassesResolvedTimer(t *testing.T) {
	t.Parallel()

	var received timer.Timer

	handler := di.WithTimer(func(_ *cobra.Command, _ di.Injector, tmr timer.Timer) error {
		received = tmr

		return nil
	})

	err := di.NewRuntime().Invoke(func(injector di.Injector) error {
		return handler(&cobra.Command{Use: "test"}, injector)
	})

	require.NoError(t, err)
	assert.NotNil(t, received)
}

func TestRunEWithRuntime(t *testing.T) {
	t.Parallel()

	var receivedCmd *cobra.Command

	runE := di.RunEWithRuntime(di.New(), func(cmd *cobra.Command, _ di.Injector) error {
		receivedCmd = cmd

		return nil
	})

	testCmd := &cobra.Command{Use: "test"}

	require.NoError(t, runE(testCmd, nil))
	assert.Equal(t, testCmd, receivedCmd)
}
