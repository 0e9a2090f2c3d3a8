// Package di wires the application's dependencies through a samber/do
// injector. Commands receive a Runtime and invoke handlers against a fresh
// injector per invocation.
package di

import (
	"github.com/samber/do/v2"
	"github.com/spf13/cobra"
)

// Injector aliases the samber/do injector so call sites stay decoupled from
// the library import path.
type Injector = do.Injector

// Module registers one or more dependencies with an injector.
type Module func(Injector) error

// Runtime holds the base modules shared by every command invocation.
type Runtime struct {
	modules []Module
}

// New constructs a Runtime from the given base modules. Nil modules are
// skipped.
func New(modules ...Module) *Runtime {
	return &Runtime{modules: modules}
}

// Invoke runs the handler against a fresh injector populated by the base
// modules followed by any extra modules. The injector is shut down when the
// handler returns, releasing any registered resources.
func (r *Runtime) Invoke(handler func(Injector) error, extras ...Module) error {
	injector := do.New()
	defer func() { _ = injector.Shutdown() }()

	for _, module := range r.modules {
		if module == nil {
			continue
		}

		err := module(injector)
		if err != nil {
			return err
		}
	}

	for _, module := range extras {
		if module == nil {
			continue
		}

		err := module(injector)
		if err != nil {
			return err
		}
	}

	return handler(injector)
}

// RunEWithRuntime adapts a handler taking an injector into a cobra RunE.
func RunEWithRuntime(
	runtime *Runtime,
	handler func(cmd *cobra.Command, injector Injector) error,
) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, _ []string) error {
		return runtime.Invoke(func(injector Injector) error {
			return handler(cmd, injector)
		})
	}
}
