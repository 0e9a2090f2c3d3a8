package cmd

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/cdp-platform/cdp-dev/pkg/svc/portforward"
	"github.com/cdp-platform/cdp-dev/pkg/svc/state"
	"github.com/cdp-platform/cdp-dev/pkg/utils/notify"
	"github.com/spf13/cobra"
)

// superviseTunnels runs the port-forward watch loop until the process is
// interrupted, persisting record changes as tunnels are restarted.
func superviseTunnels(cmd *cobra.Command, env *lifecycle) error {
	out := cmd.OutOrStdout()

	notify.Infof(out, "watching tunnels, press Ctrl-C to stop")

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	events := make(chan portforward.Event, 16)

	done := make(chan struct{})

	go func() {
		defer close(done)

		for event := range events {
			if event.Type == portforward.EventRestarted {
				persistTunnelRecords(env)
			}
		}
	}()

	env.forwarder.Supervise(ctx, events)
	close(events)
	<-done

	notify.Successf(out, "tunnel supervision stopped")

	return nil
}

// persistTunnelRecords commits the forwarder's current records. A concurrent
// lifecycle operation owns the lock and will persist them itself, so lock
// contention is not an error here.
func persistTunnelRecords(env *lifecycle) {
	_ = env.store.WithTransaction(context.Background(), func() error {
		environmentState, err := env.store.Load()
		if err != nil {
			if errors.Is(err, state.ErrStateCorrupt) {
				return nil
			}

			return err
		}

		environmentState.PortForwards = env.forwarder.Records()

		return env.store.Save(environmentState)
	})
}
