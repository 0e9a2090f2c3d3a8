package portforward

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
)

// EventType classifies supervisor events.
type EventType string

const (
	// EventDown means a tunnel was found dead or unreachable.
	EventDown EventType = "down"
	// EventRestarted means a tunnel was respawned.
	EventRestarted EventType = "restarted"
	// EventRestartFailed means a respawn attempt failed; another follows
	// after backoff.
	EventRestartFailed EventType = "restart-failed"
)

// Event describes one supervisor observation, reported on the events channel
// so the caller can persist record changes or surface them to the user.
type Event struct {
	Type    EventType
	Service string
	PID     int
	Err     error
}

// backoffState tracks the capped exponential restart backoff for one tunnel.
// The delay doubles on every failed or immediately re-failed restart and
// resets to the base after the tunnel holds Up across a full health interval.
type backoffState struct {
	delay       time.Duration
	nextAttempt time.Time
	recovering  bool
}

// Supervise watches every tunnel until the context is cancelled: dead or
// unreachable tunnels are respawned with capped exponential backoff. Failures
// never propagate out; they are logged and reported as events. A nil events
// channel is valid.
func (f *Forwarder) Supervise(ctx context.Context, events chan<- Event) {
	interval := f.environment.Supervisor.HealthInterval
	if interval <= 0 {
		interval = 5 * time.Second
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	backoffs := make(map[string]*backoffState, len(f.environment.Services))
	for _, service := range f.environment.Services {
		backoffs[service.Name] = &backoffState{delay: f.backoffBase()}
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		for _, health := range f.Health() {
			state := backoffs[health.Service]

			if health.Up() {
				// A full interval of Up means the tunnel recovered; the
				// next incident starts from the base delay again.
				if state.recovering {
					state.recovering = false
					state.delay = f.backoffBase()
				}

				continue
			}

			f.log.WithFields(logrus.Fields{
				"service":   health.Service,
				"pid":       health.PID,
				"alive":     health.Alive,
				"reachable": health.Reachable,
			}).Warn("tunnel down")

			emit(events, Event{Type: EventDown, Service: health.Service, PID: health.PID})

			if time.Now().Before(state.nextAttempt) {
				continue
			}

			err := f.StartService(ctx, health.Service)

			state.recovering = true
			state.nextAttempt = time.Now().Add(state.delay)
			state.delay = f.nextDelay(state.delay)

			if err != nil {
				f.log.WithError(err).WithField("service", health.Service).
					Error("tunnel restart failed")
				emit(events, Event{Type: EventRestartFailed, Service: health.Service, Err: err})

				continue
			}

			record := f.Records()[health.Service]

			f.log.WithFields(logrus.Fields{
				"service": health.Service,
				"pid":     record.PID,
			}).Info("tunnel restarted")

			emit(events, Event{Type: EventRestarted, Service: health.Service, PID: record.PID})
		}
	}
}

func (f *Forwarder) backoffBase() time.Duration {
	base := f.environment.Supervisor.BackoffBase
	if base <= 0 {
		base = time.Second
	}

	return base
}

func (f *Forwarder) nextDelay(current time.Duration) time.Duration {
	ceiling := f.environment.Supervisor.BackoffCeiling
	if ceiling <= 0 {
		ceiling = 30 * time.Second
	}

	next := current * 2
	if next > ceiling {
		next = ceiling
	}

	return next
}

func emit(events chan<- Event, event Event) {
	if events == nil {
		return
	}

	select {
	case events <- event:
	default:
		// A slow consumer must not stall the watch loop.
	}
}
