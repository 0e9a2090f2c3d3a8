// Package portforward manages kubectl port-forward child processes: one
// tunnel per configured service, tracked by PID, health-checked and restarted
// with capped exponential backoff by the supervisor loop.
package portforward

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	v1alpha1 "github.com/cdp-platform/cdp-dev/pkg/apis/env/v1alpha1"
	"github.com/sirupsen/logrus"
)

// TunnelHealth is a point-in-time view of one tunnel.
type TunnelHealth struct {
	// Service is the service descriptor name.
	Service string
	// PID is the tracked child process, zero when no tunnel is tracked.
	PID int
	// Alive reports whether the child process exists.
	Alive bool
	// Reachable reports whether the local port accepts connections.
	Reachable bool
	// LocalPort is the tunnel's local port.
	LocalPort int32
}

// Up reports whether the tunnel is fully serving.
func (h TunnelHealth) Up() bool {
	return h.Alive && h.Reachable
}

// Forwarder owns the tunnels for an environment.
type Forwarder struct {
	environment *v1alpha1.Environment
	log         *logrus.Logger

	mu      sync.Mutex
	records map[string]v1alpha1.PortForwardRecord

	// spawn is swappable for tests.
	spawn func(ctx context.Context, environment *v1alpha1.Environment, service v1alpha1.ServiceDescriptor) (int, error)
	// terminate is swappable for tests.
	terminate func(pid int)
	// alive is swappable for tests.
	alive func(pid int) bool
	// free is swappable for tests.
	free func(port int32) bool
	// reachable is swappable for tests.
	reachable func(port int32) bool
	// httpCheck is swappable for tests.
	httpCheck func(service v1alpha1.ServiceDescriptor) bool
}

// NewForwarder creates a Forwarder seeded with the tunnel records persisted
// by a previous invocation.
func NewForwarder(
	environment *v1alpha1.Environment,
	existing map[string]v1alpha1.PortForwardRecord,
	log *logrus.Logger,
) *Forwarder {
	if log == nil {
		log = logrus.New()
	}

	records := make(map[string]v1alpha1.PortForwardRecord, len(existing))
	for name, record := range existing {
		records[name] = record
	}

	return &Forwarder{
		environment: environment,
		log:         log,
		records:     records,
		spawn:       spawnTunnel,
		terminate:   terminateProcess,
		alive:       processAlive,
		free:        portFree,
		reachable:   portReachable,
		httpCheck:   httpHealthy,
	}
}

// Records returns a snapshot of the tracked tunnels for persistence.
func (f *Forwarder) Records() map[string]v1alpha1.PortForwardRecord {
	f.mu.Lock()
	defer f.mu.Unlock()

	snapshot := make(map[string]v1alpha1.PortForwardRecord, len(f.records))
	for name, record := range f.records {
		snapshot[name] = record
	}

	return snapshot
}

// StartAll converges every configured service to an Up tunnel. Services whose
// recorded process is alive and reachable are skipped. A local port held by a
// foreign process fails the service with PortInUseError; it is not retried.
func (f *Forwarder) StartAll(ctx context.Context) (map[string]v1alpha1.PortForwardRecord, error) {
	for _, service := range f.environment.Services {
		err := f.startService(ctx, service)
		if err != nil {
			return f.Records(), err
		}
	}

	return f.Records(), nil
}

// StartService converges a single service's tunnel.
func (f *Forwarder) StartService(ctx context.Context, name string) error {
	service, ok := f.environment.Service(name)
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownService, name)
	}

	return f.startService(ctx, service)
}

func (f *Forwarder) startService(ctx context.Context, service v1alpha1.ServiceDescriptor) error {
	f.mu.Lock()
	record, tracked := f.records[service.Name]
	f.mu.Unlock()

	if tracked && f.alive(record.PID) && f.reachable(record.LocalPort) {
		if service.HealthPath == "" || f.httpCheck(service) {
			return nil
		}
	}

	if tracked {
		// A stale record: make sure the old process is gone before respawning.
		f.terminate(record.PID)
		f.dropRecord(service.Name)
	}

	if !f.free(service.LocalPort) {
		return &PortInUseError{Port: service.LocalPort, Service: service.Name}
	}

	pid, err := f.spawn(ctx, f.environment, service)
	if err != nil {
		return err
	}

	f.mu.Lock()
	f.records[service.Name] = v1alpha1.PortForwardRecord{
		Service:   service.Name,
		PID:       pid,
		LocalPort: service.LocalPort,
		StartedAt: time.Now().UTC(),
	}
	f.mu.Unlock()

	f.log.WithFields(logrus.Fields{
		"service": service.Name,
		"pid":     pid,
		"port":    service.LocalPort,
	}).Info("tunnel started")

	return nil
}

// StopAll terminates every tracked tunnel and clears the records. Missing
// processes are fine; partial failures are collected rather than aborting.
func (f *Forwarder) StopAll(_ context.Context) error {
	f.mu.Lock()
	records := f.records
	f.records = map[string]v1alpha1.PortForwardRecord{}
	f.mu.Unlock()

	for name, record := range records {
		f.terminate(record.PID)
		f.log.WithFields(logrus.Fields{
			"service": name,
			"pid":     record.PID,
		}).Info("tunnel stopped")
	}

	return nil
}

// Health probes every configured service's tunnel.
func (f *Forwarder) Health() []TunnelHealth {
	f.mu.Lock()
	records := make(map[string]v1alpha1.PortForwardRecord, len(f.records))
	for name, record := range f.records {
		records[name] = record
	}
	f.mu.Unlock()

	health := make([]TunnelHealth, 0, len(f.environment.Services))

	for _, service := range f.environment.Services {
		entry := TunnelHealth{Service: service.Name, LocalPort: service.LocalPort}

		if record, ok := records[service.Name]; ok {
			entry.PID = record.PID
			entry.Alive = f.alive(record.PID)
		}

		entry.Reachable = f.reachable(service.LocalPort)

		// Services declaring a health path must also answer HTTP; an open
		// port with a wedged webserver behind it is not a healthy tunnel.
		if entry.Reachable && service.HealthPath != "" {
			entry.Reachable = f.httpCheck(service)
		}

		health = append(health, entry)
	}

	return health
}

func (f *Forwarder) dropRecord(name string) {
	f.mu.Lock()
	delete(f.records, name)
	f.mu.Unlock()
}

// httpHealthy performs the optional HTTP health probe for a service that
// declares a health path. Any response below 500 counts as healthy.
func httpHealthy(service v1alpha1.ServiceDescriptor) bool {
	if service.HealthPath == "" {
		return false
	}

	path := service.HealthPath
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}

	client := &http.Client{Timeout: 3 * time.Second}

	resp, err := client.Get(
		"http://127.0.0.1:" + strconv.Itoa(int(service.LocalPort)) + path,
	)
	if err != nil {
		return false
	}

	defer func() { _ = resp.Body.Close() }()

	return resp.StatusCode < http.StatusInternalServerError
}
