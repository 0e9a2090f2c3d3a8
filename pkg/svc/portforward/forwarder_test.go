package portforward

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	v1alpha1 "github.com/cdp-platform/cdp-dev/pkg/apis/env/v1alpha1"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errSpawnBoom = errors.New("spawn boom")

// testHarness wires a Forwarder with controllable process and port probes.
type testHarness struct {
	forwarder *Forwarder

	mu         sync.Mutex
	nextPID    int
	spawned    []string
	terminated []int
	alivePIDs  map[int]bool
	busyPorts  map[int32]bool
	upPorts    map[int32]bool
	pidPorts   map[int]int32
	httpDown   map[string]bool
	spawnErr   error
}

func newTestHarness(services ...v1alpha1.ServiceDescriptor) *testHarness {
	environment := v1alpha1.NewEnvironment()
	if len(services) > 0 {
		environment.Services = services
	}

	environment.Supervisor.HealthInterval = 10 * time.Millisecond
	environment.Supervisor.BackoffBase = time.Millisecond
	environment.Supervisor.BackoffCeiling = 4 * time.Millisecond

	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)

	h := &testHarness{
		nextPID:   1000,
		alivePIDs: map[int]bool{},
		busyPorts: map[int32]bool{},
		upPorts:   map[int32]bool{},
		pidPorts:  map[int]int32{},
		httpDown:  map[string]bool{},
	}

	h.forwarder = NewForwarder(environment, nil, log)
	h.forwarder.spawn = h.spawn
	h.forwarder.terminate = h.terminate
	h.forwarder.alive = h.alive
	h.forwarder.free = h.free
	h.forwarder.reachable = h.reachable
	h.forwarder.httpCheck = h.httpCheck

	return h
}

func (h *testHarness) spawn(
	_ context.Context,
	_ *v1alpha1.Environment,
	service v1alpha1.ServiceDescriptor,
) (int, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.spawnErr != nil {
		return 0, h.spawnErr
	}

	h.nextPID++
	h.spawned = append(h.spawned, service.Name)
	h.alivePIDs[h.nextPID] = true
	h.upPorts[service.LocalPort] = true
	h.pidPorts[h.nextPID] = service.LocalPort

	return h.nextPID, nil
}

func (h *testHarness) terminate(pid int) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.terminated = append(h.terminated, pid)
	delete(h.alivePIDs, pid)

	if port, ok := h.pidPorts[pid]; ok {
		delete(h.upPorts, port)
		delete(h.pidPorts, pid)
	}
}

func (h *testHarness) alive(pid int) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	return h.alivePIDs[pid]
}

func (h *testHarness) free(port int32) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	return !h.busyPorts[port] && !h.upPorts[port]
}

func (h *testHarness) reachable(port int32) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	return h.upPorts[port]
}

func (h *testHarness) httpCheck(service v1alpha1.ServiceDescriptor) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	return !h.httpDown[service.Name]
}

func (h *testHarness) killTunnel(service string, port int32) {
	record := h.forwarder.Records()[service]

	h.mu.Lock()
	defer h.mu.Unlock()

	delete(h.alivePIDs, record.PID)
	delete(h.upPorts, port)
}

func (h *testHarness) spawnCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()

	return len(h.spawned)
}

func TestStartAll_SpawnsEveryService(t *testing.T) {
	t.Parallel()

	h := newTestHarness(
		v1alpha1.ServiceDescriptor{Name: "webserver", LocalPort: 8080, RemotePort: 8080},
		v1alpha1.ServiceDescriptor{Name: "flower", LocalPort: 5555, RemotePort: 5555},
	)

	records, err := h.forwarder.StartAll(context.Background())

	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.ElementsMatch(t, []string{"webserver", "flower"}, h.spawned)
	assert.NotZero(t, records["webserver"].PID)
	assert.Equal(t, int32(8080), records["webserver"].LocalPort)
}

func TestStartAll_SkipsHealthyTunnels(t *testing.T) {
	t.Parallel()

	h := newTestHarness()

	_, err := h.forwarder.StartAll(context.Background())
	require.NoError(t, err)

	_, err = h.forwarder.StartAll(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, h.spawnCount(), "healthy tunnel must not be respawned")
}

func TestStartAll_ReplacesStaleRecord(t *testing.T) {
	t.Parallel()

	h := newTestHarness()

	_, err := h.forwarder.StartAll(context.Background())
	require.NoError(t, err)

	stalePID := h.forwarder.Records()["webserver"].PID
	h.killTunnel("webserver", 8080)

	records, err := h.forwarder.StartAll(context.Background())

	require.NoError(t, err)
	assert.Contains(t, h.terminated, stalePID)
	assert.NotEqual(t, stalePID, records["webserver"].PID)
}

func TestStartAll_ForeignPortHolderFails(t *testing.T) {
	t.Parallel()

	h := newTestHarness()
	h.busyPorts[8080] = true

	_, err := h.forwarder.StartAll(context.Background())

	var portErr *PortInUseError

	require.ErrorAs(t, err, &portErr)
	assert.Equal(t, int32(8080), portErr.Port)
	assert.Equal(t, "webserver", portErr.Service)
	assert.Equal(t, 0, h.spawnCount())
}

func TestStopAll_TerminatesAndClears(t *testing.T) {
	t.Parallel()

	h := newTestHarness()

	_, err := h.forwarder.StartAll(context.Background())
	require.NoError(t, err)

	pid := h.forwarder.Records()["webserver"].PID

	require.NoError(t, h.forwarder.StopAll(context.Background()))

	assert.Contains(t, h.terminated, pid)
	assert.Empty(t, h.forwarder.Records())
}

func TestStartService_UnknownService(t *testing.T) {
	t.Parallel()

	h := newTestHarness()

	err := h.forwarder.StartService(context.Background(), "nonexistent")

	require.ErrorIs(t, err, ErrUnknownService)
}

func TestHealth_ReflectsTunnelCondition(t *testing.T) {
	t.Parallel()

	h := newTestHarness()

	health := h.forwarder.Health()
	require.Len(t, health, 1)
	assert.False(t, health[0].Up(), "no tunnel yet")

	_, err := h.forwarder.StartAll(context.Background())
	require.NoError(t, err)

	health = h.forwarder.Health()
	require.Len(t, health, 1)
	assert.True(t, health[0].Up())

	h.killTunnel("webserver", 8080)

	health = h.forwarder.Health()
	assert.False(t, health[0].Up())
}

func TestHealth_HTTPProbeGatesReachability(t *testing.T) {
	t.Parallel()

	// The default webserver service declares a health path; an open port
	// with a failing health endpoint must not count as up.
	h := newTestHarness()

	_, err := h.forwarder.StartAll(context.Background())
	require.NoError(t, err)

	require.True(t, h.forwarder.Health()[0].Up())

	h.mu.Lock()
	h.httpDown["webserver"] = true
	h.mu.Unlock()

	health := h.forwarder.Health()
	assert.True(t, health[0].Alive, "process still runs")
	assert.False(t, health[0].Up(), "failed health endpoint takes the tunnel down")
}

func TestStartAll_ReplacesHTTPWedgedTunnel(t *testing.T) {
	t.Parallel()

	h := newTestHarness()

	_, err := h.forwarder.StartAll(context.Background())
	require.NoError(t, err)

	wedgedPID := h.forwarder.Records()["webserver"].PID

	h.mu.Lock()
	h.httpDown["webserver"] = true
	h.mu.Unlock()

	records, err := h.forwarder.StartAll(context.Background())

	require.NoError(t, err)
	assert.Contains(t, h.terminated, wedgedPID)
	assert.NotEqual(t, wedgedPID, records["webserver"].PID)
}

func TestNextDelay_DoublesAndCaps(t *testing.T) {
	t.Parallel()

	environment := v1alpha1.NewEnvironment()
	environment.Supervisor.BackoffBase = time.Second
	environment.Supervisor.BackoffCeiling = 30 * time.Second

	forwarder := NewForwarder(environment, nil, nil)

	delay := forwarder.backoffBase()
	observed := []time.Duration{delay}

	for range 7 {
		delay = forwarder.nextDelay(delay)
		observed = append(observed, delay)
	}

	assert.Equal(t, []time.Duration{
		1 * time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second,
		16 * time.Second, 30 * time.Second, 30 * time.Second, 30 * time.Second,
	}, observed)
}

func TestSupervise_RestartsDeadTunnel(t *testing.T) {
	t.Parallel()

	h := newTestHarness()

	_, err := h.forwarder.StartAll(context.Background())
	require.NoError(t, err)

	h.killTunnel("webserver", 8080)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	events := make(chan Event, 64)

	go h.forwarder.Supervise(ctx, events)

	deadline := time.After(2 * time.Second)

	var sawDown, sawRestarted bool

	for !(sawDown && sawRestarted) {
		select {
		case event := <-events:
			switch event.Type {
			case EventDown:
				sawDown = true
			case EventRestarted:
				sawRestarted = true
			case EventRestartFailed:
			}
		case <-deadline:
			t.Fatalf("supervisor did not restart the tunnel (down=%v restarted=%v)",
				sawDown, sawRestarted)
		}
	}

	cancel()

	assert.GreaterOrEqual(t, h.spawnCount(), 2, "tunnel respawned after death")
}
