package portforward

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/exec"
	"strconv"
	"syscall"
	"time"

	v1alpha1 "github.com/cdp-platform/cdp-dev/pkg/apis/env/v1alpha1"
)

const (
	// startupDeadline bounds how long a freshly spawned tunnel may take to
	// accept connections on its local port.
	startupDeadline = 15 * time.Second
	// terminateGrace is how long a tunnel gets to exit after SIGTERM before
	// it is killed.
	terminateGrace = 5 * time.Second
	// dialTimeout bounds a single reachability probe.
	dialTimeout = 2 * time.Second
)

// spawnTunnel starts a kubectl port-forward child process for the service and
// waits until the local port accepts connections. The child is placed in its
// own process group so it survives the CLI exiting and is not hit by the
// terminal's Ctrl+C.
func spawnTunnel(
	ctx context.Context,
	environment *v1alpha1.Environment,
	service v1alpha1.ServiceDescriptor,
) (int, error) {
	args := []string{
		"port-forward",
		"--namespace", service.Namespace,
		"--context", environment.KubeContext(),
	}
	if environment.Connection.Kubeconfig != "" {
		args = append(args, "--kubeconfig", environment.Connection.Kubeconfig)
	}

	args = append(args,
		service.Target,
		fmt.Sprintf("%d:%d", service.LocalPort, service.RemotePort),
	)

	// Deliberately no CommandContext: the tunnel must outlive this CLI
	// invocation, so it is detached instead of tied to the context.
	cmd := exec.Command("kubectl", args...)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	// Output cannot go to our pipes either; failures are detected through
	// the port probe instead.
	cmd.Stdout = nil
	cmd.Stderr = nil

	err := cmd.Start()
	if err != nil {
		return 0, fmt.Errorf("start kubectl port-forward for %q: %w", service.Name, err)
	}

	pid := cmd.Process.Pid

	// Release the child so it is not reaped through this process.
	releaseErr := cmd.Process.Release()
	if releaseErr != nil {
		return 0, fmt.Errorf("release tunnel process for %q: %w", service.Name, releaseErr)
	}

	err = waitForLocalPort(ctx, service.LocalPort)
	if err != nil {
		terminateProcess(pid)

		return 0, fmt.Errorf("%w: service %q on port %d", ErrStartupTimeout, service.Name, service.LocalPort)
	}

	return pid, nil
}

// waitForLocalPort dials the local port until it accepts a connection or the
// startup deadline passes.
func waitForLocalPort(ctx context.Context, port int32) error {
	deadline := time.Now().Add(startupDeadline)

	for time.Now().Before(deadline) {
		if ctx.Err() != nil {
			return fmt.Errorf("tunnel startup cancelled: %w", ctx.Err())
		}

		if portReachable(port) {
			return nil
		}

		time.Sleep(200 * time.Millisecond)
	}

	return ErrStartupTimeout
}

// portFree binds the local port to prove no other process holds it, then
// releases it again. The window between the check and the tunnel binding is
// accepted; kubectl fails loudly if it loses the race.
func portFree(port int32) bool {
	listener, err := net.Listen("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(int(port))))
	if err != nil {
		return false
	}

	_ = listener.Close()

	return true
}

// portReachable dials the local port.
func portReachable(port int32) bool {
	conn, err := net.DialTimeout(
		"tcp",
		net.JoinHostPort("127.0.0.1", strconv.Itoa(int(port))),
		dialTimeout,
	)
	if err != nil {
		return false
	}

	_ = conn.Close()

	return true
}

// processAlive reports whether a process with the given PID exists.
func processAlive(pid int) bool {
	if pid <= 0 {
		return false
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}

	return process.Signal(syscall.Signal(0)) == nil
}

// terminateProcess sends SIGTERM and escalates to SIGKILL after the grace
// period. Missing processes are fine.
func terminateProcess(pid int) {
	if pid <= 0 {
		return
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		return
	}

	_ = process.Signal(syscall.SIGTERM)

	deadline := time.Now().Add(terminateGrace)
	for time.Now().Before(deadline) {
		if !processAlive(pid) {
			return
		}

		time.Sleep(100 * time.Millisecond)
	}

	_ = process.Kill()
}
