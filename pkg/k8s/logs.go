package k8s

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"

	"golang.org/x/sync/errgroup"
)

// ErrNoPodsMatched is returned when a log selector matches no pods.
var ErrNoPodsMatched = errors.New("no pods matched the selector")

// LogOptions controls pod log streaming.
type LogOptions struct {
	// Namespace to list pods in.
	Namespace string
	// LabelSelector selects the pods to stream from.
	LabelSelector string
	// Follow keeps the streams open until the context is cancelled.
	Follow bool
	// TailLines limits how many trailing lines are fetched per pod.
	TailLines int64
}

// StreamPodLogs streams the logs of all pods matching the selector to out,
// prefixing each line with the pod name. With Follow set it blocks until the
// context is cancelled; otherwise it returns once all streams are drained.
func StreamPodLogs(
	ctx context.Context,
	clientset kubernetes.Interface,
	opts LogOptions,
	out io.Writer,
) error {
	pods, err := clientset.CoreV1().Pods(opts.Namespace).List(ctx, metav1.ListOptions{
		LabelSelector: opts.LabelSelector,
	})
	if err != nil {
		return fmt.Errorf("list pods: %w", err)
	}

	if len(pods.Items) == 0 {
		return fmt.Errorf("%w: %s", ErrNoPodsMatched, opts.LabelSelector)
	}

	var writeMu sync.Mutex

	group, groupCtx := errgroup.WithContext(ctx)

	for i := range pods.Items {
		pod := pods.Items[i]

		group.Go(func() error {
			return streamSinglePod(groupCtx, clientset, pod, opts, out, &writeMu)
		})
	}

	err = group.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	return nil
}

func streamSinglePod(
	ctx context.Context,
	clientset kubernetes.Interface,
	pod corev1.Pod,
	opts LogOptions,
	out io.Writer,
	writeMu *sync.Mutex,
) error {
	logOptions := &corev1.PodLogOptions{Follow: opts.Follow}
	if opts.TailLines > 0 {
		tail := opts.TailLines
		logOptions.TailLines = &tail
	}

	request := clientset.CoreV1().Pods(pod.Namespace).GetLogs(pod.Name, logOptions)

	stream, err := request.Stream(ctx)
	if err != nil {
		return fmt.Errorf("open log stream for pod %q: %w", pod.Name, err)
	}
	defer func() { _ = stream.Close() }()

	scanner := bufio.NewScanner(stream)
	// Airflow task logs can produce long lines.
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		writeMu.Lock()
		_, writeErr := fmt.Fprintf(out, "[%s] %s\n", pod.Name, scanner.Text())
		writeMu.Unlock()

		if writeErr != nil {
			return fmt.Errorf("write log line: %w", writeErr)
		}
	}

	scanErr := scanner.Err()
	if scanErr != nil && !errors.Is(scanErr, context.Canceled) {
		return fmt.Errorf("read log stream for pod %q: %w", pod.Name, scanErr)
	}

	return nil
}
