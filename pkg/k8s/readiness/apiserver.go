package readiness

import (
	"context"
	"time"

	"k8s.io/client-go/kubernetes"
)

// WaitForAPIServerReady polls the API server with ServerVersion requests until
// it responds. Used after cluster create/start when the API server may still
// be coming up.
func WaitForAPIServerReady(
	ctx context.Context,
	clientset kubernetes.Interface,
	deadline time.Duration,
) error {
	return PollForReadiness(ctx, deadline, func(_ context.Context) (bool, error) {
		_, err := clientset.Discovery().ServerVersion()
		if err != nil {
			// Continue polling until the API server responds.
			return false, nil //nolint:nilerr // returning nil to continue polling
		}

		return true, nil
	})
}
