package readiness_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/cdp-platform/cdp-dev/pkg/k8s/readiness"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	appsv1 "k8s.io/api/apps/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes/fake"
	"k8s.io/utils/ptr"
)

const testNamespace = "airflow"

var errCheckBoom = errors.New("check boom")

func TestPollForReadiness_ImmediateSuccess(t *testing.T) {
	t.Parallel()

	calls := 0

	err := readiness.PollForReadiness(
		context.Background(),
		time.Minute,
		func(context.Context) (bool, error) {
			calls++

			return true, nil
		},
	)

	require.NoError(t, err)
	assert.Equal(t, 1, calls, "a ready resource needs no second check")
}

func TestPollForReadiness_CheckErrorAborts(t *testing.T) {
	t.Parallel()

	err := readiness.PollForReadiness(
		context.Background(),
		time.Minute,
		func(context.Context) (bool, error) {
			return false, errCheckBoom
		},
	)

	require.ErrorIs(t, err, errCheckBoom)
}

func TestPollForReadiness_DeadlineExceeded(t *testing.T) {
	t.Parallel()

	err := readiness.PollForReadiness(
		context.Background(),
		10*time.Millisecond,
		func(context.Context) (bool, error) {
			return false, nil
		},
	)

	require.ErrorIs(t, err, readiness.ErrTimeoutExceeded)
}

func TestPollForReadiness_CancelledContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := readiness.PollForReadiness(ctx, time.Minute, func(context.Context) (bool, error) {
		return false, nil
	})

	require.Error(t, err)
	assert.NotErrorIs(t, err, readiness.ErrTimeoutExceeded)
}

func TestWaitForAPIServerReady_Responds(t *testing.T) {
	t.Parallel()

	err := readiness.WaitForAPIServerReady(context.Background(), fake.NewClientset(), time.Second)

	require.NoError(t, err)
}

func deployment(name string, desired, ready int32, generationLag bool) *appsv1.Deployment {
	dep := &appsv1.Deployment{
		ObjectMeta: metav1.ObjectMeta{
			Name:       name,
			Namespace:  testNamespace,
			Generation: 2,
		},
		Spec: appsv1.DeploymentSpec{Replicas: ptr.To(desired)},
		Status: appsv1.DeploymentStatus{
			ObservedGeneration: 2,
			ReadyReplicas:      ready,
		},
	}

	if generationLag {
		dep.Status.ObservedGeneration = 1
	}

	return dep
}

func TestWaitForDeploymentReady(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		deployment *appsv1.Deployment
		wantErr    error
	}{
		{"all replicas ready", deployment("webserver", 2, 2, false), nil},
		{"replicas missing", deployment("webserver", 2, 1, false), readiness.ErrTimeoutExceeded},
		{"stale generation", deployment("webserver", 1, 1, true), readiness.ErrTimeoutExceeded},
		{"deployment absent", nil, readiness.ErrTimeoutExceeded},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			clientset := fake.NewClientset()
			if tc.deployment != nil {
				clientset = fake.NewClientset(tc.deployment)
			}

			err := readiness.WaitForDeploymentReady(
				context.Background(),
				clientset,
				testNamespace,
				"webserver",
				20*time.Millisecond,
			)

			if tc.wantErr == nil {
				require.NoError(t, err)
			} else {
				require.ErrorIs(t, err, tc.wantErr)
			}
		})
	}
}

func TestWaitForStatefulSetReady(t *testing.T) {
	t.Parallel()

	ready := &appsv1.StatefulSet{
		ObjectMeta: metav1.ObjectMeta{
			Name:       "postgresql",
			Namespace:  testNamespace,
			Generation: 1,
		},
		Spec: appsv1.StatefulSetSpec{Replicas: ptr.To(int32(1))},
		Status: appsv1.StatefulSetStatus{
			ObservedGeneration: 1,
			ReadyReplicas:      1,
		},
	}

	clientset := fake.NewClientset(ready)

	err := readiness.WaitForStatefulSetReady(
		context.Background(),
		clientset,
		testNamespace,
		"postgresql",
		time.Second,
	)

	require.NoError(t, err)
}

func TestWaitForStatefulSetReady_NotReady(t *testing.T) {
	t.Parallel()

	notReady := &appsv1.StatefulSet{
		ObjectMeta: metav1.ObjectMeta{
			Name:       "postgresql",
			Namespace:  testNamespace,
			Generation: 1,
		},
		Spec: appsv1.StatefulSetSpec{Replicas: ptr.To(int32(1))},
		Status: appsv1.StatefulSetStatus{
			ObservedGeneration: 1,
			ReadyReplicas:      0,
		},
	}

	err := readiness.WaitForStatefulSetReady(
		context.Background(),
		fake.NewClientset(notReady),
		testNamespace,
		"postgresql",
		20*time.Millisecond,
	)

	require.ErrorIs(t, err, readiness.ErrTimeoutExceeded)
}
