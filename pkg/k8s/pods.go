package k8s

import (
	"context"
	"fmt"

	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
)

// PodSummary is a condensed per-pod view used by status reporting.
type PodSummary struct {
	Name            string
	Phase           string
	ReadyContainers int
	TotalContainers int
	Restarts        int32
}

// Ready reports whether every container in the pod is ready.
func (p PodSummary) Ready() bool {
	return p.TotalContainers > 0 && p.ReadyContainers == p.TotalContainers
}

// ListPodSummaries returns condensed summaries for all pods in the namespace.
func ListPodSummaries(
	ctx context.Context,
	clientset kubernetes.Interface,
	namespace string,
) ([]PodSummary, error) {
	pods, err := clientset.CoreV1().Pods(namespace).List(ctx, metav1.ListOptions{})
	if err != nil {
		return nil, fmt.Errorf("list pods: %w", err)
	}

	summaries := make([]PodSummary, 0, len(pods.Items))
	for i := range pods.Items {
		summaries = append(summaries, summarizePod(&pods.Items[i]))
	}

	return summaries, nil
}

func summarizePod(pod *corev1.Pod) PodSummary {
	summary := PodSummary{
		Name:            pod.Name,
		Phase:           string(pod.Status.Phase),
		TotalContainers: len(pod.Spec.Containers),
	}

	for _, status := range pod.Status.ContainerStatuses {
		if status.Ready {
			summary.ReadyContainers++
		}

		summary.Restarts += status.RestartCount
	}

	return summary
}
