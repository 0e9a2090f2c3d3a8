// Package clustererr provides the sentinel errors shared by cluster
// provisioner implementations, enabling consistent error handling in the
// orchestrator and command handlers.
package clustererr

import "errors"

var (
	// ErrClusterNotFound is returned when an operation targets a non-existent cluster.
	ErrClusterNotFound = errors.New("cluster not found")

	// ErrProviderNotSet is returned when a provisioner has no infrastructure provider.
	ErrProviderNotSet = errors.New("infrastructure provider not set")

	// ErrCreateFailed is returned when cluster creation fails.
	ErrCreateFailed = errors.New("cluster creation failed")

	// ErrStartFailed is returned when starting the cluster's nodes fails.
	ErrStartFailed = errors.New("cluster start failed")

	// ErrStopFailed is returned when stopping the cluster's nodes fails.
	ErrStopFailed = errors.New("cluster stop failed")

	// ErrDeleteFailed is returned when cluster deletion fails.
	ErrDeleteFailed = errors.New("cluster deletion failed")
)
