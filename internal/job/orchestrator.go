// Package job defines the executor's domain types and the narrow
// Orchestrator interface runs are realised through.
package job

import "context"

// Orchestrator is the client side of an external container orchestrator.
//
// Errors are classified with apperrors.KindOf: a missing resource is
// KindNotFound, a failure that may clear up on its own is KindTransient,
// everything else is fatal. Callers branch on the kind only.
type Orchestrator interface {
	// Kind names the backend ("kubernetes", "docker").
	Kind() string

	// DescribeWorkload returns the first container of the referenced
	// workload template. Sidecars are ignored.
	DescribeWorkload(ctx context.Context, namespace, ref string) (*ContainerSpec, error)

	// CreateRun creates the run resource. It is not idempotent: a second
	// call with the same identity is a caller error.
	CreateRun(ctx context.Context, id RunIdentity, spec RunSpec, container ContainerSpec) error

	// RunStatus observes the run. A run the orchestrator has no record of
	// is reported as NotFound status, not as an error.
	RunStatus(ctx context.Context, id RunIdentity) (RunStatus, error)

	// FindRunUnit returns the first execution unit of the run, or nil if
	// none has been scheduled yet.
	FindRunUnit(ctx context.Context, id RunIdentity) (*UnitRef, error)

	// FetchOutput returns output lines produced in roughly the last
	// sinceSeconds. Successive calls with overlapping windows may repeat lines.
	FetchOutput(ctx context.Context, id RunIdentity, unit UnitRef, sinceSeconds int) (string, error)

	// Ready checks if the orchestrator backend is reachable.
	Ready(ctx context.Context) error

	// Close releases resources held by the client. Runs are never deleted;
	// their own TTL cleans them up.
	Close() error
}
