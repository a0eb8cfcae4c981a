package docker

import (
	"context"
	"errors"
	"jobexecutor/internal/apperrors"

	cerrdefs "github.com/containerd/errdefs"
	"github.com/docker/docker/client"
)

// classify maps a Docker API error onto the executor's error kinds.
func classify(op, resource, name string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	case cerrdefs.IsNotFound(err):
		return apperrors.NotFound(resource, name)
	case cerrdefs.IsConflict(err):
		return apperrors.Conflict(resource, name, err.Error())
	case cerrdefs.IsUnavailable(err), cerrdefs.IsDeadlineExceeded(err), client.IsErrConnectionFailed(err):
		return apperrors.Transient(op, err)
	case cerrdefs.IsInternal(err), cerrdefs.IsUnknown(err):
		// Daemon-side 5xx; worth another attempt.
		return apperrors.Transient(op, err)
	default:
		return apperrors.Internal(op, err)
	}
}
