package reconcile

import (
	"errors"
)

// Domain errors returned by the reconciliation engine. None of these are
// retried internally except the bounded optimistic-concurrency retry that
// precedes ErrReconcileConflict.
var (
	// ErrResolutionAmbiguous means two independent lookup keys matched two
	// different existing member records. The conflict is queued for an
	// operator and never merged silently.
	ErrResolutionAmbiguous = errors.New("resolution matched two different member records")

	// ErrReconcileConflict means the optimistic-concurrency retries were
	// exhausted. The whole event can safely be replayed later.
	ErrReconcileConflict = errors.New("reconcile conflict: retries exhausted")

	// ErrInvalidInviteState means an invitation that is completed or expired
	// was targeted by a non-idempotent operation.
	ErrInvalidInviteState = errors.New("invitation is completed or expired")

	// ErrMissingTenant means no tenant was resolvable through any waterfall
	// source. The member record is still created in a holding state and
	// flagged for operator follow-up.
	ErrMissingTenant = errors.New("no tenant resolvable for member")
)
