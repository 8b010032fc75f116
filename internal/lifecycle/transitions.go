package lifecycle

import (
	apierrors "sankeyhub/internal/errors"
	"sankeyhub/pkg/contracts/domain"
)

// transitions is the complete status machine. Initial status is Pending;
// Expired, Revoked, Rejected and Cancelled are terminal. Anything absent
// from this table is an invalid transition.
var transitions = map[domain.ApplicationStatus]map[domain.LifecycleEvent]domain.ApplicationStatus{
	domain.StatusPending: {
		domain.EventApprove: domain.StatusAwaitingNotification,
		domain.EventReject:  domain.StatusRejected,
	},
	domain.StatusAwaitingNotification: {
		domain.EventCancel:           domain.StatusCancelled,
		domain.EventNotificationSent: domain.StatusActive,
	},
	domain.StatusActive: {
		domain.EventRevoke: domain.StatusRevoked,
		domain.EventExpire: domain.StatusExpired,
	},
}

// Next computes the status reached by applying ev to current. It returns an
// InvalidTransitionError carrying the entity ref, the attempted event and
// the current status when the pair is not in the table, which covers every
// event attempted from a terminal status.
func Next(ref domain.ApplicationRef, current domain.ApplicationStatus, ev domain.LifecycleEvent) (domain.ApplicationStatus, error) {
	if next, ok := transitions[current][ev]; ok {
		return next, nil
	}
	return "", apierrors.NewInvalidTransition(ref.String(), string(ev), string(current))
}

// Allowed reports whether ev is admitted from current.
func Allowed(current domain.ApplicationStatus, ev domain.LifecycleEvent) bool {
	_, ok := transitions[current][ev]
	return ok
}
