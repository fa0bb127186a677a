package app

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"motorbay/internal/realtime"
	"motorbay/pkg/domain"
	"motorbay/pkg/store"
)

type transitionKey struct {
	from  domain.RequestStatus
	event domain.TransitionEvent
}

type transitionRule struct {
	to             domain.RequestStatus
	role           domain.ActorRole
	requiresReason bool
}

// The workflow is a strict table lookup. Any (status, event) pair absent
// here is an invalid transition.
var transitions = map[transitionKey]transitionRule{
	{domain.StatusPending, domain.EventAccept}:      {to: domain.StatusAccepted, role: domain.RoleDealer},
	{domain.StatusPending, domain.EventReject}:      {to: domain.StatusRejected, role: domain.RoleDealer, requiresReason: true},
	{domain.StatusPending, domain.EventCancel}:      {to: domain.StatusCancelled, role: domain.RoleBuyer},
	{domain.StatusAccepted, domain.EventStart}:      {to: domain.StatusInProgress, role: domain.RoleDealer},
	{domain.StatusInProgress, domain.EventComplete}: {to: domain.StatusCompleted, role: domain.RoleDealer},
}

// eventRoles maps each event to the only role allowed to fire it, derived
// from the table above. A role violation reports Forbidden regardless of the
// request's current status.
var eventRoles = func() map[domain.TransitionEvent]domain.ActorRole {
	roles := make(map[domain.TransitionEvent]domain.ActorRole, len(transitions))
	for key, rule := range transitions {
		roles[key.event] = rule.role
	}
	return roles
}()

// TransitionPayload carries optional per-event data.
type TransitionPayload struct {
	Reason string `json:"reason,omitempty"`
}

// CreateRequest records a buyer's pending test-drive request and notifies
// the dealer's live connections.
func (a *App) CreateRequest(buyerID, dealerID, carID, requestedDate, requestedTime string) (domain.TestDriveRequest, error) {
	buyerID = strings.TrimSpace(buyerID)
	dealerID = strings.TrimSpace(dealerID)
	carID = strings.TrimSpace(carID)
	if buyerID == "" || dealerID == "" || carID == "" {
		return domain.TestDriveRequest{}, fmt.Errorf("%w: buyer, dealer and car required", ErrValidation)
	}
	if buyerID == dealerID {
		return domain.TestDriveRequest{}, fmt.Errorf("%w: buyer and dealer must differ", ErrValidation)
	}
	if strings.TrimSpace(requestedDate) == "" || strings.TrimSpace(requestedTime) == "" {
		return domain.TestDriveRequest{}, fmt.Errorf("%w: requested date and time required", ErrValidation)
	}

	now := time.Now().UTC()
	req := domain.TestDriveRequest{
		ID:            uuid.NewString(),
		CarID:         carID,
		BuyerID:       buyerID,
		DealerID:      dealerID,
		RequestedDate: strings.TrimSpace(requestedDate),
		RequestedTime: strings.TrimSpace(requestedTime),
		Status:        domain.StatusPending,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := a.store.InsertRequest(req); err != nil {
		return domain.TestDriveRequest{}, fmt.Errorf("insert request: %w", ErrStoreUnavailable)
	}

	a.dispatcher.Dispatch(dealerID, realtime.Event{Type: realtime.EventWorkflowCreated, Data: req})
	return req, nil
}

// Transition applies one workflow event to a request. The status change is a
// single compare-and-set on the current status; of two racing transitions
// exactly one succeeds and the loser gets ErrConflict. On success the
// counterpart's live connections receive a workflow.updated event.
func (a *App) Transition(requestID, actorID string, role domain.ActorRole, event domain.TransitionEvent, payload TransitionPayload) (domain.TestDriveRequest, error) {
	requestID = strings.TrimSpace(requestID)
	actorID = strings.TrimSpace(actorID)
	if requestID == "" || actorID == "" {
		return domain.TestDriveRequest{}, fmt.Errorf("%w: request and actor required", ErrValidation)
	}
	allowedRole, known := eventRoles[event]
	if !known {
		return domain.TestDriveRequest{}, fmt.Errorf("%w: unknown event %q", ErrValidation, event)
	}

	req, ok, err := a.store.GetRequest(requestID)
	if err != nil {
		return domain.TestDriveRequest{}, fmt.Errorf("load request: %w", ErrStoreUnavailable)
	}
	if !ok {
		return domain.TestDriveRequest{}, fmt.Errorf("request %s: %w", requestID, ErrNotFound)
	}

	// the actor must be the request's bound buyer or dealer for the claimed role
	switch role {
	case domain.RoleBuyer:
		if req.BuyerID != actorID {
			return domain.TestDriveRequest{}, fmt.Errorf("%w: actor is not the request's buyer", ErrForbidden)
		}
	case domain.RoleDealer:
		if req.DealerID != actorID {
			return domain.TestDriveRequest{}, fmt.Errorf("%w: actor is not the request's dealer", ErrForbidden)
		}
	default:
		return domain.TestDriveRequest{}, fmt.Errorf("%w: unknown role %q", ErrValidation, role)
	}
	if role != allowedRole {
		return domain.TestDriveRequest{}, fmt.Errorf("%w: only the %s may %s", ErrForbidden, allowedRole, event)
	}

	rule, legal := transitions[transitionKey{from: req.Status, event: event}]
	if !legal {
		return domain.TestDriveRequest{}, fmt.Errorf("%w: cannot %s a %s request", ErrInvalidState, event, req.Status)
	}
	reason := strings.TrimSpace(payload.Reason)
	if rule.requiresReason && reason == "" {
		return domain.TestDriveRequest{}, fmt.Errorf("%w: a reason is required to %s", ErrValidation, event)
	}

	extra := store.StatusExtra{}
	if rule.requiresReason {
		extra.RejectionReason = reason
	}
	won, err := a.store.CompareAndSetStatus(requestID, req.Status, rule.to, extra)
	if err != nil {
		return domain.TestDriveRequest{}, fmt.Errorf("update status: %w", ErrStoreUnavailable)
	}
	if !won {
		return domain.TestDriveRequest{}, fmt.Errorf("request %s changed concurrently: %w", requestID, ErrConflict)
	}

	req.Status = rule.to
	if rule.requiresReason {
		req.RejectionReason = reason
	}
	req.UpdatedAt = time.Now().UTC()

	a.dispatcher.Dispatch(req.Counterpart(actorID), realtime.Event{
		Type: realtime.EventWorkflowUpdated,
		Data: realtime.WorkflowUpdate{RequestID: req.ID, Status: string(req.Status)},
	})
	return req, nil
}

// PendingCount reports how many requests await a dealer's decision.
func (a *App) PendingCount(dealerID string) (int, error) {
	dealerID = strings.TrimSpace(dealerID)
	if dealerID == "" {
		return 0, fmt.Errorf("%w: dealer required", ErrValidation)
	}
	count, err := a.store.QueryPendingCountFor(dealerID)
	if err != nil {
		return 0, fmt.Errorf("pending count: %w", ErrStoreUnavailable)
	}
	return count, nil
}

// RequestsFor lists the requests a user participates in under the given role.
func (a *App) RequestsFor(userID string, role domain.ActorRole) ([]domain.TestDriveRequest, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, fmt.Errorf("%w: user required", ErrValidation)
	}
	if role != domain.RoleBuyer && role != domain.RoleDealer {
		return nil, fmt.Errorf("%w: unknown role %q", ErrValidation, role)
	}
	res, err := a.store.ListRequestsFor(userID, role)
	if err != nil {
		return nil, fmt.Errorf("list requests: %w", ErrStoreUnavailable)
	}
	return res, nil
}
