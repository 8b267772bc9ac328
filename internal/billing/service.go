// Package billing exposes the organization's subscription to its owner.
package billing

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/haven-crm/haven/internal/action"
	"github.com/haven-crm/haven/internal/rbac"
	"github.com/haven-crm/haven/internal/tenant"
)

// Overview summarises the subscription and seat usage.
type Overview struct {
	Plan              string     `json:"plan"`
	Status            string     `json:"status"`
	Seats             int        `json:"seats"`
	SeatsUsed         int        `json:"seatsUsed"`
	SeatsAvailable    int        `json:"seatsAvailable"`
	CurrentPeriodEnd  *time.Time `json:"currentPeriodEnd,omitempty"`
	CancelAtPeriodEnd bool       `json:"cancelAtPeriodEnd"`
}

// OverviewInput carries no fields; the organization comes from the session.
type OverviewInput struct{}

const overviewSQL = `SELECT s.plan, s.status, s.seats, s.current_period_end, s.cancel_at_period_end,
    (SELECT count(*) FROM memberships)::int
FROM subscriptions s`

func scanOverview(row pgx.CollectableRow) (Overview, error) {
	var o Overview
	err := row.Scan(&o.Plan, &o.Status, &o.Seats, &o.CurrentPeriodEnd, &o.CancelAtPeriodEnd, &o.SeatsUsed)
	if err != nil {
		return Overview{}, err
	}
	o.SeatsAvailable = max(o.Seats-o.SeatsUsed, 0)
	return o, nil
}

// Service reads billing data.
type Service struct{}

// NewService builds a Service.
func NewService() *Service {
	return &Service{}
}

// Overview returns the subscription of the caller's organization. Only the
// organization owner may see it.
func (s *Service) Overview() action.Operation[OverviewInput, Overview] {
	return action.Operation[OverviewInput, Overview]{
		Name:      "billing.overview",
		Schema:    action.Value[OverviewInput](),
		RoleCheck: action.Require(rbac.CanAccessBilling),
		Handler: func(ctx context.Context, _ OverviewInput, ac *action.Context) (Overview, error) {
			o, err := tenant.Get(ctx, ac.Query, scanOverview, overviewSQL)
			if errors.Is(err, pgx.ErrNoRows) {
				return Overview{}, action.NotFound("No subscription found for this organization")
			}
			return o, err
		},
	}
}
