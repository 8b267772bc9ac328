package properties

import (
	"context"
	"time"

	"github.com/haven-crm/haven/internal/action"
	"github.com/haven-crm/haven/internal/rbac"
	"github.com/haven-crm/haven/internal/shared"
	"github.com/haven-crm/haven/internal/tenant"
)

// RepositoryPort defines data access methods for properties.
type RepositoryPort interface {
	InsertProperty(ctx context.Context, q tenant.Querier, p *Property) error
	InsertAddress(ctx context.Context, q tenant.Querier, propertyID string, a Address) error
	InsertListing(ctx context.Context, q tenant.Querier, propertyID string, l *Listing) error
	InsertUnit(ctx context.Context, q tenant.Querier, propertyID string, u *Unit) error
	Get(ctx context.Context, q tenant.Querier, id string) (Property, error)
	List(ctx context.Context, q tenant.Querier, status Status, limit, offset int) ([]Property, int, error)
	LockOwner(ctx context.Context, q tenant.Querier, id string) (string, error)
	Update(ctx context.Context, q tenant.Querier, in UpdateInput, at time.Time) error
	Delete(ctx context.Context, q tenant.Querier, id string) error
}

// Auditor records changes inside the transaction that made them.
type Auditor interface {
	Record(ctx context.Context, q tenant.Querier, log shared.AuditLog) error
}

// Service implements the property operations.
type Service struct {
	repo  RepositoryPort
	audit Auditor
	now   func() time.Time
}

// NewService builds a Service. now defaults to time.Now.
func NewService(repo RepositoryPort, audit Auditor, now func() time.Time) *Service {
	if now == nil {
		now = time.Now
	}
	return &Service{repo: repo, audit: audit, now: now}
}

// Create stores a property with its address, optional listing and units in
// one transaction.
func (s *Service) Create() action.Operation[CreateInput, Property] {
	return action.Operation[CreateInput, Property]{
		Name:      "properties.create",
		Schema:    action.JSON[CreateInput](),
		RoleCheck: action.Require(rbac.CanCreateContent),
		Handler: func(ctx context.Context, in CreateInput, ac *action.Context) (Property, error) {
			now := s.now().UTC()
			p := Property{
				Title:       in.Title,
				Description: in.Description,
				Type:        in.Type,
				Status:      StatusDraft,
				PriceCents:  in.PriceCents,
				Currency:    in.Currency,
				Bedrooms:    in.Bedrooms,
				Bathrooms:   in.Bathrooms,
				CreatedBy:   ac.PrincipalID,
				Address: Address{
					Line1:      in.Address.Line1,
					Line2:      in.Address.Line2,
					City:       in.Address.City,
					Region:     in.Address.Region,
					PostalCode: in.Address.PostalCode,
					Country:    in.Address.Country,
				},
			}
			if in.Listing != nil {
				p.Listing = &Listing{Headline: in.Listing.Headline}
				if in.Listing.Publish {
					p.Status = StatusActive
					p.Listing.PublishedAt = &now
				}
			}
			for _, u := range in.Units {
				p.Units = append(p.Units, Unit{Label: u.Label, PriceCents: u.Price, Bedrooms: u.Bedrooms})
			}

			err := ac.Batch(ctx, func(ctx context.Context, q tenant.Querier) error {
				if err := s.repo.InsertProperty(ctx, q, &p); err != nil {
					return err
				}
				if err := s.repo.InsertAddress(ctx, q, p.ID, p.Address); err != nil {
					return err
				}
				if p.Listing != nil {
					if err := s.repo.InsertListing(ctx, q, p.ID, p.Listing); err != nil {
						return err
					}
				}
				for i := range p.Units {
					if err := s.repo.InsertUnit(ctx, q, p.ID, &p.Units[i]); err != nil {
						return err
					}
				}
				return s.record(ctx, q, ac, EventCreated, p.ID, map[string]any{"title": p.Title, "units": len(p.Units)})
			})
			if err != nil {
				return Property{}, err
			}
			ac.Emit(EventCreated, map[string]any{"propertyId": p.ID, "title": p.Title, "status": p.Status})
			return p, nil
		},
	}
}

// Get returns one property.
func (s *Service) Get() action.Operation[GetInput, Property] {
	return action.Operation[GetInput, Property]{
		Name:      "properties.get",
		Schema:    action.Value[GetInput](),
		RoleCheck: action.Require(rbac.CanViewContent),
		Handler: func(ctx context.Context, in GetInput, ac *action.Context) (Property, error) {
			var p Property
			err := ac.Batch(ctx, func(ctx context.Context, q tenant.Querier) error {
				var err error
				p, err = s.repo.Get(ctx, q, in.ID)
				return err
			})
			return p, err
		},
	}
}

// List returns one page of properties, optionally filtered by status.
func (s *Service) List() action.Operation[ListInput, Page] {
	return action.Operation[ListInput, Page]{
		Name:      "properties.list",
		Schema:    action.JSON[ListInput](),
		RoleCheck: action.Require(rbac.CanViewContent),
		Handler: func(ctx context.Context, in ListInput, ac *action.Context) (Page, error) {
			page, perPage := shared.NormalizePage(in.Page, in.PerPage)
			var (
				items []Property
				total int
			)
			err := ac.Batch(ctx, func(ctx context.Context, q tenant.Querier) error {
				var err error
				items, total, err = s.repo.List(ctx, q, in.Status, perPage, (page-1)*perPage)
				return err
			})
			if err != nil {
				return Page{}, err
			}
			if items == nil {
				items = []Property{}
			}
			return Page{Items: items, Pagination: shared.NewPagination(page, perPage, total)}, nil
		},
	}
}

// Update patches a property.
func (s *Service) Update() action.Operation[UpdateInput, Property] {
	return action.Operation[UpdateInput, Property]{
		Name:      "properties.update",
		Schema:    action.JSON[UpdateInput](),
		RoleCheck: action.Require(rbac.CanEditContent),
		Handler: func(ctx context.Context, in UpdateInput, ac *action.Context) (Property, error) {
			var p Property
			err := ac.Batch(ctx, func(ctx context.Context, q tenant.Querier) error {
				if err := s.repo.Update(ctx, q, in, s.now().UTC()); err != nil {
					return err
				}
				if err := s.record(ctx, q, ac, EventUpdated, in.ID, map[string]any{"fields": in.Fields()}); err != nil {
					return err
				}
				var err error
				p, err = s.repo.Get(ctx, q, in.ID)
				return err
			})
			if err != nil {
				return Property{}, err
			}
			ac.Emit(EventUpdated, map[string]any{"propertyId": p.ID, "fields": in.Fields()})
			return p, nil
		},
	}
}

// Delete removes a property. Agents may only delete what they created.
func (s *Service) Delete() action.Operation[DeleteInput, struct{}] {
	return action.Operation[DeleteInput, struct{}]{
		Name:   "properties.delete",
		Schema: action.Value[DeleteInput](),
		RoleCheck: func(role rbac.Role, _ *action.Context) bool {
			return rbac.CanDeleteContent(role, true)
		},
		Handler: func(ctx context.Context, in DeleteInput, ac *action.Context) (struct{}, error) {
			err := ac.Batch(ctx, func(ctx context.Context, q tenant.Querier) error {
				createdBy, err := s.repo.LockOwner(ctx, q, in.ID)
				if err != nil {
					return err
				}
				if !rbac.CanDeleteContent(ac.Role, createdBy == ac.PrincipalID) {
					return action.Forbidden("You can only delete properties you created")
				}
				if err := s.repo.Delete(ctx, q, in.ID); err != nil {
					return err
				}
				return s.record(ctx, q, ac, EventDeleted, in.ID, nil)
			})
			if err != nil {
				return struct{}{}, err
			}
			ac.Emit(EventDeleted, map[string]any{"propertyId": in.ID})
			return struct{}{}, nil
		},
	}
}

func (s *Service) record(ctx context.Context, q tenant.Querier, ac *action.Context, actionName, entityID string, meta map[string]any) error {
	if s.audit == nil {
		return nil
	}
	return s.audit.Record(ctx, q, shared.AuditLog{
		ActorID:  ac.PrincipalID,
		Action:   actionName,
		Entity:   "property",
		EntityID: entityID,
		Meta:     meta,
	})
}
