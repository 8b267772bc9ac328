package properties

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/haven-crm/haven/internal/tenant"
)

// Repository persists properties. Every method runs on a Querier bound to the
// caller's organization; new rows take their organization from the binding.
type Repository struct{}

// NewRepository constructs a repository.
func NewRepository() *Repository {
	return &Repository{}
}

const propertyColumns = `p.id::text, p.title, p.description, p.type, p.status, p.price_cents, p.currency,
p.bedrooms, p.bathrooms, p.created_by::text, p.created_at, p.updated_at,
a.line1, a.line2, a.city, a.region, a.postal_code, a.country,
l.id::text, l.headline, l.published_at`

const propertyFrom = `FROM properties p
JOIN property_addresses a ON a.property_id = p.id
LEFT JOIN listings l ON l.property_id = p.id`

func scanProperty(row pgx.CollectableRow) (Property, error) {
	var (
		p           Property
		status      string
		line2       *string
		region      *string
		listingID   *string
		headline    *string
		publishedAt *time.Time
	)
	err := row.Scan(&p.ID, &p.Title, &p.Description, &p.Type, &status, &p.PriceCents, &p.Currency,
		&p.Bedrooms, &p.Bathrooms, &p.CreatedBy, &p.CreatedAt, &p.UpdatedAt,
		&p.Address.Line1, &line2, &p.Address.City, &region, &p.Address.PostalCode, &p.Address.Country,
		&listingID, &headline, &publishedAt)
	if err != nil {
		return Property{}, err
	}
	p.Status = Status(status)
	if line2 != nil {
		p.Address.Line2 = *line2
	}
	if region != nil {
		p.Address.Region = *region
	}
	if listingID != nil {
		p.Listing = &Listing{ID: *listingID, PublishedAt: publishedAt}
		if headline != nil {
			p.Listing.Headline = *headline
		}
	}
	return p, nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// InsertProperty stores p and fills its id and timestamps.
func (r *Repository) InsertProperty(ctx context.Context, q tenant.Querier, p *Property) error {
	return q.QueryRow(ctx, `INSERT INTO properties
    (organization_id, title, description, type, status, price_cents, currency, bedrooms, bathrooms, created_by)
VALUES (current_setting('app.current_organization_id')::uuid, $1, $2, $3, $4, $5, $6, $7, $8, $9)
RETURNING id::text, created_at, updated_at`,
		p.Title, p.Description, p.Type, string(p.Status), p.PriceCents, p.Currency, p.Bedrooms, p.Bathrooms, p.CreatedBy,
	).Scan(&p.ID, &p.CreatedAt, &p.UpdatedAt)
}

// InsertAddress stores the address of propertyID.
func (r *Repository) InsertAddress(ctx context.Context, q tenant.Querier, propertyID string, a Address) error {
	_, err := q.Exec(ctx, `INSERT INTO property_addresses
    (organization_id, property_id, line1, line2, city, region, postal_code, country)
VALUES (current_setting('app.current_organization_id')::uuid, $1, $2, $3, $4, $5, $6, $7)`,
		propertyID, a.Line1, nullable(a.Line2), a.City, nullable(a.Region), a.PostalCode, a.Country)
	return err
}

// InsertListing stores the listing of propertyID and fills its id.
func (r *Repository) InsertListing(ctx context.Context, q tenant.Querier, propertyID string, l *Listing) error {
	return q.QueryRow(ctx, `INSERT INTO listings (organization_id, property_id, headline, published_at)
VALUES (current_setting('app.current_organization_id')::uuid, $1, $2, $3)
RETURNING id::text`, propertyID, l.Headline, l.PublishedAt).Scan(&l.ID)
}

// InsertUnit stores one unit of propertyID and fills its id.
func (r *Repository) InsertUnit(ctx context.Context, q tenant.Querier, propertyID string, u *Unit) error {
	return q.QueryRow(ctx, `INSERT INTO property_units (organization_id, property_id, label, price_cents, bedrooms)
VALUES (current_setting('app.current_organization_id')::uuid, $1, $2, $3, $4)
RETURNING id::text`, propertyID, u.Label, u.PriceCents, u.Bedrooms).Scan(&u.ID)
}

// Get returns one property with its units.
func (r *Repository) Get(ctx context.Context, q tenant.Querier, id string) (Property, error) {
	rows, err := q.Query(ctx, `SELECT `+propertyColumns+` `+propertyFrom+` WHERE p.id = $1`, id)
	if err != nil {
		return Property{}, err
	}
	p, err := pgx.CollectExactlyOneRow(rows, scanProperty)
	if err != nil {
		return Property{}, err
	}
	rows, err = q.Query(ctx, `SELECT id::text, label, price_cents, bedrooms
FROM property_units WHERE property_id = $1 ORDER BY label`, id)
	if err != nil {
		return Property{}, err
	}
	p.Units, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (Unit, error) {
		var u Unit
		err := row.Scan(&u.ID, &u.Label, &u.PriceCents, &u.Bedrooms)
		return u, err
	})
	return p, err
}

// List returns one page of properties, newest first, and the total count.
func (r *Repository) List(ctx context.Context, q tenant.Querier, status Status, limit, offset int) ([]Property, int, error) {
	var total int
	if err := q.QueryRow(ctx, `SELECT count(*) FROM properties WHERE ($1 = '' OR status = $1)`, string(status)).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := q.Query(ctx, `SELECT `+propertyColumns+` `+propertyFrom+`
WHERE ($1 = '' OR p.status = $1)
ORDER BY p.created_at DESC, p.id
LIMIT $2 OFFSET $3`, string(status), limit, offset)
	if err != nil {
		return nil, 0, err
	}
	items, err := pgx.CollectRows(rows, scanProperty)
	if err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

// LockOwner locks the property row and returns its creator.
func (r *Repository) LockOwner(ctx context.Context, q tenant.Querier, id string) (string, error) {
	var createdBy string
	err := q.QueryRow(ctx, `SELECT created_by::text FROM properties WHERE id = $1 FOR UPDATE`, id).Scan(&createdBy)
	return createdBy, err
}

// Update applies the non-nil fields of in. It returns pgx.ErrNoRows when the
// property is not visible.
func (r *Repository) Update(ctx context.Context, q tenant.Querier, in UpdateInput, at time.Time) error {
	var status *string
	if in.Status != nil {
		s := string(*in.Status)
		status = &s
	}
	var id string
	return q.QueryRow(ctx, `UPDATE properties SET
    title = COALESCE($2, title),
    description = COALESCE($3, description),
    status = COALESCE($4, status),
    price_cents = COALESCE($5, price_cents),
    bedrooms = COALESCE($6, bedrooms),
    bathrooms = COALESCE($7, bathrooms),
    updated_at = $8
WHERE id = $1
RETURNING id::text`, in.ID, in.Title, in.Description, status, in.PriceCents, in.Bedrooms, in.Bathrooms, at).Scan(&id)
}

// Delete removes a property; addresses, listings and units cascade.
func (r *Repository) Delete(ctx context.Context, q tenant.Querier, id string) error {
	tag, err := q.Exec(ctx, `DELETE FROM properties WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}
