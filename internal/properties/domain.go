package properties

import (
	"strconv"
	"strings"
	"time"

	"golang.org/x/text/cases"

	"github.com/haven-crm/haven/internal/action"
	"github.com/haven-crm/haven/internal/shared"
)

// Status is the lifecycle state of a property.
type Status string

// Property statuses.
const (
	StatusDraft         Status = "draft"
	StatusActive        Status = "active"
	StatusUnderContract Status = "under_contract"
	StatusSold          Status = "sold"
	StatusArchived      Status = "archived"
)

// Event types emitted by property operations.
const (
	EventCreated = "property.created"
	EventUpdated = "property.updated"
	EventDeleted = "property.deleted"
)

// Address locates a property.
type Address struct {
	Line1      string `json:"line1"`
	Line2      string `json:"line2,omitempty"`
	City       string `json:"city"`
	Region     string `json:"region,omitempty"`
	PostalCode string `json:"postalCode"`
	Country    string `json:"country"`
}

// Listing is the public advertisement of a property.
type Listing struct {
	ID          string     `json:"id"`
	Headline    string     `json:"headline"`
	PublishedAt *time.Time `json:"publishedAt,omitempty"`
}

// Unit is a rentable or sellable part of a property.
type Unit struct {
	ID         string `json:"id"`
	Label      string `json:"label"`
	PriceCents int64  `json:"priceCents"`
	Bedrooms   int    `json:"bedrooms"`
}

// Property is a real-estate object owned by one organization.
type Property struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	Type        string    `json:"type"`
	Status      Status    `json:"status"`
	PriceCents  int64     `json:"priceCents"`
	Currency    string    `json:"currency"`
	Bedrooms    int       `json:"bedrooms"`
	Bathrooms   int       `json:"bathrooms"`
	Address     Address   `json:"address"`
	Listing     *Listing  `json:"listing,omitempty"`
	Units       []Unit    `json:"units,omitempty"`
	CreatedBy   string    `json:"createdBy"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// Page is one page of a property listing.
type Page struct {
	Items      []Property        `json:"items"`
	Pagination shared.Pagination `json:"pagination"`
}

// AddressInput is the address part of CreateInput.
type AddressInput struct {
	Line1      string `json:"line1" validate:"required,max=200"`
	Line2      string `json:"line2" validate:"max=200"`
	City       string `json:"city" validate:"required,max=100"`
	Region     string `json:"region" validate:"max=100"`
	PostalCode string `json:"postalCode" validate:"required,max=20"`
	Country    string `json:"country" validate:"required,iso3166_1_alpha2"`
}

// ListingInput requests a listing together with the property.
type ListingInput struct {
	Headline string `json:"headline" validate:"required,max=160"`
	Publish  bool   `json:"publish"`
}

// UnitInput describes one unit of a multi-unit property.
type UnitInput struct {
	Label    string `json:"label" validate:"required,max=60"`
	Price    int64  `json:"price" validate:"gte=0"`
	Bedrooms int    `json:"bedrooms" validate:"gte=0,lte=50"`
}

// CreateInput is the payload of properties.create.
type CreateInput struct {
	Title       string        `json:"title" validate:"required,max=200"`
	Description string        `json:"description" validate:"max=5000"`
	Type        string        `json:"type" validate:"required,oneof=house apartment condo townhouse land commercial"`
	PriceCents  int64         `json:"priceCents" validate:"gte=0"`
	Currency    string        `json:"currency" validate:"required,len=3,uppercase"`
	Bedrooms    int           `json:"bedrooms" validate:"gte=0,lte=100"`
	Bathrooms   int           `json:"bathrooms" validate:"gte=0,lte=100"`
	Address     AddressInput  `json:"address"`
	Listing     *ListingInput `json:"listing"`
	Units       []UnitInput   `json:"units" validate:"max=50,dive"`
}

// Validate checks rules spanning several fields.
func (in CreateInput) Validate() action.FieldErrors {
	fe := action.FieldErrors{}
	if in.Type == "land" {
		if in.Bedrooms > 0 {
			fe.Add("bedrooms", "must be 0 for land")
		}
		if in.Bathrooms > 0 {
			fe.Add("bathrooms", "must be 0 for land")
		}
	}
	fold := cases.Fold()
	seen := make(map[string]int, len(in.Units))
	for i, u := range in.Units {
		key := fold.String(strings.TrimSpace(u.Label))
		if key == "" {
			continue
		}
		if j, ok := seen[key]; ok {
			fe.Add("units["+strconv.Itoa(i)+"].label", "duplicates units["+strconv.Itoa(j)+"].label")
			continue
		}
		seen[key] = i
	}
	return fe
}

// GetInput identifies one property.
type GetInput struct {
	ID string `json:"id" validate:"required,uuid"`
}

// ListInput filters and pages the property list.
type ListInput struct {
	Page    int    `json:"page" validate:"gte=0"`
	PerPage int    `json:"perPage" validate:"gte=0"`
	Status  Status `json:"status" validate:"omitempty,oneof=draft active under_contract sold archived"`
}

// UpdateInput patches a property. Nil fields are left unchanged.
type UpdateInput struct {
	ID          string  `json:"id" validate:"required,uuid"`
	Title       *string `json:"title" validate:"omitempty,min=1,max=200"`
	Description *string `json:"description" validate:"omitempty,max=5000"`
	Status      *Status `json:"status" validate:"omitempty,oneof=draft active under_contract sold archived"`
	PriceCents  *int64  `json:"priceCents" validate:"omitempty,gte=0"`
	Bedrooms    *int    `json:"bedrooms" validate:"omitempty,gte=0,lte=100"`
	Bathrooms   *int    `json:"bathrooms" validate:"omitempty,gte=0,lte=100"`
}

// Validate rejects empty patches.
func (in UpdateInput) Validate() action.FieldErrors {
	if len(in.Fields()) == 0 {
		return action.FieldErrors{action.RootPath: {"at least one field must be provided"}}
	}
	return nil
}

// Fields lists the json names of the fields the patch sets.
func (in UpdateInput) Fields() []string {
	var fields []string
	if in.Title != nil {
		fields = append(fields, "title")
	}
	if in.Description != nil {
		fields = append(fields, "description")
	}
	if in.Status != nil {
		fields = append(fields, "status")
	}
	if in.PriceCents != nil {
		fields = append(fields, "priceCents")
	}
	if in.Bedrooms != nil {
		fields = append(fields, "bedrooms")
	}
	if in.Bathrooms != nil {
		fields = append(fields, "bathrooms")
	}
	return fields
}

// DeleteInput identifies the property to delete.
type DeleteInput struct {
	ID string `json:"id" validate:"required,uuid"`
}
