package service

import (
	"context"
	"strings"

	"github.com/pesio-ai/be-procurement-cases/internal/common/errors"
	"github.com/pesio-ai/be-procurement-cases/internal/common/logger"
	"github.com/pesio-ai/be-procurement-cases/internal/repository"
)

// SupplierService manages the supplier directory.
type SupplierService struct {
	store repository.Store
	log   *logger.Logger
}

// NewSupplierService creates a new SupplierService.
func NewSupplierService(store repository.Store, log *logger.Logger) *SupplierService {
	if log == nil {
		log = logger.Nop()
	}
	return &SupplierService{store: store, log: log.With("supplier")}
}

// CreateSupplierRequest represents a create supplier request.
type CreateSupplierRequest struct {
	Name       string   `json:"name" validate:"required,max=255"`
	Email      string   `json:"email" validate:"required,email"`
	Categories []string `json:"categories"`
}

// UpdateSupplierRequest is a field-sparse supplier update.
type UpdateSupplierRequest struct {
	Name       *string  `json:"name" validate:"omitempty,max=255"`
	Email      *string  `json:"email" validate:"omitempty,email"`
	Categories []string `json:"categories"`
	IsActive   *bool    `json:"isActive"`
}

// ListSuppliers returns suppliers ordered by name.
func (s *SupplierService) ListSuppliers(ctx context.Context, activeOnly bool) ([]*repository.Supplier, error) {
	suppliers, err := s.store.ListSuppliers(ctx, activeOnly)
	if err != nil {
		return nil, err
	}
	if suppliers == nil {
		suppliers = []*repository.Supplier{}
	}
	return suppliers, nil
}

// CreateSupplier adds an active supplier.
func (s *SupplierService) CreateSupplier(ctx context.Context, req *CreateSupplierRequest) (*repository.Supplier, error) {
	if req == nil {
		return nil, errors.InvalidInput("body", "is required")
	}
	if err := validateRequest(req); err != nil {
		return nil, err
	}
	if err := notBlank("name", req.Name); err != nil {
		return nil, err
	}

	supplier := &repository.Supplier{
		Name:       strings.TrimSpace(req.Name),
		Email:      strings.TrimSpace(req.Email),
		Categories: cleanCategories(req.Categories),
		IsActive:   true,
	}
	if err := s.store.CreateSupplier(ctx, supplier); err != nil {
		return nil, err
	}

	s.log.Info().Str("supplier_id", supplier.ID).Str("name", supplier.Name).Msg("Supplier created")
	return supplier, nil
}

// UpdateSupplier applies a sparse update to a supplier.
func (s *SupplierService) UpdateSupplier(ctx context.Context, id string, req *UpdateSupplierRequest) (*repository.Supplier, error) {
	if req == nil {
		return nil, errors.InvalidInput("body", "is required")
	}
	if err := validateRequest(req); err != nil {
		return nil, err
	}
	if req.Name != nil {
		if err := notBlank("name", *req.Name); err != nil {
			return nil, err
		}
	}

	patch := repository.SupplierPatch{
		Name:     req.Name,
		Email:    req.Email,
		IsActive: req.IsActive,
	}
	if req.Categories != nil {
		patch.Categories = cleanCategories(req.Categories)
	}
	if patch.Name == nil && patch.Email == nil && patch.IsActive == nil && patch.Categories == nil {
		return nil, errors.InvalidInput("body", "no fields to update")
	}

	supplier, err := s.store.UpdateSupplier(ctx, id, patch)
	if err != nil {
		return nil, err
	}
	if supplier == nil {
		return nil, errors.NotFound("supplier", id)
	}

	s.log.Info().Str("supplier_id", id).Msg("Supplier updated")
	return supplier, nil
}

// cleanCategories trims entries and drops blanks and duplicates. The result
// is never nil.
func cleanCategories(in []string) []string {
	out := make([]string, 0, len(in))
	seen := make(map[string]bool, len(in))
	for _, c := range in {
		c = strings.TrimSpace(c)
		if c == "" || seen[c] {
			continue
		}
		seen[c] = true
		out = append(out, c)
	}
	return out
}
