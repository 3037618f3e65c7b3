package app

import (
	"context"
	"fmt"
	"time"

	"github.com/pesio-ai/be-procurement-cases/internal/repository"
	"github.com/pesio-ai/be-procurement-cases/internal/service"
)

// DefaultSeedPassword is the password given to seeded staff users.
const DefaultSeedPassword = "Password123!"

// SeedOptions controls the demo data written by Seed.
type SeedOptions struct {
	AdminName  string
	AdminEmail string
	Password   string
	Suppliers  int
	// DemoCases is the number of assigned sample cases to create.
	DemoCases int
}

// SeedResult reports what Seed wrote.
type SeedResult struct {
	Skipped   bool     `json:"skipped"`
	UserIDs   []string `json:"userIds,omitempty"`
	Suppliers int      `json:"suppliers"`
	Cases     []string `json:"cases,omitempty"`
}

var supplierCategories = []string{"IT", "Facilities", "Marketing"}

var demoPriorities = []repository.Priority{
	repository.PriorityLow,
	repository.PriorityMedium,
	repository.PriorityHigh,
	repository.PriorityUrgent,
}

// Seed populates an empty installation with one admin, two buyers, suppliers
// and optional sample cases. It does nothing when any user exists.
func Seed(ctx context.Context, svc *Services, opts SeedOptions) (*SeedResult, error) {
	n, err := svc.Users.CountUsers(ctx)
	if err != nil {
		return nil, err
	}
	if n > 0 {
		return &SeedResult{Skipped: true}, nil
	}

	if opts.Password == "" {
		opts.Password = DefaultSeedPassword
	}
	if opts.AdminName == "" {
		opts.AdminName = "Procurement Admin"
	}
	if opts.AdminEmail == "" {
		opts.AdminEmail = "admin@local"
	}

	res := &SeedResult{}
	staff := []service.CreateUserRequest{
		{Name: opts.AdminName, Email: opts.AdminEmail, Role: repository.RoleAdmin},
		{Name: "Buyer One", Email: "buyer1@local", Role: repository.RoleBuyer},
		{Name: "Buyer Two", Email: "buyer2@local", Role: repository.RoleBuyer},
	}
	var buyers []string
	for i := range staff {
		staff[i].Password = opts.Password
		u, err := svc.Users.CreateUser(ctx, &staff[i])
		if err != nil {
			return nil, fmt.Errorf("seed user %s: %w", staff[i].Email, err)
		}
		res.UserIDs = append(res.UserIDs, u.ID)
		if u.Role == repository.RoleBuyer {
			buyers = append(buyers, u.ID)
		}
	}

	for i := 0; i < opts.Suppliers; i++ {
		_, err := svc.Suppliers.CreateSupplier(ctx, &service.CreateSupplierRequest{
			Name:       fmt.Sprintf("Supplier %d", i+1),
			Email:      fmt.Sprintf("supplier%d@example.com", i+1),
			Categories: supplierCategories[:i%len(supplierCategories)+1],
		})
		if err != nil {
			return nil, fmt.Errorf("seed supplier %d: %w", i+1, err)
		}
		res.Suppliers++
	}

	now := time.Now().UTC()
	for i := 0; i < opts.DemoCases; i++ {
		c, err := svc.Workflow.CreateCase(ctx, service.System, &service.CreateCaseRequest{
			Subject:               fmt.Sprintf("Procurement request %d", i+1),
			RequesterName:         fmt.Sprintf("Requester %d", i+1),
			RequesterEmail:        fmt.Sprintf("requester%d@example.com", i+1),
			Department:            "Operations",
			Priority:              demoPriorities[i%len(demoPriorities)],
			NeededBy:              now.AddDate(0, 0, 5+i),
			CostCenter:            fmt.Sprintf("CC-%d", 200+i),
			DeliveryLocation:      "HQ Warehouse",
			BudgetEstimate:        float64(1000 + i*250),
			SummaryForProcurement: fmt.Sprintf("This is a summary for procurement request %d.", i+1),
			Items: []service.CaseItemInput{
				{Description: "Laptop hardware", Qty: 2, UOM: "units", Specs: "16GB RAM, 512GB SSD"},
			},
			Source: service.SourceDirect,
		})
		if err != nil {
			return nil, fmt.Errorf("seed case %d: %w", i+1, err)
		}
		if _, err := svc.Workflow.AssignBuyer(ctx, service.System, c.ID, buyers[i%len(buyers)]); err != nil {
			return nil, fmt.Errorf("assign seed case %s: %w", c.PRNumber, err)
		}
		res.Cases = append(res.Cases, c.PRNumber)
	}

	return res, nil
}
