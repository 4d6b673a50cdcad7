package audit

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

const (
	defaultPageSize = 20
	maxPageSize     = 50
	maxExportRows   = 10000
)

// ErrScopeRequired indicates a timeline query without a tenant or principal.
var ErrScopeRequired = errors.New("audit: tenant or principal filter required")

// Repository reads and appends audit records.
type Repository interface {
	Insert(ctx context.Context, rec Record) error
	Window(ctx context.Context, params WindowParams) ([]Record, error)
}

// Service coordinates audit timeline reads.
type Service struct {
	repo Repository
}

// NewService builds a timeline service.
func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// Timeline loads one page of records, newest first.
func (s *Service) Timeline(ctx context.Context, filters TimelineFilters) (Result, error) {
	if s.repo == nil {
		return Result{}, fmt.Errorf("audit: repository not configured")
	}
	filters, err := normalizeFilters(filters)
	if err != nil {
		return Result{}, err
	}
	pageSize := filters.PageSize
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}
	page := filters.Page
	if page <= 0 {
		page = 1
	}
	rows, err := s.repo.Window(ctx, WindowParams{
		TimelineFilters: filters,
		Offset:          (page - 1) * pageSize,
		Limit:           pageSize + 1,
	})
	if err != nil {
		return Result{}, err
	}
	hasNext := len(rows) > pageSize
	if hasNext {
		rows = rows[:pageSize]
	}
	paging := PagingInfo{Page: page, PageSize: pageSize, HasNext: hasNext}
	if page > 1 {
		paging.PrevPage = page - 1
	}
	if hasNext {
		paging.NextPage = page + 1
	}
	return Result{Rows: rows, Paging: paging}, nil
}

// Export loads every matching record up to the export cap.
func (s *Service) Export(ctx context.Context, filters TimelineFilters) ([]Record, error) {
	if s.repo == nil {
		return nil, fmt.Errorf("audit: repository not configured")
	}
	filters, err := normalizeFilters(filters)
	if err != nil {
		return nil, err
	}
	return s.repo.Window(ctx, WindowParams{TimelineFilters: filters, Limit: maxExportRows})
}

func normalizeFilters(f TimelineFilters) (TimelineFilters, error) {
	f.TenantID = strings.TrimSpace(f.TenantID)
	f.PrincipalID = strings.TrimSpace(f.PrincipalID)
	f.Action = strings.ToUpper(strings.TrimSpace(f.Action))
	f.ResourceType = strings.ToUpper(strings.TrimSpace(f.ResourceType))
	if f.TenantID == "" && f.PrincipalID == "" && !f.AllTenants {
		return f, ErrScopeRequired
	}
	if f.Outcome != "" && !f.Outcome.Valid() {
		return f, fmt.Errorf("%w: outcome %q", ErrInvalidEntry, f.Outcome)
	}
	if !f.From.IsZero() && !f.To.IsZero() && f.From.After(f.To) {
		return f, fmt.Errorf("%w: from after to", ErrInvalidEntry)
	}
	return f, nil
}
