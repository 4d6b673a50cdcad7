package audit

import "time"

// TimelineFilters selects records for the timeline. At least one of TenantID
// or PrincipalID is required unless AllTenants is set.
type TimelineFilters struct {
	TenantID     string
	PrincipalID  string
	From         time.Time
	To           time.Time
	Action       string
	ResourceType string
	Outcome      Outcome
	Page         int
	PageSize     int
	// AllTenants lifts the tenant or principal requirement. Only set for
	// callers already cleared to read every tenant.
	AllTenants bool
}

// WindowParams is the repository-level query for a single page.
type WindowParams struct {
	TimelineFilters
	Offset int
	Limit  int
}

// PagingInfo holds simple pagination metadata.
type PagingInfo struct {
	Page     int  `json:"page"`
	PageSize int  `json:"page_size"`
	HasNext  bool `json:"has_next"`
	PrevPage int  `json:"prev_page,omitempty"`
	NextPage int  `json:"next_page,omitempty"`
}

// Result wraps a timeline page.
type Result struct {
	Rows   []Record   `json:"rows"`
	Paging PagingInfo `json:"paging"`
}
