package models

// Pagination defaults shared by repositories and handlers
const (
	// DefaultLimit is the default number of rows returned by list queries
	DefaultLimit = 100
	// MaxLimit caps the number of rows a single list query may return
	MaxLimit = 1000
)

// StatusFilter selects how ListOptions.Status is applied
type StatusFilter int

const (
	// StatusFilterEqual keeps rows whose status equals the filter value
	StatusFilterEqual StatusFilter = iota
	// StatusFilterNotEqual keeps rows whose status differs from the filter value
	StatusFilterNotEqual
)

// ListOptions controls filtering and pagination of instance list queries
type ListOptions struct {
	Limit  int
	Offset int

	// Status filters by instance status when non-nil
	Status       *InstanceStatus
	StatusFilter StatusFilter

	// IncludeClosed includes Halted instances, which list queries exclude
	// by default
	IncludeClosed bool
}
