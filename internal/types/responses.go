package types

// ErrorResponse is the uniform failure shape for all inbound operations
type ErrorResponse struct {
	// Kind is the machine-readable error kind (e.g. "InvalidTransition")
	Kind string `json:"kind"`

	// Error is the human-readable message
	Error string `json:"error"`
}

// ErrInvalidInput builds an ErrorResponse for malformed requests
func ErrInvalidInput(msg string) ErrorResponse {
	return ErrorResponse{Kind: "InvalidInput", Error: msg}
}

// ErrFromError builds an ErrorResponse from an engine error
func ErrFromError(err error) ErrorResponse {
	return ErrorResponse{Kind: ErrorKind(err), Error: err.Error()}
}

// PaginationResponse represents pagination information for list endpoints
type PaginationResponse struct {
	// Total number of items returned in this page
	Total int `json:"total"`

	// Maximum number of items per page
	Limit int `json:"limit"`

	// Number of items skipped from the beginning of the result set
	Offset int `json:"offset"`
}

// ListResponse defines a generic response structure for listing resources
type ListResponse[T any] struct {
	Rows       []T                `json:"rows"`
	Pagination PaginationResponse `json:"pagination"`
}

// CounterRow is one group in a grouped instance count
type CounterRow struct {
	Value string `json:"value"`
	Count int64  `json:"count"`
}

// HistoryBucket is one time bucket in an historical aggregate
type HistoryBucket struct {
	Bucket string  `json:"bucket"`
	Group  string  `json:"group,omitempty"`
	Count  int64   `json:"count"`
	Load   float64 `json:"load"`
}
