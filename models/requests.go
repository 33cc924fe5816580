package models

// PaginatedResponse wraps a page of items
type PaginatedResponse struct {
	Data       interface{} `json:"data"`
	Page       int         `json:"page"`
	PageSize   int         `json:"page_size"`
	TotalCount int         `json:"total_count"`
}

// SignerResponse describes the solver account
type SignerResponse struct {
	Address string            `json:"address"`
	Nonces  map[string]uint64 `json:"nonces"`
}
