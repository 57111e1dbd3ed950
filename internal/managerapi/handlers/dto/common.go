package dto

// Page describes one window over a checkpointed list.
type Page struct {
	Total  int `json:"total"`
	Limit  int `json:"limit"`
	Offset int `json:"offset"`
}

// SubscriberPage is the body of GET /subscribers.
type SubscriberPage struct {
	CheckpointID string              `json:"checkpoint_id"`
	Data         []SubscriberSummary `json:"data"`
	Pagination   Page                `json:"pagination"`
}
