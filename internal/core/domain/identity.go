package domain

// Requester is the authenticated caller as asserted by the API gateway.
type Requester struct {
	UserID string
	Admin  bool
}
