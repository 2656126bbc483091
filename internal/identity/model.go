package identity

// WhoAmIResponse is the body of GET /chat/whoamI.
type WhoAmIResponse struct {
	Username string `json:"username"`
}
