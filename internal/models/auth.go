package models

// LoginRequest carries staff credentials.
type LoginRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// LoginResponse carries the issued bearer token and the caller's identity.
type LoginResponse struct {
	Token string      `json:"token"`
	User  Counterpart `json:"user"`
}

// Attachment describes an uploaded file referenced by a file message.
type Attachment struct {
	URL  string `json:"url"`
	Name string `json:"name"`
}
