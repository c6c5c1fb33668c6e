package dto

// SignUpRequest defines the payload for creating an account with its profile.
type SignUpRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"` // Raw password, hashed by the identity provider
	Name     string `json:"name"`
	Username string `json:"username"`
}

// SignInRequest defines the payload for an email and password sign-in.
type SignInRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type PasswordResetRequest struct {
	Email string `json:"email"`
}

// ConfirmPasswordResetRequest carries the token from the reset link and the
// replacement password.
type ConfirmPasswordResetRequest struct {
	Token       string `json:"token"`
	NewPassword string `json:"newPassword"`
}

// ErrorBody describes a failed request. Kind is "auth" or "store" for errors
// raised by the session core and empty for request-level problems.
type ErrorBody struct {
	Kind    string `json:"kind,omitempty"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ErrorResponse is the JSON shape of every error response.
type ErrorResponse struct {
	Error ErrorBody `json:"error"`
}
