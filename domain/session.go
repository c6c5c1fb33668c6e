package domain

// SessionState is the consolidated view of the current identity and profile.
// A new value is published on every change; holders must not modify it.
type SessionState struct {
	Identity *Identity `json:"identity"`
	Profile  *Profile  `json:"profile"`
	Loading  bool      `json:"loading"`
}

// SignedIn reports whether an identity is present.
func (s SessionState) SignedIn() bool {
	return s.Identity != nil
}
