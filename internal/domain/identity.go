package domain

// Identity is the verified external identity of a caller. Recognized claims
// are typed fields; anything else the token carried lands in Extra.
type Identity struct {
	UID           string         `json:"uid"`
	Email         string         `json:"email,omitempty"`
	Name          string         `json:"name,omitempty"`
	Picture       string         `json:"picture,omitempty"`
	EmailVerified bool           `json:"email_verified"`
	Extra         map[string]any `json:"extra,omitempty"`
}

// Claim returns an unrecognized claim by name.
func (id Identity) Claim(name string) (any, bool) {
	if id.Extra == nil {
		return nil, false
	}
	v, ok := id.Extra[name]
	return v, ok
}
