package aem

import "context"

// Scheme names which authentication mechanism an operation requires. The
// classic hypermedia API accepts service-account (JWT exchange) tokens, the
// modern API accepts OAuth server-to-server tokens.
type Scheme string

const (
	SchemeOAuth Scheme = "oauth"
	SchemeJWT   Scheme = "jwt"
)

// TokenSource serves currently-valid bearer tokens per scheme. Implemented
// by the auth package; the client only needs the token value and a way to
// drop one the server has rejected.
type TokenSource interface {
	GetValidToken(ctx context.Context, scheme Scheme) (string, error)
	Invalidate(scheme Scheme)
}
