package portal

import "errors"

// Portal errors.
var (
	// ErrBadCredentials means the portal rejected the login form.
	ErrBadCredentials = errors.New("portal: bad credentials")
	// ErrSessionExpired means the portal no longer accepts the
	// presented session token.
	ErrSessionExpired = errors.New("portal: session expired")
	// ErrBadGateway covers responses outside the portal's documented
	// contract.
	ErrBadGateway = errors.New("portal: unexpected response")
	// ErrMalformedResponse means the grades payload could not be
	// decoded.
	ErrMalformedResponse = errors.New("portal: malformed response")
)
