package auth

import (
	"net/http"
	"strings"

	"github.com/theroutercompany/quiz_gateway/pkg/gateway/identity"
	"github.com/theroutercompany/quiz_gateway/pkg/gateway/problem"
)

var (
	errMissingAuthorization = problem.New(problem.KindAuth, "Authentication required", "Missing authorization header")
	errMalformedHeader      = problem.New(problem.KindAuth, "Authentication required", "Malformed authorization header")
	errTokenInvalid         = problem.New(problem.KindAuth, "Authentication required", "Invalid or expired token")
)

// Principal is the authenticated caller of a request.
type Principal struct {
	identity.Identity
	Token string
}

// Authenticate validates the request's bearer token.
func (i *Issuer) Authenticate(r *http.Request) (*Principal, error) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return nil, errMissingAuthorization
	}

	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return nil, errMalformedHeader
	}

	tokenString := strings.TrimSpace(parts[1])
	if tokenString == "" {
		return nil, errMalformedHeader
	}

	id, _, err := i.Verify(tokenString)
	if err != nil {
		return nil, err
	}

	return &Principal{Identity: id, Token: tokenString}, nil
}
