package auth

import (
	"crypto/sha256"
	"crypto/subtle"
	"errors"
	"fmt"
	"strings"
)

var (
	ErrMissingToken = errors.New("missing bearer token")
	ErrInvalidToken = errors.New("invalid bearer token")
)

type credential struct {
	name   string
	digest [sha256.Size]byte
}

// Authenticator checks bearer tokens against a fixed set of named API tokens.
// An authenticator without tokens accepts every request.
type Authenticator struct {
	credentials []credential
}

// NewAuthenticator parses "name:token" entries.
func NewAuthenticator(entries []string) (*Authenticator, error) {
	a := &Authenticator{}
	seen := make(map[string]bool, len(entries))
	for _, entry := range entries {
		name, token, ok := strings.Cut(entry, ":")
		name, token = strings.TrimSpace(name), strings.TrimSpace(token)
		if !ok || name == "" || token == "" {
			return nil, fmt.Errorf("API token entries must look like name:token")
		}
		if seen[name] {
			return nil, fmt.Errorf("API token name %q is used twice", name)
		}
		seen[name] = true
		a.credentials = append(a.credentials, credential{name: name, digest: sha256.Sum256([]byte(token))})
	}
	return a, nil
}

// Enabled reports whether any token is configured.
func (a *Authenticator) Enabled() bool {
	return a != nil && len(a.credentials) > 0
}

// Authenticate resolves an Authorization header value to a Caller.
func (a *Authenticator) Authenticate(header string) (*Caller, error) {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(token) == "" {
		return nil, ErrMissingToken
	}

	digest := sha256.Sum256([]byte(strings.TrimSpace(token)))
	var match *credential
	// No early exit: every credential is compared.
	for i := range a.credentials {
		if subtle.ConstantTimeCompare(digest[:], a.credentials[i].digest[:]) == 1 {
			match = &a.credentials[i]
		}
	}
	if match == nil {
		return nil, ErrInvalidToken
	}
	return &Caller{Name: match.name}, nil
}
