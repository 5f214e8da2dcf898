package auth

import "context"

type contextKey string

const callerKey contextKey = "caller"

// Caller identifies the API client a request was authenticated as.
type Caller struct {
	Name string `json:"name"`
}

// WithCaller returns a copy of ctx carrying caller.
func WithCaller(ctx context.Context, caller *Caller) context.Context {
	return context.WithValue(ctx, callerKey, caller)
}

// GetCaller extracts the Caller from a request context.
// Returns nil if the request was not authenticated.
func GetCaller(ctx context.Context) *Caller {
	caller, ok := ctx.Value(callerKey).(*Caller)
	if !ok {
		return nil
	}
	return caller
}
