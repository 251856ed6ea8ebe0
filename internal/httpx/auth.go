// internal/httpx/auth.go
package httpx

import "context"

// Authorizer decides whether actor may use an administrative route. It
// returns an *outcome.Error when the actor is refused.
type Authorizer func(ctx context.Context, actor string) error

// AllowAll admits every actor.
func AllowAll(context.Context, string) error { return nil }
