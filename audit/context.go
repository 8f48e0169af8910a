package audit

import "context"

type actorKey struct{}

// SystemActor is recorded when a mutation happens outside an authenticated request.
const SystemActor = "system"

// WithActor attaches the acting username to ctx.
func WithActor(ctx context.Context, username string) context.Context {
	return context.WithValue(ctx, actorKey{}, username)
}

// ActorFrom returns the username stored by WithActor, or SystemActor.
func ActorFrom(ctx context.Context) string {
	if v, ok := ctx.Value(actorKey{}).(string); ok && v != "" {
		return v
	}
	return SystemActor
}
