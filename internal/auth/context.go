package auth

import "context"

type contextKey struct{}

// Actor identifies who issued a request.
type Actor struct {
	Name  string
	Admin bool
}

func WithActor(ctx context.Context, a Actor) context.Context {
	return context.WithValue(ctx, contextKey{}, a)
}

func FromContext(ctx context.Context) (Actor, bool) {
	a, ok := ctx.Value(contextKey{}).(Actor)
	return a, ok
}

// ActorName returns the actor's name, or "anonymous".
func ActorName(ctx context.Context) string {
	a, ok := FromContext(ctx)
	if !ok || a.Name == "" {
		return "anonymous"
	}
	return a.Name
}

func IsAdmin(ctx context.Context) bool {
	a, ok := FromContext(ctx)
	return ok && a.Admin
}
