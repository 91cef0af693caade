package sessionkit

import "context"

type clientIPContextKey struct{}
type userContextKey struct{}

// WithClientIP attaches the caller's IP address to ctx. The Engine records
// it on audit events emitted for the request.
func WithClientIP(ctx context.Context, ip string) context.Context {
	return context.WithValue(ctx, clientIPContextKey{}, ip)
}

// WithUserContext attaches a free-form map to ctx. The map is passed
// through, unread, to every override, claim fetcher, and linking policy
// invoked while handling the request.
func WithUserContext(ctx context.Context, userContext map[string]any) context.Context {
	return context.WithValue(ctx, userContextKey{}, userContext)
}

func clientIPFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}

	ip, _ := ctx.Value(clientIPContextKey{}).(string)
	return ip
}

func userContextFromContext(ctx context.Context) map[string]any {
	if ctx == nil {
		return nil
	}

	uc, _ := ctx.Value(userContextKey{}).(map[string]any)
	return uc
}
