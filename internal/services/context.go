package services

import "context"

// ensureContext guards against nil contexts passed from callers.
func ensureContext(ctx context.Context) context.Context {
	if ctx == nil {
		return context.Background()
	}
	return ctx
}
