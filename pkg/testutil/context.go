package testutil

import (
	"context"
	"net/http"

	"custodia/pkg/domain"
	"custodia/pkg/requestcontext"
)

// WithActor injects an actor into the request context, simulating what the
// auth middleware does for an authenticated request.
func WithActor(req *http.Request, actor domain.Actor) *http.Request {
	return req.WithContext(requestcontext.WithActor(req.Context(), actor))
}

// AdminContext returns a context carrying an admin actor with every
// capability. Most service tests want an actor that passes all gates.
func AdminContext() context.Context {
	return requestcontext.WithActor(context.Background(), domain.Actor{
		ID:   "test-admin",
		Role: domain.RoleAdmin,
		Capabilities: []domain.Capability{
			domain.CapRevealSensitive,
			domain.CapModifyPolicy,
		},
	})
}

// ViewerContext returns a context carrying a viewer actor with no
// capabilities.
func ViewerContext() context.Context {
	return requestcontext.WithActor(context.Background(), domain.Actor{
		ID:   "test-viewer",
		Role: domain.RoleViewer,
	})
}

// WithContextValue adds an arbitrary key-value pair to the request context.
func WithContextValue(req *http.Request, key, value any) *http.Request {
	ctx := context.WithValue(req.Context(), key, value)
	return req.WithContext(ctx)
}
