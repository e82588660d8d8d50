package testutil

import (
	"context"
	"time"

	"trustnet/pkg/requestcontext"
)

// CallerContext returns a context carrying an authenticated caller and a pinned
// request clock, as the gateway middleware would leave it.
func CallerContext(id, role, entityID string, now time.Time) context.Context {
	ctx := requestcontext.WithCaller(context.Background(), requestcontext.Caller{ID: id, Role: role, EntityID: entityID})
	return requestcontext.WithTime(ctx, now)
}
