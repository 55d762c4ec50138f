package audit

import (
	"context"
)

// Repository is append-only. The trail is queried out of band (DBA tooling,
// warehouse export), never through this service.
type Repository interface {
	Create(ctx context.Context, e *Event) error
}
