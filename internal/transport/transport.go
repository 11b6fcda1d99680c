package transport

import (
	"context"

	"github.com/zhukov-alex/flakeid/internal/idservice"
)

// Server exposes an idservice.Service over some protocol until ctx is done or
// Close is called.
type Server interface {
	Serve(ctx context.Context, svc idservice.Service) error
	Close(ctx context.Context) error
}
