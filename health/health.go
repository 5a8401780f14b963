package health

import "context"

// ReadinessCheck is implemented by every external dependency the service
// cannot run without. The setup layer polls these into the healthz state.
type ReadinessCheck interface {
	IsReady(ctx context.Context) error
	Name() string
}
