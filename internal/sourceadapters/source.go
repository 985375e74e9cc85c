package sourceadapters

import (
	"context"
	"time"

	"github.com/bionicpro/reports-etl/internal/domain"
)

// ReferenceSource is satisfied by both CRMSource (direct mode) and
// CRMReplicaSource (CDC mode); the join stage depends only on this
// interface.
type ReferenceSource interface {
	ExtractReference(ctx context.Context, since time.Time, fn func(domain.CustomerProsthesis) error) error
}
