package predictions

import (
	"context"
	"io"

	"github.com/google/uuid"

	"github.com/aviario/postura/pkg/pagination"
)

// System defines the public contract for prediction history operations.
type System interface {
	Handler() *Handler

	List(
		ctx context.Context,
		page pagination.PageRequest,
		filters Filters,
	) (*pagination.PageResult[Prediction], error)

	Find(ctx context.Context, id uuid.UUID) (*Prediction, error)
	Image(ctx context.Context, id uuid.UUID) (io.ReadCloser, *Prediction, error)
	Record(ctx context.Context, cmd RecordCommand) (*Prediction, error)
	Delete(ctx context.Context, id uuid.UUID) error
}
