package predictions

import (
	"context"

	"github.com/google/uuid"

	"github.com/aviario/postura/internal/inference"
)

type recorder struct {
	sys System
}

// Recorder adapts sys to the classification endpoint's history hook.
func Recorder(sys System) inference.Recorder {
	return recorder{sys: sys}
}

func (r recorder) Record(ctx context.Context, upload inference.Upload) (uuid.UUID, error) {
	p, err := r.sys.Record(ctx, RecordCommand{
		Data:          upload.Data,
		Filename:      upload.Filename,
		ContentType:   upload.ContentType,
		Label:         upload.Result.Label,
		Confidence:    upload.Result.Confidence(),
		Probabilities: upload.Result.Prob,
	})
	if err != nil {
		return uuid.Nil, err
	}
	return p.ID, nil
}
