package predictions

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/aviario/postura/pkg/pagination"
	"github.com/aviario/postura/pkg/query"
	"github.com/aviario/postura/pkg/repository"
	"github.com/aviario/postura/pkg/storage"
)

const insertQuery = `
	INSERT INTO predictions(id, filename, content_type, size_bytes, label, confidence, probabilities, storage_key)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	RETURNING id, filename, content_type, size_bytes, label, confidence, probabilities, storage_key, created_at`

type repo struct {
	db         *sql.DB
	storage    storage.System
	logger     *slog.Logger
	pagination pagination.Config
}

// New creates a prediction repository implementing the System interface.
// store may be nil, in which case uploaded images are not kept.
func New(
	db *sql.DB,
	store storage.System,
	logger *slog.Logger,
	pagination pagination.Config,
) System {
	return &repo{
		db:         db,
		storage:    store,
		logger:     logger.With("system", "predictions"),
		pagination: pagination,
	}
}

func (r *repo) Handler() *Handler {
	return NewHandler(r, r.logger, r.pagination)
}

func (r *repo) List(
	ctx context.Context,
	page pagination.PageRequest,
	filters Filters,
) (*pagination.PageResult[Prediction], error) {
	page.Normalize(r.pagination)

	qb := query.
		NewBuilder(projection, defaultSort).
		WhereSearch(page.Search, "Filename", "Label")

	filters.Apply(qb)

	if len(page.Sort) > 0 {
		qb.OrderByFields(page.Sort)
	}

	countSQL, countArgs := qb.BuildCount()
	total, err := repository.Count(ctx, r.db, countSQL, countArgs)
	if err != nil {
		return nil, fmt.Errorf("count predictions: %w", err)
	}

	pageSQL, pageArgs := qb.BuildPage(page.Page, page.PageSize)
	items, err := repository.Select(ctx, r.db, pageSQL, pageArgs, scanPrediction)
	if err != nil {
		return nil, fmt.Errorf("query predictions: %w", err)
	}

	result := pagination.NewPageResult(items, total, page.Page, page.PageSize)
	return &result, nil
}

func (r *repo) Find(ctx context.Context, id uuid.UUID) (*Prediction, error) {
	q, args := query.NewBuilder(projection).BuildSingle("ID", id)

	p, err := repository.Get(ctx, r.db, q, args, scanPrediction)
	if err != nil {
		return nil, repository.MapError(err, ErrNotFound, ErrDuplicate)
	}
	return &p, nil
}

func (r *repo) Image(ctx context.Context, id uuid.UUID) (io.ReadCloser, *Prediction, error) {
	p, err := r.Find(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	if p.StorageKey == nil || r.storage == nil {
		return nil, nil, ErrNoImage
	}

	body, err := r.storage.Download(ctx, *p.StorageKey)
	if err != nil {
		return nil, nil, fmt.Errorf("download prediction image: %w", err)
	}
	return body, p, nil
}

func (r *repo) Record(ctx context.Context, cmd RecordCommand) (*Prediction, error) {
	id := uuid.New()

	probs, err := json.Marshal(cmd.Probabilities)
	if err != nil {
		return nil, fmt.Errorf("encode probabilities: %w", err)
	}

	var key *string
	if r.storage != nil {
		k := buildStorageKey(id, sanitizeFilename(cmd.Filename))
		if err := r.storage.Upload(ctx, k, bytes.NewReader(cmd.Data), cmd.ContentType); err != nil {
			return nil, fmt.Errorf("upload prediction image: %w", err)
		}
		key = &k
	}

	args := []any{
		id,
		cmd.Filename,
		cmd.ContentType,
		int64(len(cmd.Data)),
		cmd.Label,
		cmd.Confidence,
		string(probs),
		key,
	}

	var p Prediction
	err = repository.WithTx(ctx, r.db, func(tx repository.Tx) error {
		var err error
		p, err = repository.Get(ctx, tx, insertQuery, args, scanPrediction)
		return err
	})

	if err != nil {
		if key != nil {
			if delErr := r.storage.Delete(ctx, *key); delErr != nil {
				r.logger.Warn("compensating blob delete failed", "key", *key, "error", delErr)
			}
		}
		return nil, repository.MapError(err, ErrNotFound, ErrDuplicate)
	}

	r.logger.Info("prediction recorded", "id", p.ID, "label", p.Label)
	return &p, nil
}

func (r *repo) Delete(ctx context.Context, id uuid.UUID) error {
	p, err := r.Find(ctx, id)
	if err != nil {
		return err
	}

	err = repository.WithTx(ctx, r.db, func(tx repository.Tx) error {
		return repository.ExecOne(ctx, tx, "DELETE FROM predictions WHERE id = $1", id)
	})
	if err != nil {
		return repository.MapError(err, ErrNotFound, ErrDuplicate)
	}

	if p.StorageKey != nil && r.storage != nil {
		if delErr := r.storage.Delete(ctx, *p.StorageKey); delErr != nil {
			r.logger.Warn(
				"blob delete failed after DB delete",
				"key", *p.StorageKey,
				"error", delErr,
			)
		}
	}

	r.logger.Info("prediction deleted", "id", id)
	return nil
}

func buildStorageKey(id uuid.UUID, filename string) string {
	return storage.Key("predictions", id.String(), filename)
}

func sanitizeFilename(name string) string {
	name = filepath.Base(name)
	if name == "." || name == ".." || name == "/" || name == "" {
		name = "imagem"
	}
	return url.PathEscape(name)
}
