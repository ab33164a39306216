package inference

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/aviario/postura/pkg/formatting"
	"github.com/aviario/postura/pkg/handlers"
	"github.com/aviario/postura/pkg/routes"
)

// PredictionIDHeader carries the id of the stored prediction record.
const PredictionIDHeader = "X-Prediction-ID"

// Upload is a classified image handed to a Recorder.
type Upload struct {
	Data        []byte
	Filename    string
	ContentType string
	Result      Prediction
}

// Recorder persists classified uploads.
type Recorder interface {
	Record(ctx context.Context, upload Upload) (uuid.UUID, error)
}

// Response is the body of a successful classification.
type Response struct {
	Status    string     `json:"status"`
	Resultado Prediction `json:"resultado"`
}

// Handler provides the classification and model endpoints.
type Handler struct {
	sys           System
	logger        *slog.Logger
	field         string
	maxUploadSize int64
	recorder      Recorder
}

// NewHandler creates a Handler. recorder may be nil.
func NewHandler(
	sys System,
	logger *slog.Logger,
	field string,
	maxUploadSize int64,
	recorder Recorder,
) *Handler {
	return &Handler{
		sys:           sys,
		logger:        logger.With("handler", "inference"),
		field:         field,
		maxUploadSize: maxUploadSize,
		recorder:      recorder,
	}
}

// Routes returns the route group for model introspection.
func (h *Handler) Routes() routes.Group {
	return routes.Group{
		Prefix: "/model",
		Routes: []routes.Route{
			{Method: "GET", Pattern: "", Handler: h.Model},
		},
	}
}

// Model returns the load state and metadata of the classifier.
func (h *Handler) Model(w http.ResponseWriter, r *http.Request) {
	handlers.RespondJSON(w, http.StatusOK, h.sys.Info())
}

// Analyze classifies the single image uploaded in the configured multipart field.
func (h *Handler) Analyze(w http.ResponseWriter, r *http.Request) {
	switch h.sys.State() {
	case StateReady:
	case StateFailed:
		handlers.RespondError(w, h.logger, http.StatusServiceUnavailable, ErrUnavailable)
		return
	default:
		handlers.RespondError(w, h.logger, http.StatusServiceUnavailable, ErrNotLoaded)
		return
	}

	data, filename, contentType, err := h.readImage(w, r)
	if err != nil {
		handlers.RespondError(w, h.logger, MapHTTPStatus(err), err)
		return
	}
	h.logger.Info(
		"image received",
		"filename", filename,
		"size", formatting.FormatBytes(int64(len(data)), 1),
	)

	result, err := h.sys.Classify(r.Context(), data)
	if err != nil {
		status := MapHTTPStatus(err)
		if status != http.StatusInternalServerError {
			handlers.RespondError(w, h.logger, status, err)
			return
		}
		h.logger.Error("classification failed", "filename", filename, "error", err)
		handlers.RespondErrorDetail(
			w, h.logger, status, ErrClassify,
			strings.TrimPrefix(err.Error(), ErrClassify.Error()+": "),
		)
		return
	}

	h.logger.Info(
		"image classified",
		"filename", filename,
		"prob", result.Prob,
		"label", result.Label,
	)

	if h.recorder != nil {
		id, err := h.recorder.Record(r.Context(), Upload{
			Data:        data,
			Filename:    filename,
			ContentType: contentType,
			Result:      *result,
		})
		if err != nil {
			h.logger.Warn("prediction not recorded", "error", err)
		} else {
			w.Header().Set(PredictionIDHeader, id.String())
		}
	}

	handlers.RespondJSON(w, http.StatusOK, Response{Status: "ok", Resultado: *result})
}

func (h *Handler) readImage(w http.ResponseWriter, r *http.Request) ([]byte, string, string, error) {
	if r.ContentLength > h.maxUploadSize {
		return nil, "", "", ErrTooLarge
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadSize)
	if err := r.ParseMultipartForm(h.maxUploadSize); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, "", "", ErrTooLarge
		}
		return nil, "", "", ErrNoImage
	}
	defer r.MultipartForm.RemoveAll()

	files := r.MultipartForm.File[h.field]
	switch {
	case len(files) == 0:
		return nil, "", "", ErrNoImage
	case len(files) > 1:
		return nil, "", "", ErrMultipleImages
	}

	header := files[0]
	file, err := header.Open()
	if err != nil {
		return nil, "", "", ErrNoImage
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return nil, "", "", ErrNoImage
	}

	return data, header.Filename, detectContentType(header.Header.Get("Content-Type"), data), nil
}

func detectContentType(header string, data []byte) string {
	header = strings.TrimSpace(header)
	if header != "" && header != "application/octet-stream" {
		return header
	}
	return http.DetectContentType(data)
}
