package handlers

import (
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"net/http"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"

	"github.com/Brownie44l1/mnist-pad/internal/log"
	"github.com/Brownie44l1/mnist-pad/internal/model"
)

// maxUpload bounds multipart and raw image bodies.
const maxUpload = 10 << 20

type Handler struct {
	classifier *model.Classifier
	timeout    time.Duration
}

func NewHandler(classifier *model.Classifier, timeout time.Duration) *Handler {
	return &Handler{
		classifier: classifier,
		timeout:    timeout,
	}
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	state := h.classifier.State()
	status, code := "healthy", http.StatusOK
	if state != model.StateReady {
		status, code = "unavailable", http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]string{"status": status, "state": state.String()})
}

// Predict accepts an already converted tensor as JSON.
func (h *Handler) Predict(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	info, ok := h.classifier.Info()
	if !ok {
		writeError(w, model.ErrNotInitialized)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxUpload))
	if err != nil {
		http.Error(w, "Failed to read request body", http.StatusBadRequest)
		return
	}

	var req model.PredictionRequest
	if err := jsoniter.Unmarshal(body, &req); err != nil {
		http.Error(w, "Invalid JSON", http.StatusBadRequest)
		return
	}

	if expected := info.Input.Size(); len(req.Image) != expected {
		http.Error(w, fmt.Sprintf("Expected %d values, got %d", expected, len(req.Image)),
			http.StatusBadRequest)
		return
	}

	h.respond(w, r, h.classifier.Predict(req.Image))
}

// PredictFromImage accepts a drawing either as the "image" field of a
// multipart form or as a raw image/png or image/jpeg body.
func (h *Handler) PredictFromImage(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var src io.Reader
	if strings.HasPrefix(r.Header.Get("Content-Type"), "image/") {
		src = io.LimitReader(r.Body, maxUpload)
	} else {
		if err := r.ParseMultipartForm(maxUpload); err != nil {
			http.Error(w, "Failed to parse form", http.StatusBadRequest)
			return
		}
		file, header, err := r.FormFile("image")
		if err != nil {
			http.Error(w, "No image file provided. Use 'image' as the form field name", http.StatusBadRequest)
			return
		}
		defer file.Close()
		log.Debug("received file", "name", header.Filename, "size", header.Size)
		src = file
	}

	img, format, err := image.Decode(src)
	if err != nil {
		http.Error(w, "Invalid image format. Supported: JPEG, PNG", http.StatusBadRequest)
		return
	}
	log.Debug("decoded image", "format", format, "width", img.Bounds().Dx(), "height", img.Bounds().Dy())

	h.respond(w, r, h.classifier.Classify(img))
}

func (h *Handler) respond(w http.ResponseWriter, r *http.Request, f *model.Future[model.Result]) {
	ctx := r.Context()
	if h.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.timeout)
		defer cancel()
	}

	result, err := f.Wait(ctx)
	if err != nil {
		log.Warn("prediction failed", "path", r.URL.Path, "error", err)
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result.Response())
}

// StatusFor maps a classification error to an HTTP status.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, model.ErrNotInitialized), errors.Is(err, model.ErrClosed):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// writeError reports err verbatim so the client can show it as the result.
func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, StatusFor(err), model.ErrorResponse{Error: err.Error()})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := jsoniter.NewEncoder(w).Encode(v); err != nil {
		log.Error("failed to write response", "error", err)
	}
}
