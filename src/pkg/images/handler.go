package images

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"time"

	gwruntime "github.com/grpc-ecosystem/grpc-gateway/v2/runtime"
	oapiruntime "github.com/oapi-codegen/runtime"
	"github.com/progimage/progimage/src/pkg/format"
)

const (
	defaultMaxUploadBytes = 32 << 20
	defaultConvertTimeout = 30 * time.Second
)

type Handler struct {
	imageSvc       ImageService
	maxUploadBytes int64
	convertTimeout time.Duration
}

type ListEntry struct {
	ID          int64      `json:"id"`
	DisplayName string     `json:"display_name"`
	Status      string     `json:"status"`
	Format      format.Tag `json:"format"`
}

func writeError(w http.ResponseWriter, err error) {
	code := Code(err)
	status := gwruntime.HTTPStatusFromCode(code)
	if status >= http.StatusInternalServerError {
		slog.Error("request failed", "code", code, "error", err)
	}
	http.Error(w, err.Error(), status)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("Failed to encode JSON response", "error", err)
	}
}

func writeImage(w http.ResponseWriter, data []byte, tag format.Tag, filename string) {
	w.Header().Set("Content-Type", tag.MediaType())
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename=%q`, filename))
	if _, err := w.Write(data); err != nil {
		slog.Warn("Failed to write image response", "error", err)
	}
}

func bindID(pathParams map[string]string) (int64, error) {
	var id int64
	if err := oapiruntime.BindStyledParameterWithOptions("simple", "id", pathParams["id"], &id,
		oapiruntime.BindStyledParameterOptions{
			ParamLocation: oapiruntime.ParamLocationPath,
			Explode:       false,
			Required:      true,
		}); err != nil {
		return 0, err
	}
	return id, nil
}

func bindFormat(r *http.Request) (string, error) {
	var target string
	if err := oapiruntime.BindQueryParameter("form", true, true, "format", r.URL.Query(), &target); err != nil {
		return "", err
	}
	return target, nil
}

func readPart(fh *multipart.FileHeader) (data []byte, retErr error) {
	file, openErr := fh.Open()
	if openErr != nil {
		return nil, openErr
	}
	defer func() {
		if closeErr := file.Close(); closeErr != nil {
			retErr = errors.Join(retErr, closeErr)
		}
	}()
	return io.ReadAll(file)
}

func (h *Handler) parseForm(w http.ResponseWriter, r *http.Request) bool {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes)
	if parseErr := r.ParseMultipartForm(h.maxUploadBytes); parseErr != nil {
		http.Error(w, fmt.Sprintf("failed to parse form: %s", parseErr.Error()), http.StatusBadRequest)
		return false
	}
	return true
}

// Post uploads every part of the "files" field.
func (h *Handler) Post(w http.ResponseWriter, r *http.Request, pathParams map[string]string) {
	if !h.parseForm(w, r) {
		return
	}
	defer func() {
		if err := r.MultipartForm.RemoveAll(); err != nil {
			slog.Warn("Failed to remove multipart temp files", "error", err)
		}
	}()

	headers := r.MultipartForm.File["files"]
	if len(headers) == 0 {
		writeJSON(w, http.StatusBadRequest, []UploadOutcome{})
		return
	}

	items := make([]Item, 0, len(headers))
	for _, fh := range headers {
		data, readErr := readPart(fh)
		if readErr != nil {
			http.Error(w, "Failed to retrieve file: "+readErr.Error(), http.StatusBadRequest)
			return
		}
		items = append(items, Item{Name: fh.Filename, Data: data})
	}

	writeJSON(w, http.StatusOK, h.imageSvc.Upload(r.Context(), items))
}

func (h *Handler) List(w http.ResponseWriter, r *http.Request, pathParams map[string]string) {
	records, listErr := h.imageSvc.List(r.Context())
	if listErr != nil {
		writeError(w, fmt.Errorf("failed to list images: %w", listErr))
		return
	}

	entries := make([]ListEntry, 0, len(records))
	for _, rec := range records {
		entries = append(entries, ListEntry{
			ID:          rec.ID,
			DisplayName: rec.DisplayName,
			Status:      StatusOK,
			Format:      rec.Format,
		})
	}
	writeJSON(w, http.StatusOK, map[string][]ListEntry{"images": entries})
}

func (h *Handler) Get(w http.ResponseWriter, r *http.Request, pathParams map[string]string) {
	id, idErr := bindID(pathParams)
	if idErr != nil {
		http.Error(w, idErr.Error(), http.StatusBadRequest)
		return
	}

	obj, retrieveErr := h.imageSvc.Retrieve(r.Context(), id)
	if retrieveErr != nil {
		writeError(w, retrieveErr)
		return
	}
	writeImage(w, obj.Data, obj.Format, "retrieve_"+obj.DisplayName+obj.Format.Ext())
}

func (h *Handler) Convert(w http.ResponseWriter, r *http.Request, pathParams map[string]string) {
	id, idErr := bindID(pathParams)
	if idErr != nil {
		http.Error(w, idErr.Error(), http.StatusBadRequest)
		return
	}
	target, fmtErr := bindFormat(r)
	if fmtErr != nil {
		http.Error(w, fmtErr.Error(), http.StatusBadRequest)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.convertTimeout)
	defer cancel()

	obj, convertErr := h.imageSvc.Convert(ctx, id, target)
	if convertErr != nil {
		writeError(w, convertErr)
		return
	}
	writeImage(w, obj.Data, obj.Format, "retrieve_"+obj.DisplayName+obj.Format.Ext())
}

func (h *Handler) Delete(w http.ResponseWriter, r *http.Request, pathParams map[string]string) {
	id, idErr := bindID(pathParams)
	if idErr != nil {
		http.Error(w, idErr.Error(), http.StatusBadRequest)
		return
	}

	if removeErr := h.imageSvc.Remove(r.Context(), id); removeErr != nil {
		writeError(w, removeErr)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ConvertFile converts the uploaded "file" part without storing it.
func (h *Handler) ConvertFile(w http.ResponseWriter, r *http.Request, pathParams map[string]string) {
	target, fmtErr := bindFormat(r)
	if fmtErr != nil {
		http.Error(w, fmtErr.Error(), http.StatusBadRequest)
		return
	}
	if !h.parseForm(w, r) {
		return
	}
	defer func() {
		if err := r.MultipartForm.RemoveAll(); err != nil {
			slog.Warn("Failed to remove multipart temp files", "error", err)
		}
	}()

	headers := r.MultipartForm.File["file"]
	if len(headers) == 0 {
		http.Error(w, "Missing file parameter", http.StatusBadRequest)
		return
	}
	data, readErr := readPart(headers[0])
	if readErr != nil {
		http.Error(w, "Failed to retrieve file: "+readErr.Error(), http.StatusBadRequest)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.convertTimeout)
	defer cancel()

	converted, convertErr := h.imageSvc.ConvertAdHoc(ctx, data, target)
	if convertErr != nil {
		writeError(w, convertErr)
		return
	}
	tag := format.Normalize(target)
	writeImage(w, converted, tag, "converted_image"+tag.Ext())
}

// Register mounts the image routes on mux under rootPath.
func (h *Handler) Register(mux *gwruntime.ServeMux, rootPath string) error {
	routes := []struct {
		method  string
		pattern string
		handler gwruntime.HandlerFunc
	}{
		{http.MethodPost, rootPath + "/images", h.Post},
		{http.MethodGet, rootPath + "/images", h.List},
		{http.MethodGet, rootPath + "/images/{id}", h.Get},
		{http.MethodDelete, rootPath + "/images/{id}", h.Delete},
		{http.MethodGet, rootPath + "/images/{id}/convert", h.Convert},
		{http.MethodPost, rootPath + "/convert", h.ConvertFile},
	}
	for _, route := range routes {
		if err := mux.HandlePath(route.method, route.pattern, route.handler); err != nil {
			return fmt.Errorf("failed to register %s %s: %w", route.method, route.pattern, err)
		}
	}
	return nil
}

type HandlerOption func(*Handler)

func WithMaxUploadBytes(n int64) HandlerOption {
	return func(h *Handler) {
		if n > 0 {
			h.maxUploadBytes = n
		}
	}
}

func WithConvertTimeout(d time.Duration) HandlerOption {
	return func(h *Handler) {
		if d > 0 {
			h.convertTimeout = d
		}
	}
}

func CreateHandler(svc ImageService, opts ...HandlerOption) (*Handler, error) {
	if svc == nil {
		return nil, errors.New("image service is required")
	}
	h := &Handler{
		imageSvc:       svc,
		maxUploadBytes: defaultMaxUploadBytes,
		convertTimeout: defaultConvertTimeout,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h, nil
}
