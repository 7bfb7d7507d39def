package api

import (
	"errors"
	"io"
	"net/http"
	"os"
	"path/filepath"

	"gatekeeper/internal/account"
	"gatekeeper/internal/gate"
	"gatekeeper/internal/logger"
	"gatekeeper/internal/models"

	"github.com/google/uuid"
)

// Upload stores one multipart file under the uploads directory
// POST /api/upload
func (h *Handlers) Upload(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.uploads.Dir == "" {
		h.writeServiceError(w, r, account.NewNotSupportedError("Uploads are not enabled", nil))
		return
	}

	// headroom for the multipart framing around the file
	r.Body = http.MaxBytesReader(w, r.Body, h.uploads.MaxBytes+4096)
	file, header, err := r.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.writeErrorResponse(w, r, http.StatusRequestEntityTooLarge, models.ErrorCodePayloadTooLarge, "File is too large")
			return
		}
		h.writeErrorResponse(w, r, http.StatusBadRequest, models.ErrorCodeBadRequest, "A multipart field named file is required")
		return
	}
	defer file.Close()

	if header.Size > h.uploads.MaxBytes {
		h.writeErrorResponse(w, r, http.StatusRequestEntityTooLarge, models.ErrorCodePayloadTooLarge, "File is too large")
		return
	}

	if err := os.MkdirAll(h.uploads.Dir, 0o750); err != nil {
		h.writeServiceError(w, r, account.NewInternalError("Failed to store upload", err))
		return
	}

	id := uuid.NewString()
	name := filepath.Base(header.Filename)
	dst, err := os.OpenFile(filepath.Join(h.uploads.Dir, id+filepath.Ext(name)), os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o640)
	if err != nil {
		h.writeServiceError(w, r, account.NewInternalError("Failed to store upload", err))
		return
	}
	size, err := io.Copy(dst, io.LimitReader(file, h.uploads.MaxBytes))
	if closeErr := dst.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(dst.Name())
		h.writeServiceError(w, r, account.NewInternalError("Failed to store upload", err))
		return
	}

	var owner string
	if p, ok := gate.PrincipalFromContext(ctx); ok {
		owner = p.ID
	}
	logger.FromContext(ctx).InfoContext(ctx, "File uploaded", "upload_id", id, "size", size, "user_id", owner)

	h.writeJSONResponse(w, r, http.StatusCreated, models.NewDataResponse(&models.UploadResponse{
		ID:       id,
		Filename: name,
		Size:     size,
	}))
}
