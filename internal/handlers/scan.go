package handlers

import (
	"context"
	"errors"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/oralvis/apiserver/internal/logging"
	"github.com/oralvis/apiserver/internal/services"
	"github.com/oralvis/apiserver/types"
)

const (
	maxUploadBodyBytes = services.MaxImageBytes + 1<<20
	maxMultipartMemory = 12 << 20
	formFieldImage     = "scanImage"
	formFieldPatient   = "patientName"
	formFieldPatientID = "patientId"
	formFieldScanType  = "scanType"
	formFieldRegion    = "region"
)

// ScanUseCases is the scan service surface used over HTTP.
type ScanUseCases interface {
	Upload(ctx context.Context, uploader types.Identity, req services.UploadRequest) (types.Scan, error)
	List(ctx context.Context, caller types.Identity) ([]types.Scan, error)
	Get(ctx context.Context, id int) (types.Scan, error)
	Delete(ctx context.Context, requester types.Identity, id int) error
}

// ScanHandler provides HTTP handlers for scans.
type ScanHandler struct {
	scans  ScanUseCases
	logger logging.Logger
}

// NewScanHandler constructs a handler with the provided service.
func NewScanHandler(scans ScanUseCases, logger logging.Logger) *ScanHandler {
	if logger == nil {
		logger = logging.Discard()
	}
	return &ScanHandler{scans: scans, logger: logger}
}

// ScanRouter registers scan routes on the given router. Every route is
// authenticated; roles are checked after authentication. timeout, when set,
// wraps every route except upload, which must not be cut off once the
// image write has started.
func ScanRouter(r chi.Router, scans ScanUseCases, gate *Gate, logger logging.Logger, timeout func(http.Handler) http.Handler) {
	handler := NewScanHandler(scans, logger)

	r.Group(func(r chi.Router) {
		r.Use(gate.RequireAuth)

		r.With(gate.RequireRole(types.RoleTechnician)).Post("/upload", handler.UploadScan)

		r.Group(func(r chi.Router) {
			if timeout != nil {
				r.Use(timeout)
			}
			r.With(gate.RequireRole(types.RoleDentist)).Get("/", handler.ListScans)
			r.Route("/{scanID}", func(r chi.Router) {
				r.Get("/", handler.GetScan)
				r.With(gate.RequireRole(types.RoleTechnician)).Delete("/", handler.DeleteScan)
			})
		})
	})
}

func (h *ScanHandler) UploadScan(w http.ResponseWriter, r *http.Request) {
	identity, err := identityFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, "Access token required")
		return
	}

	req, err := parseUploadForm(w, r)
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeError(w, http.StatusBadRequest, "File too large")
			return
		}
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	scan, err := h.scans.Upload(r.Context(), identity, req)
	if err != nil {
		h.writeServiceError(w, r, err, "Upload failed")
		return
	}

	writeJSON(w, http.StatusOK, UploadResponse{
		Message:  "Scan uploaded successfully",
		ScanID:   scan.ID,
		ImageURL: scan.ImageURL,
	})
}

func (h *ScanHandler) ListScans(w http.ResponseWriter, r *http.Request) {
	identity, err := identityFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, "Access token required")
		return
	}

	scans, err := h.scans.List(r.Context(), identity)
	if err != nil {
		h.writeServiceError(w, r, err, "Database error")
		return
	}

	writeJSON(w, http.StatusOK, scans)
}

func (h *ScanHandler) GetScan(w http.ResponseWriter, r *http.Request) {
	id, ok := parseScanID(r)
	if !ok {
		h.writeServiceError(w, r, services.ErrScanNotFound, "")
		return
	}

	scan, err := h.scans.Get(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, r, err, "Database error")
		return
	}

	writeJSON(w, http.StatusOK, scan)
}

func (h *ScanHandler) DeleteScan(w http.ResponseWriter, r *http.Request) {
	identity, err := identityFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, "Access token required")
		return
	}

	id, ok := parseScanID(r)
	if !ok {
		h.writeServiceError(w, r, services.ErrNotFoundOrForbidden, "")
		return
	}

	if err := h.scans.Delete(r.Context(), identity, id); err != nil {
		h.writeServiceError(w, r, err, "Database error")
		return
	}

	writeJSON(w, http.StatusOK, MessageResponse{Message: "Scan deleted successfully"})
}

// writeServiceError maps service errors onto status codes. Unexpected
// errors are logged and answered with fallback only.
func (h *ScanHandler) writeServiceError(w http.ResponseWriter, r *http.Request, err error, fallback string) {
	switch {
	case errors.Is(err, services.ErrForbidden):
		writeError(w, http.StatusForbidden, "Insufficient permissions")
	case errors.Is(err, services.ErrIncompleteRequest):
		writeError(w, http.StatusBadRequest, "All fields are required")
	case errors.Is(err, services.ErrInvalidPayload):
		writeError(w, http.StatusBadRequest, invalidPayloadMessage(err))
	case errors.Is(err, services.ErrScanNotFound):
		writeError(w, http.StatusNotFound, "Scan not found")
	case errors.Is(err, services.ErrNotFoundOrForbidden):
		writeError(w, http.StatusNotFound, "Scan not found or you do not have permission to delete it")
	case errors.Is(err, services.ErrStorageUnavailable):
		h.logger.Error(r.Context(), "image storage failed", "path", r.URL.Path, "error", err)
		writeError(w, http.StatusBadGateway, "Upload failed: image storage unavailable")
	case errors.Is(err, services.ErrPersistence):
		h.logger.Error(r.Context(), "scan persistence failed", "path", r.URL.Path, "error", err)
		writeError(w, http.StatusInternalServerError, "Database error")
	default:
		h.logger.Error(r.Context(), "scan request failed", "path", r.URL.Path, "error", err)
		writeError(w, http.StatusInternalServerError, fallback)
	}
}

func invalidPayloadMessage(err error) string {
	msg := err.Error()
	if detail, ok := strings.CutPrefix(msg, services.ErrInvalidPayload.Error()+": "); ok {
		msg = detail
	}
	if msg == "" {
		return "Invalid image"
	}
	return strings.ToUpper(msg[:1]) + msg[1:]
}

// UploadResponse is returned after a successful upload.
type UploadResponse struct {
	Message  string `json:"message"`
	ScanID   int    `json:"scanId"`
	ImageURL string `json:"imageUrl"`
}

// parseScanID reports false for ids no scan row can have; callers answer
// those like any other missing scan.
func parseScanID(r *http.Request) (int, bool) {
	id, err := strconv.Atoi(chi.URLParam(r, "scanID"))
	if err != nil || id < 1 {
		return 0, false
	}
	return id, true
}

// parseUploadForm reads the multipart body. A body that is not multipart
// yields an empty request so the service reports the missing fields.
func parseUploadForm(w http.ResponseWriter, r *http.Request) (services.UploadRequest, error) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBodyBytes)
	if err := r.ParseMultipartForm(maxMultipartMemory); err != nil {
		if errors.Is(err, http.ErrNotMultipart) {
			return services.UploadRequest{}, nil
		}
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return services.UploadRequest{}, err
		}
		return services.UploadRequest{}, errors.New("invalid multipart form")
	}

	image, err := parseImageFile(r.MultipartForm)
	if err != nil {
		return services.UploadRequest{}, err
	}

	return services.UploadRequest{
		PatientName: r.FormValue(formFieldPatient),
		PatientID:   r.FormValue(formFieldPatientID),
		ScanType:    r.FormValue(formFieldScanType),
		Region:      r.FormValue(formFieldRegion),
		Image:       image,
	}, nil
}

func parseImageFile(form *multipart.Form) (*services.ImagePayload, error) {
	if form == nil {
		return nil, nil
	}

	files := form.File[formFieldImage]
	if len(files) == 0 {
		return nil, nil
	}
	if len(files) > 1 {
		return nil, errors.New("only one image file is allowed")
	}

	fileHeader := files[0]
	image := &services.ImagePayload{
		Filename:    fileHeader.Filename,
		ContentType: fileHeader.Header.Get("Content-Type"),
		Size:        fileHeader.Size,
	}
	// Oversize files are left unread; the service rejects them by size.
	if fileHeader.Size > services.MaxImageBytes {
		return image, nil
	}

	file, err := fileHeader.Open()
	if err != nil {
		return nil, errors.New("failed to read image file")
	}
	data, err := readFileLimited(file, services.MaxImageBytes)
	_ = file.Close()
	if err != nil {
		return nil, err
	}
	image.Data = data
	return image, nil
}
