package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oralvis/apiserver/internal/logging"
	"github.com/oralvis/apiserver/internal/mq"
	"github.com/oralvis/apiserver/internal/storage"
	"github.com/oralvis/apiserver/internal/store"
	"github.com/oralvis/apiserver/types"
)

// MaxImageBytes is the largest accepted scan image.
const MaxImageBytes = 10 << 20

// DefaultEventChannel carries scan lifecycle events.
const DefaultEventChannel = "scans.events"

// ScanRepository defines persistence operations for scans.
type ScanRepository interface {
	List(ctx context.Context) ([]types.Scan, error)
	Get(ctx context.Context, id int) (types.Scan, error)
	Create(ctx context.Context, scan types.Scan) (types.Scan, error)
	DeleteOwned(ctx context.Context, id, ownerID int) error
}

// ImageStore writes scan images to external object storage.
type ImageStore interface {
	UploadImage(ctx context.Context, folder, filename string, data []byte, contentType string) (storage.Object, error)
}

// EventPublisher delivers scan events to a message broker.
type EventPublisher interface {
	Publish(ctx context.Context, channel string, data []byte, attrs map[string]string) (string, error)
}

// ImagePayload is the uploaded image file. Size is the declared size; Data
// may be nil when Size already exceeds the limit.
type ImagePayload struct {
	Filename    string
	ContentType string
	Size        int64
	Data        []byte
}

// UploadRequest is the metadata and image of a new scan.
type UploadRequest struct {
	PatientName string
	PatientID   string
	ScanType    string
	Region      string
	Image       *ImagePayload
}

// ScanServiceOptions tunes a ScanService.
type ScanServiceOptions struct {
	Folder       string
	EventChannel string
	Logger       logging.Logger
}

// ScanService encapsulates scan use-cases: the two-phase upload and the
// role-scoped queries.
type ScanService struct {
	repo    ScanRepository
	images  ImageStore
	events  EventPublisher
	folder  string
	channel string
	logger  logging.Logger
	now     func() time.Time
}

func NewScanService(repo ScanRepository, images ImageStore, events EventPublisher, opts ScanServiceOptions) *ScanService {
	if events == nil {
		events = mq.New(mq.NopBackend{})
	}
	if opts.Folder == "" {
		opts.Folder = "oralvis-scans"
	}
	if opts.EventChannel == "" {
		opts.EventChannel = DefaultEventChannel
	}
	if opts.Logger == nil {
		opts.Logger = logging.Discard()
	}
	return &ScanService{
		repo:    repo,
		images:  images,
		events:  events,
		folder:  opts.Folder,
		channel: opts.EventChannel,
		logger:  opts.Logger.With("component", "scans"),
		now:     time.Now,
	}
}

// Upload stores the image externally and then records the scan. The scan
// row is only written once the image has a locator. If the row write fails
// the stored image is left in place.
func (s *ScanService) Upload(ctx context.Context, uploader types.Identity, req UploadRequest) (types.Scan, error) {
	if !uploader.HasRole(types.RoleTechnician) {
		return types.Scan{}, ErrForbidden
	}
	if err := validateUpload(&req); err != nil {
		return types.Scan{}, err
	}
	// Once the image write starts the upload runs to completion even if
	// the client goes away, so a stored image is never left half-recorded.
	ctx = context.WithoutCancel(ctx)

	s.logger.Info(ctx, "uploading scan image",
		"patient_id", req.PatientID,
		"scan_type", req.ScanType,
		"region", req.Region,
		"size", req.Image.Size,
		"content_type", req.Image.ContentType,
		"uploaded_by", uploader.ID,
	)

	obj, err := s.images.UploadImage(ctx, s.folder, req.Image.Filename, req.Image.Data, req.Image.ContentType)
	if err != nil {
		if errors.Is(err, storage.ErrImageTooLarge) {
			s.logger.Warn(ctx, "image rejected", "uploaded_by", uploader.ID, "error", err)
			return types.Scan{}, fmt.Errorf("%w: image dimensions are too large", ErrInvalidPayload)
		}
		s.logger.Error(ctx, "image upload failed", "uploaded_by", uploader.ID, "error", err)
		return types.Scan{}, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	s.logger.Info(ctx, "image stored", "key", obj.Key, "url", obj.URL)

	scan, err := s.repo.Create(ctx, types.Scan{
		PatientName: req.PatientName,
		PatientID:   req.PatientID,
		ScanType:    req.ScanType,
		Region:      req.Region,
		ImageURL:    obj.URL,
		UploadedBy:  uploader.ID,
	})
	if err != nil {
		s.logger.Error(ctx, "scan insert failed, stored image is orphaned", "key", obj.Key, "url", obj.URL, "error", err)
		return types.Scan{}, fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	scan.TechnicianName = uploader.Name
	s.logger.Info(ctx, "scan saved", "scan_id", scan.ID, "uploaded_by", uploader.ID)

	s.publish(ctx, types.ScanEvent{
		Type:       types.ScanUploaded,
		ScanID:     scan.ID,
		UploadedBy: scan.UploadedBy,
		ImageURL:   scan.ImageURL,
	})

	return scan, nil
}

// List returns all scans, newest first. Only dentists may list.
func (s *ScanService) List(ctx context.Context, caller types.Identity) ([]types.Scan, error) {
	if !caller.HasRole(types.RoleDentist) {
		return nil, ErrForbidden
	}
	scans, err := s.repo.List(ctx)
	if err != nil {
		return nil, err
	}
	s.logger.Debug(ctx, "fetched scans", "count", len(scans), "caller", caller.ID)
	return scans, nil
}

// Get returns one scan. Any authenticated role may read any scan.
func (s *ScanService) Get(ctx context.Context, id int) (types.Scan, error) {
	scan, err := s.repo.Get(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return types.Scan{}, ErrScanNotFound
		}
		return types.Scan{}, err
	}
	return scan, nil
}

// Delete removes a scan owned by the requesting technician.
func (s *ScanService) Delete(ctx context.Context, requester types.Identity, id int) error {
	if !requester.HasRole(types.RoleTechnician) {
		return ErrForbidden
	}
	if err := s.repo.DeleteOwned(ctx, id, requester.ID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrNotFoundOrForbidden
		}
		return err
	}
	s.logger.Info(ctx, "scan deleted", "scan_id", id, "requester", requester.ID)

	s.publish(ctx, types.ScanEvent{
		Type:       types.ScanDeleted,
		ScanID:     id,
		UploadedBy: requester.ID,
	})
	return nil
}

// publish is best-effort; a broker failure never fails the request.
func (s *ScanService) publish(ctx context.Context, event types.ScanEvent) {
	event.At = s.now().UTC()
	data, err := json.Marshal(event)
	if err != nil {
		s.logger.Warn(ctx, "encode scan event", "type", event.Type, "error", err)
		return
	}
	attrs := map[string]string{
		mq.AttrEventType:   string(event.Type),
		mq.AttrMessageID:   fmt.Sprintf("%s-%d", event.Type, event.ScanID),
		mq.AttrContentType: "application/json",
	}
	if _, err := s.events.Publish(ctx, s.channel, data, attrs); err != nil {
		s.logger.Warn(ctx, "publish scan event", "type", event.Type, "scan_id", event.ScanID, "error", err)
	}
}

func validateUpload(req *UploadRequest) error {
	req.PatientName = strings.TrimSpace(req.PatientName)
	req.PatientID = strings.TrimSpace(req.PatientID)
	req.ScanType = strings.TrimSpace(req.ScanType)
	req.Region = strings.TrimSpace(req.Region)

	if req.PatientName == "" || req.PatientID == "" || req.ScanType == "" || req.Region == "" || req.Image == nil {
		return ErrIncompleteRequest
	}

	contentType := strings.ToLower(strings.TrimSpace(req.Image.ContentType))
	if !strings.HasPrefix(contentType, "image/") {
		return fmt.Errorf("%w: only image files are allowed", ErrInvalidPayload)
	}
	if req.Image.Size > MaxImageBytes || int64(len(req.Image.Data)) > MaxImageBytes {
		return fmt.Errorf("%w: image exceeds %d bytes", ErrInvalidPayload, MaxImageBytes)
	}
	if len(req.Image.Data) == 0 {
		return fmt.Errorf("%w: image is empty", ErrInvalidPayload)
	}
	return nil
}
