package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/oralvis/apiserver/internal/mq"
	"github.com/oralvis/apiserver/internal/storage"
	"github.com/oralvis/apiserver/internal/store"
	"github.com/oralvis/apiserver/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memScanRepo struct {
	mu        sync.Mutex
	scans     map[int]types.Scan
	names     map[int]string
	nextID    int
	clock     time.Time
	createErr error
}

func newMemScanRepo(names map[int]string) *memScanRepo {
	return &memScanRepo{
		scans:  make(map[int]types.Scan),
		names:  names,
		nextID: 1,
		clock:  time.Date(2025, 1, 1, 9, 0, 0, 0, time.UTC),
	}
}

func (r *memScanRepo) List(ctx context.Context) ([]types.Scan, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	scans := make([]types.Scan, 0, len(r.scans))
	for _, scan := range r.scans {
		scan.TechnicianName = r.names[scan.UploadedBy]
		scans = append(scans, scan)
	}
	sort.Slice(scans, func(i, j int) bool {
		if !scans[i].UploadDate.Equal(scans[j].UploadDate) {
			return scans[i].UploadDate.After(scans[j].UploadDate)
		}
		return scans[i].ID > scans[j].ID
	})
	return scans, nil
}

func (r *memScanRepo) Get(ctx context.Context, id int) (types.Scan, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	scan, ok := r.scans[id]
	if !ok {
		return types.Scan{}, store.ErrNotFound
	}
	scan.TechnicianName = r.names[scan.UploadedBy]
	return scan, nil
}

func (r *memScanRepo) Create(ctx context.Context, scan types.Scan) (types.Scan, error) {
	if err := ctx.Err(); err != nil {
		return types.Scan{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.createErr != nil {
		return types.Scan{}, r.createErr
	}
	r.clock = r.clock.Add(time.Minute)
	scan.ID = r.nextID
	scan.UploadDate = r.clock
	r.nextID++
	r.scans[scan.ID] = scan
	return scan, nil
}

func (r *memScanRepo) DeleteOwned(ctx context.Context, id, ownerID int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	scan, ok := r.scans[id]
	if !ok || scan.UploadedBy != ownerID {
		return store.ErrNotFound
	}
	delete(r.scans, id)
	return nil
}

type fakeImageStore struct {
	calls    int
	err      error
	onUpload func()
}

func (f *fakeImageStore) UploadImage(ctx context.Context, folder, filename string, data []byte, contentType string) (storage.Object, error) {
	f.calls++
	if f.onUpload != nil {
		f.onUpload()
	}
	if f.err != nil {
		return storage.Object{}, f.err
	}
	key := fmt.Sprintf("%s/img-%d.jpg", folder, f.calls)
	return storage.Object{
		Key:         key,
		URL:         "https://cdn.example.com/" + key,
		Size:        int64(len(data)),
		ContentType: contentType,
	}, nil
}

type recordingPublisher struct {
	channels []string
	events   []types.ScanEvent
	attrs    []map[string]string
	err      error
}

func (p *recordingPublisher) Publish(ctx context.Context, channel string, data []byte, attrs map[string]string) (string, error) {
	if p.err != nil {
		return "", p.err
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	p.attrs = append(p.attrs, attrs)
	var event types.ScanEvent
	if err := json.Unmarshal(data, &event); err != nil {
		return "", err
	}
	p.channels = append(p.channels, channel)
	p.events = append(p.events, event)
	return fmt.Sprintf("msg-%d", len(p.events)), nil
}

var (
	johnTech  = types.Identity{ID: 1, Role: types.RoleTechnician, Name: "John Smith"}
	otherTech = types.Identity{ID: 3, Role: types.RoleTechnician, Name: "Amy Lee"}
	dentist   = types.Identity{ID: 2, Role: types.RoleDentist, Name: "Dr. Sarah Johnson"}
)

type scanFixture struct {
	svc    *ScanService
	repo   *memScanRepo
	images *fakeImageStore
	events *recordingPublisher
}

func newScanFixture() scanFixture {
	repo := newMemScanRepo(map[int]string{1: "John Smith", 2: "Dr. Sarah Johnson", 3: "Amy Lee"})
	images := &fakeImageStore{}
	events := &recordingPublisher{}
	svc := NewScanService(repo, images, events, ScanServiceOptions{Folder: "oralvis-scans"})
	return scanFixture{svc: svc, repo: repo, images: images, events: events}
}

func validUpload(patient string) UploadRequest {
	data := []byte("jpeg-bytes")
	return UploadRequest{
		PatientName: patient,
		PatientID:   "P-001",
		ScanType:    "Bitewing Radiograph",
		Region:      "Upper Right Quadrant",
		Image: &ImagePayload{
			Filename:    "scan.jpg",
			ContentType: "image/jpeg",
			Size:        int64(len(data)),
			Data:        data,
		},
	}
}

func TestUpload_StoresImageThenRecord(t *testing.T) {
	f := newScanFixture()

	scan, err := f.svc.Upload(context.Background(), johnTech, validUpload("John Doe"))
	require.NoError(t, err)

	assert.Equal(t, 1, scan.ID)
	assert.Equal(t, "John Doe", scan.PatientName)
	assert.Equal(t, johnTech.ID, scan.UploadedBy)
	assert.Equal(t, "John Smith", scan.TechnicianName)
	assert.Equal(t, "https://cdn.example.com/oralvis-scans/img-1.jpg", scan.ImageURL)
	assert.False(t, scan.UploadDate.IsZero())
	assert.Equal(t, 1, f.images.calls)

	stored, err := f.svc.Get(context.Background(), scan.ID)
	require.NoError(t, err)
	assert.Equal(t, scan.ImageURL, stored.ImageURL)

	require.Len(t, f.events.events, 1)
	assert.Equal(t, DefaultEventChannel, f.events.channels[0])
	assert.Equal(t, types.ScanUploaded, f.events.events[0].Type)
	assert.Equal(t, scan.ID, f.events.events[0].ScanID)
	assert.Equal(t, map[string]string{
		mq.AttrEventType:   "scan.uploaded",
		mq.AttrMessageID:   "scan.uploaded-1",
		mq.AttrContentType: "application/json",
	}, f.events.attrs[0])
}

func TestUpload_TrimsFields(t *testing.T) {
	f := newScanFixture()
	req := validUpload("  John Doe  ")
	req.Region = " Lower Left Quadrant\t"

	scan, err := f.svc.Upload(context.Background(), johnTech, req)
	require.NoError(t, err)
	assert.Equal(t, "John Doe", scan.PatientName)
	assert.Equal(t, "Lower Left Quadrant", scan.Region)
}

func TestUpload_RequiresTechnician(t *testing.T) {
	f := newScanFixture()

	_, err := f.svc.Upload(context.Background(), dentist, validUpload("John Doe"))
	assert.ErrorIs(t, err, ErrForbidden)
	assert.Zero(t, f.images.calls)
}

func TestUpload_IncompleteRequest(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*UploadRequest)
	}{
		{"missing patient name", func(r *UploadRequest) { r.PatientName = "" }},
		{"blank patient id", func(r *UploadRequest) { r.PatientID = "   " }},
		{"missing scan type", func(r *UploadRequest) { r.ScanType = "" }},
		{"missing region", func(r *UploadRequest) { r.Region = "" }},
		{"missing image", func(r *UploadRequest) { r.Image = nil }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newScanFixture()
			req := validUpload("John Doe")
			tt.mutate(&req)

			_, err := f.svc.Upload(context.Background(), johnTech, req)
			assert.ErrorIs(t, err, ErrIncompleteRequest)
			assert.Zero(t, f.images.calls)
			assert.Empty(t, f.repo.scans)
		})
	}
}

func TestUpload_InvalidPayload(t *testing.T) {
	tests := []struct {
		name  string
		image *ImagePayload
	}{
		{"pdf", &ImagePayload{Filename: "scan.pdf", ContentType: "application/pdf", Size: 3, Data: []byte("pdf")}},
		{"no content type", &ImagePayload{Filename: "scan", Size: 3, Data: []byte("raw")}},
		{"empty file", &ImagePayload{Filename: "scan.png", ContentType: "image/png"}},
		{"declared oversize", &ImagePayload{Filename: "scan.png", ContentType: "image/png", Size: MaxImageBytes + 1}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newScanFixture()
			req := validUpload("John Doe")
			req.Image = tt.image

			_, err := f.svc.Upload(context.Background(), johnTech, req)
			assert.ErrorIs(t, err, ErrInvalidPayload)
			assert.Zero(t, f.images.calls)
		})
	}
}

func TestUpload_SizeBoundary(t *testing.T) {
	f := newScanFixture()

	exact := validUpload("John Doe")
	exact.Image.Data = bytes.Repeat([]byte{0xff}, MaxImageBytes)
	exact.Image.Size = MaxImageBytes
	_, err := f.svc.Upload(context.Background(), johnTech, exact)
	require.NoError(t, err)
	assert.Equal(t, 1, f.images.calls)

	over := validUpload("John Doe")
	over.Image.Data = bytes.Repeat([]byte{0xff}, MaxImageBytes+1)
	over.Image.Size = MaxImageBytes + 1
	_, err = f.svc.Upload(context.Background(), johnTech, over)
	assert.ErrorIs(t, err, ErrInvalidPayload)
	assert.Equal(t, 1, f.images.calls)
}

func TestUpload_StorageFailureWritesNothing(t *testing.T) {
	f := newScanFixture()
	f.images.err = errors.New("cloud unreachable")

	_, err := f.svc.Upload(context.Background(), johnTech, validUpload("John Doe"))
	assert.ErrorIs(t, err, ErrStorageUnavailable)
	assert.Empty(t, f.repo.scans)
	assert.Empty(t, f.events.events)
}

func TestUpload_OversizedDimensionsAreInvalid(t *testing.T) {
	f := newScanFixture()
	f.images.err = fmt.Errorf("transform image: %w", storage.ErrImageTooLarge)

	_, err := f.svc.Upload(context.Background(), johnTech, validUpload("John Doe"))
	assert.ErrorIs(t, err, ErrInvalidPayload)
	assert.NotErrorIs(t, err, ErrStorageUnavailable)
	assert.Empty(t, f.repo.scans)
}

func TestUpload_CompletesAfterCallerCancels(t *testing.T) {
	f := newScanFixture()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	// The caller disconnects while the image is being written.
	f.images.onUpload = cancel

	scan, err := f.svc.Upload(ctx, johnTech, validUpload("John Doe"))
	require.NoError(t, err)
	assert.ErrorIs(t, ctx.Err(), context.Canceled)
	assert.Contains(t, f.repo.scans, scan.ID)
	require.Len(t, f.events.events, 1)
	assert.Equal(t, types.ScanUploaded, f.events.events[0].Type)
}

func TestUpload_CancelledBeforeValidationFails(t *testing.T) {
	f := newScanFixture()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.svc.Upload(ctx, johnTech, UploadRequest{})
	assert.ErrorIs(t, err, ErrIncompleteRequest)
	assert.Zero(t, f.images.calls)
}

func TestUpload_PersistenceFailure(t *testing.T) {
	f := newScanFixture()
	f.repo.createErr = errors.New("disk full")

	_, err := f.svc.Upload(context.Background(), johnTech, validUpload("John Doe"))
	assert.ErrorIs(t, err, ErrPersistence)
	assert.Equal(t, 1, f.images.calls)
	assert.Empty(t, f.events.events)
}

func TestUpload_PublishFailureIsIgnored(t *testing.T) {
	f := newScanFixture()
	f.events.err = errors.New("broker down")

	scan, err := f.svc.Upload(context.Background(), johnTech, validUpload("John Doe"))
	require.NoError(t, err)
	assert.Len(t, f.repo.scans, 1)
	assert.NotZero(t, scan.ID)
}

func TestList_NewestFirstWithTechnicianName(t *testing.T) {
	f := newScanFixture()
	ctx := context.Background()

	_, err := f.svc.Upload(ctx, johnTech, validUpload("John Doe"))
	require.NoError(t, err)
	_, err = f.svc.Upload(ctx, otherTech, validUpload("Jane Doe"))
	require.NoError(t, err)

	scans, err := f.svc.List(ctx, dentist)
	require.NoError(t, err)
	require.Len(t, scans, 2)
	assert.Equal(t, "Jane Doe", scans[0].PatientName)
	assert.Equal(t, "Amy Lee", scans[0].TechnicianName)
	assert.Equal(t, "John Doe", scans[1].PatientName)
	assert.Equal(t, "John Smith", scans[1].TechnicianName)
}

func TestList_EmptyAndForbidden(t *testing.T) {
	f := newScanFixture()

	scans, err := f.svc.List(context.Background(), dentist)
	require.NoError(t, err)
	assert.NotNil(t, scans)
	assert.Empty(t, scans)

	_, err = f.svc.List(context.Background(), johnTech)
	assert.ErrorIs(t, err, ErrForbidden)
}

func TestGet_NotFound(t *testing.T) {
	f := newScanFixture()

	_, err := f.svc.Get(context.Background(), 999)
	assert.ErrorIs(t, err, ErrScanNotFound)
}

func TestDelete_OwnerOnly(t *testing.T) {
	f := newScanFixture()
	ctx := context.Background()

	scan, err := f.svc.Upload(ctx, johnTech, validUpload("John Doe"))
	require.NoError(t, err)

	foreign := f.svc.Delete(ctx, otherTech, scan.ID)
	missing := f.svc.Delete(ctx, otherTech, 999)
	require.ErrorIs(t, foreign, ErrNotFoundOrForbidden)
	require.ErrorIs(t, missing, ErrNotFoundOrForbidden)
	assert.Equal(t, missing.Error(), foreign.Error())

	_, err = f.svc.Get(ctx, scan.ID)
	require.NoError(t, err)

	require.NoError(t, f.svc.Delete(ctx, johnTech, scan.ID))
	_, err = f.svc.Get(ctx, scan.ID)
	assert.ErrorIs(t, err, ErrScanNotFound)

	require.Len(t, f.events.events, 2)
	assert.Equal(t, types.ScanDeleted, f.events.events[1].Type)
	assert.Equal(t, scan.ID, f.events.events[1].ScanID)
}

func TestDelete_RequiresTechnician(t *testing.T) {
	f := newScanFixture()

	scan, err := f.svc.Upload(context.Background(), johnTech, validUpload("John Doe"))
	require.NoError(t, err)

	err = f.svc.Delete(context.Background(), dentist, scan.ID)
	assert.ErrorIs(t, err, ErrForbidden)
	assert.Len(t, f.repo.scans, 1)
}

func TestScanLifecycle(t *testing.T) {
	f := newScanFixture()
	ctx := context.Background()

	john, err := f.svc.Upload(ctx, johnTech, validUpload("John Doe"))
	require.NoError(t, err)
	jane, err := f.svc.Upload(ctx, johnTech, validUpload("Jane Doe"))
	require.NoError(t, err)

	scans, err := f.svc.List(ctx, dentist)
	require.NoError(t, err)
	require.Len(t, scans, 2)
	assert.Equal(t, jane.ID, scans[0].ID)
	assert.Equal(t, john.ID, scans[1].ID)

	require.NoError(t, f.svc.Delete(ctx, johnTech, john.ID))

	scans, err = f.svc.List(ctx, dentist)
	require.NoError(t, err)
	require.Len(t, scans, 1)
	assert.Equal(t, "Jane Doe", scans[0].PatientName)

	_, err = f.svc.Get(ctx, john.ID)
	assert.ErrorIs(t, err, ErrScanNotFound)
}
