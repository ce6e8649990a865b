package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/oralvis/apiserver/types"
)

// ScanRepository handles persistence for scans.
type ScanRepository struct {
	db  *sql.DB
	now func() time.Time
}

func NewScanRepository(db *sql.DB) *ScanRepository {
	return &ScanRepository{db: db, now: time.Now}
}

// List returns every scan joined with its uploader's name, newest first.
func (r *ScanRepository) List(ctx context.Context) ([]types.Scan, error) {
	const query = `
		SELECT s.id, s.patient_name, s.patient_id, s.scan_type, s.region,
		       s.image_url, s.uploaded_by, s.upload_date, u.name
		FROM scans s
		JOIN users u ON s.uploaded_by = u.id
		ORDER BY s.upload_date DESC, s.id DESC`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	scans := make([]types.Scan, 0)
	for rows.Next() {
		var scan types.Scan
		if err := rows.Scan(
			&scan.ID,
			&scan.PatientName,
			&scan.PatientID,
			&scan.ScanType,
			&scan.Region,
			&scan.ImageURL,
			&scan.UploadedBy,
			&scan.UploadDate,
			&scan.TechnicianName,
		); err != nil {
			return nil, err
		}
		scans = append(scans, scan)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return scans, nil
}

func (r *ScanRepository) Get(ctx context.Context, id int) (types.Scan, error) {
	const query = `
		SELECT s.id, s.patient_name, s.patient_id, s.scan_type, s.region,
		       s.image_url, s.uploaded_by, s.upload_date, u.name
		FROM scans s
		JOIN users u ON s.uploaded_by = u.id
		WHERE s.id = $1`
	var scan types.Scan
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&scan.ID,
		&scan.PatientName,
		&scan.PatientID,
		&scan.ScanType,
		&scan.Region,
		&scan.ImageURL,
		&scan.UploadedBy,
		&scan.UploadDate,
		&scan.TechnicianName,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return types.Scan{}, ErrNotFound
		}
		return types.Scan{}, err
	}
	return scan, nil
}

// Create inserts the scan and returns it with its assigned ID and upload date.
func (r *ScanRepository) Create(ctx context.Context, scan types.Scan) (types.Scan, error) {
	scan.UploadDate = r.now().UTC()

	const query = `
		INSERT INTO scans (patient_name, patient_id, scan_type, region, image_url, uploaded_by, upload_date)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id`
	if err := r.db.QueryRowContext(
		ctx,
		query,
		scan.PatientName,
		scan.PatientID,
		scan.ScanType,
		scan.Region,
		scan.ImageURL,
		scan.UploadedBy,
		scan.UploadDate,
	).Scan(&scan.ID); err != nil {
		return types.Scan{}, err
	}

	return scan, nil
}

// DeleteOwned removes the scan only when ownerID uploaded it. A missing
// scan and a scan owned by someone else both yield ErrNotFound.
func (r *ScanRepository) DeleteOwned(ctx context.Context, id, ownerID int) error {
	const query = `DELETE FROM scans WHERE id = $1 AND uploaded_by = $2`
	result, err := r.db.ExecContext(ctx, query, id, ownerID)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}
