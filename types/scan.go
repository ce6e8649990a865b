package types

import "time"

// Scan is the metadata record of a dental scan whose image bytes live in
// external object storage.
type Scan struct {
	// ID is the unique identifier of the scan.
	ID int `json:"id" db:"id"`

	// PatientName is the free-text name of the patient.
	PatientName string `json:"patientName" db:"patient_name"`

	// PatientID is a free-text patient reference. It is not checked
	// against any patient registry.
	PatientID string `json:"patientId" db:"patient_id"`

	// ScanType is the categorical kind of scan (e.g., "Bitewing Radiograph").
	ScanType string `json:"scanType" db:"scan_type"`

	// Region is the categorical anatomical region (e.g., "Upper Right Quadrant").
	Region string `json:"region" db:"region"`

	// ImageURL is the public locator of the stored image. It is always
	// set and never changes once the scan exists.
	ImageURL string `json:"imageUrl" db:"image_url"`

	// UploadedBy is the ID of the technician that owns the scan.
	UploadedBy int `json:"uploadedBy" db:"uploaded_by"`

	// UploadDate is the creation time of the scan.
	UploadDate time.Time `json:"uploadDate" db:"upload_date"`

	// TechnicianName is the uploader's display name, populated on reads
	// that join the users table.
	TechnicianName string `json:"technicianName,omitempty" db:"technician_name"`
}

// ScanEventType names a scan lifecycle transition.
type ScanEventType string

const (
	ScanUploaded ScanEventType = "scan.uploaded"
	ScanDeleted  ScanEventType = "scan.deleted"
)

// ScanEvent is the message published after a scan is created or removed.
type ScanEvent struct {
	Type       ScanEventType `json:"type"`
	ScanID     int           `json:"scanId"`
	UploadedBy int           `json:"uploadedBy"`
	ImageURL   string        `json:"imageUrl,omitempty"`
	At         time.Time     `json:"at"`
}
