package manuals

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when no manual record matches a lookup.
var ErrNotFound = errors.New("manual not found")

// ManualRecord is the authoritative record of one uploaded manual.
// Records are created on upload and deleted on removal; the only in-place
// update permitted is backfilling the QR fields.
type ManualRecord struct {
	ID              string    `json:"_id"`
	CompanyName     string    `json:"company_name"`
	ProductName     string    `json:"product_name"`
	ProductCode     string    `json:"product_code,omitempty"`
	Filename        string    `json:"filename"`
	StorageURI      string    `json:"uri"`
	StoragePublicID string    `json:"cloudinary_public_id"`
	QRURI           string    `json:"qr_uri,omitempty"`
	QRPublicID      string    `json:"qr_public_id,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
}

// Product returns the product identifier, preferring the product name and
// falling back to the legacy product code.
func (r ManualRecord) Product() string {
	if r.ProductName != "" {
		return r.ProductName
	}
	return r.ProductCode
}

// Store is the metadata store for manual records. It is the source of
// truth for a manual's existence; blob and vector entries are dependent
// artifacts kept best-effort consistent with it.
type Store interface {
	// Insert creates a record and returns its store-assigned id.
	Insert(ctx context.Context, rec ManualRecord) (string, error)
	// Companies returns the distinct company names with ingested manuals.
	Companies(ctx context.Context) ([]string, error)
	// ByCompany returns every record for a company.
	ByCompany(ctx context.Context, company string) ([]ManualRecord, error)
	// Latest returns the most recently inserted record, or ErrNotFound.
	Latest(ctx context.Context) (*ManualRecord, error)
	// FindByProduct returns the record matching the product name and
	// filename pair, or ErrNotFound.
	FindByProduct(ctx context.Context, productName, filename string) (*ManualRecord, error)
	// Delete removes the record by id.
	Delete(ctx context.Context, id string) error
	// SetQR backfills the QR fields on an existing record.
	SetQR(ctx context.Context, id, qrURI, qrPublicID string) error
	// WithoutQR returns records that have no QR code yet.
	WithoutQR(ctx context.Context) ([]ManualRecord, error)
}
