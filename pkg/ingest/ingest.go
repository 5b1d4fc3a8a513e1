package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/fixwise/manualiq/pkg/blob"
	"github.com/fixwise/manualiq/pkg/knowledge"
	"github.com/fixwise/manualiq/pkg/manuals"
	"github.com/fixwise/manualiq/pkg/qr"
	"github.com/fixwise/manualiq/pkg/reconcile"
	"github.com/tmc/langchaingo/textsplitter"
)

const (
	chunkSize    = 1000
	chunkOverlap = 500
	// upsertBatchSize bounds memory and request size per vector-store call.
	upsertBatchSize = 50
)

var (
	// ErrMissingProduct is returned when neither product_name nor the
	// legacy product_code is supplied.
	ErrMissingProduct = errors.New("product_name or product_code is required")
	// ErrFileNotFound is returned when removing an unknown uploaded file.
	ErrFileNotFound = errors.New("file not found")
)

// Upload is one PDF to ingest.
type Upload struct {
	Filename    string
	Data        io.Reader
	CompanyName string
	ProductName string
	ProductCode string
}

// Result reports a completed single-file ingestion.
type Result struct {
	Record manuals.ManualRecord
	Chunks int
}

// FileResult is the per-file outcome of a batch ingestion.
type FileResult struct {
	Filename   string `json:"filename"`
	Status     string `json:"status"`
	Error      string `json:"error,omitempty"`
	Chunks     int    `json:"chunks,omitempty"`
	DBID       string `json:"db_id,omitempty"`
	StorageURI string `json:"cloudinary_uri,omitempty"`
	QRURI      string `json:"qr_uri,omitempty"`
}

// DeleteResult reports a best-effort cross-store deletion. The metadata
// record is authoritative; blob and vector outcomes are informational.
type DeleteResult struct {
	Record       manuals.ManualRecord
	BlobDeleted  bool
	VectorPoints int
}

// Pipeline ingests PDFs into the blob, metadata and vector stores.
type Pipeline struct {
	blobs     blob.Store
	records   manuals.Store
	embedder  knowledge.Embedder
	vectors   knowledge.VectorStore
	queue     *reconcile.Queue
	loader    Loader
	splitter  textsplitter.RecursiveCharacter
	uploadDir string

	mu             sync.Mutex
	uploadedFiles  []string
	currentCompany string
}

// New creates a Pipeline. uploadDir holds the temporary local copies that
// PDF parsing and blob upload both need.
func New(blobs blob.Store, records manuals.Store, embedder knowledge.Embedder, vectors knowledge.VectorStore, queue *reconcile.Queue, uploadDir string) *Pipeline {
	return &Pipeline{
		blobs:    blobs,
		records:  records,
		embedder: embedder,
		vectors:  vectors,
		queue:    queue,
		loader:   NewPDFLoader(),
		splitter: textsplitter.NewRecursiveCharacter(
			textsplitter.WithChunkSize(chunkSize),
			textsplitter.WithChunkOverlap(chunkOverlap),
		),
		uploadDir: uploadDir,
	}
}

// SetLoader overrides the PDF loader. Tests use this to avoid real PDFs.
func (p *Pipeline) SetLoader(loader Loader) {
	p.loader = loader
}

// Ingest processes one upload end to end.
func (p *Pipeline) Ingest(ctx context.Context, up Upload) (*Result, error) {
	product := resolveProduct(up)
	if product == "" {
		return nil, ErrMissingProduct
	}

	path, err := p.saveTemp(up)
	if err != nil {
		return nil, err
	}

	uploaded, err := p.blobs.UploadFile(ctx, path, fmt.Sprintf("%s_%s_%s", up.CompanyName, product, up.Filename))
	if err != nil {
		os.Remove(path)
		return nil, err
	}
	// The temp file is only guaranteed to be released once the blob holds
	// a durable copy.
	defer os.Remove(path)

	qrURI, qrPublicID := p.uploadQR(ctx, up.CompanyName, product, up.ProductCode)

	rec := manuals.ManualRecord{
		CompanyName:     up.CompanyName,
		ProductName:     product,
		ProductCode:     up.ProductCode,
		Filename:        up.Filename,
		StorageURI:      uploaded.URI,
		StoragePublicID: uploaded.PublicID,
		QRURI:           qrURI,
		QRPublicID:      qrPublicID,
	}
	id, err := p.records.Insert(ctx, rec)
	if err != nil {
		// The blob stays behind; the reconciliation queue only covers the
		// vector store, so this drift is visible in the blob store alone.
		return nil, fmt.Errorf("database insert failed: %w", err)
	}
	rec.ID = id

	chunks, err := p.chunkFile(path, up, product, uploaded.URI, id)
	if err != nil {
		return nil, err
	}

	p.upsertChunks(ctx, chunks)
	p.trackUpload(up.Filename, up.CompanyName)

	return &Result{Record: rec, Chunks: len(chunks)}, nil
}

// IngestAll processes several uploads, deferring the vector-store pass so
// all files share one batched upsert. Per-file failures are reported per
// file and do not abort siblings.
func (p *Pipeline) IngestAll(ctx context.Context, ups []Upload) ([]FileResult, int, error) {
	if len(ups) == 0 {
		return nil, 0, errors.New("no files provided")
	}

	results := make([]FileResult, 0, len(ups))
	var combined []knowledge.Chunk

	for _, up := range ups {
		product := resolveProduct(up)
		if product == "" {
			return nil, 0, ErrMissingProduct
		}

		chunks, rec, err := p.prepareFile(ctx, up, product)
		if err != nil {
			results = append(results, FileResult{
				Filename: up.Filename,
				Status:   "error",
				Error:    err.Error(),
			})
			continue
		}

		combined = append(combined, chunks...)
		p.trackUpload(up.Filename, up.CompanyName)
		results = append(results, FileResult{
			Filename:   up.Filename,
			Status:     "success",
			Chunks:     len(chunks),
			DBID:       rec.ID,
			StorageURI: rec.StorageURI,
			QRURI:      rec.QRURI,
		})
	}

	if len(combined) > 0 {
		p.upsertChunks(ctx, combined)
	}

	return results, len(combined), nil
}

// prepareFile runs the per-file steps of ingestion (temp file, blob, QR,
// record, chunking) without touching the vector store.
func (p *Pipeline) prepareFile(ctx context.Context, up Upload, product string) ([]knowledge.Chunk, *manuals.ManualRecord, error) {
	path, err := p.saveTemp(up)
	if err != nil {
		return nil, nil, err
	}

	uploaded, err := p.blobs.UploadFile(ctx, path, fmt.Sprintf("%s_%s_%s", up.CompanyName, product, up.Filename))
	if err != nil {
		os.Remove(path)
		return nil, nil, err
	}
	defer os.Remove(path)

	qrURI, qrPublicID := p.uploadQR(ctx, up.CompanyName, product, up.ProductCode)

	rec := manuals.ManualRecord{
		CompanyName:     up.CompanyName,
		ProductName:     product,
		ProductCode:     up.ProductCode,
		Filename:        up.Filename,
		StorageURI:      uploaded.URI,
		StoragePublicID: uploaded.PublicID,
		QRURI:           qrURI,
		QRPublicID:      qrPublicID,
	}
	id, err := p.records.Insert(ctx, rec)
	if err != nil {
		return nil, nil, fmt.Errorf("database insert failed: %w", err)
	}
	rec.ID = id

	chunks, err := p.chunkFile(path, up, product, uploaded.URI, id)
	if err != nil {
		return nil, nil, err
	}
	return chunks, &rec, nil
}

// chunkFile parses the PDF and splits every page into overlapping chunks
// carrying the full typed metadata. Info-dictionary failures degrade to a
// metadata set containing only the storage URI.
func (p *Pipeline) chunkFile(path string, up Upload, product, sourceURI, recordID string) ([]knowledge.Chunk, error) {
	doc, err := p.loader.Load(path)
	if err != nil {
		return nil, fmt.Errorf("failed to parse pdf %s: %w", up.Filename, err)
	}

	var chunks []knowledge.Chunk
	for _, page := range doc.Pages {
		texts, err := p.splitter.SplitText(page.Text)
		if err != nil {
			return nil, fmt.Errorf("failed to split page %d: %w", page.Number, err)
		}
		for _, text := range texts {
			chunks = append(chunks, knowledge.Chunk{
				Text: text,
				Metadata: knowledge.ChunkMetadata{
					CompanyName:  up.CompanyName,
					ProductName:  product,
					ProductCode:  up.ProductCode,
					Filename:     up.Filename,
					DBID:         recordID,
					Source:       sourceURI,
					Page:         page.Number,
					PageLabel:    fmt.Sprintf("%d", page.Number),
					TotalPages:   doc.Info.TotalPages,
					Producer:     doc.Info.Producer,
					Creator:      doc.Info.Creator,
					CreationDate: doc.Info.CreationDate,
					ModDate:      doc.Info.ModDate,
				},
			})
		}
	}
	return chunks, nil
}

// upsertChunks embeds and writes chunks in fixed-size batches. Batches
// run sequentially to bound load on the embedding API; a failed batch is
// handed to the reconciliation queue and skipped, so the manual is still
// considered uploaded with whatever chunks made it in.
func (p *Pipeline) upsertChunks(ctx context.Context, chunks []knowledge.Chunk) {
	texts := make([]string, len(chunks))
	for i, chunk := range chunks {
		texts[i] = chunk.Text
	}

	embeddings, err := p.embedder.Embed(ctx, texts)
	if err != nil {
		slog.Error("embedding failed, vector storage skipped", "chunks", len(chunks), "error", err)
		return
	}
	for i := range chunks {
		chunks[i].Metadata.Degraded = embeddings[i].Degraded
	}

	slog.Info("storing document chunks", "total", len(chunks), "batch_size", upsertBatchSize)
	for start := 0; start < len(chunks); start += upsertBatchSize {
		end := min(start+upsertBatchSize, len(chunks))
		batch := chunks[start:end]
		batchEmbeddings := embeddings[start:end]

		if err := p.vectors.Upsert(ctx, batchEmbeddings, batch); err != nil {
			slog.Warn("vector batch upsert failed, queued for reconciliation",
				"batch_start", start, "batch_size", len(batch), "error", err)
			p.queue.EnqueueUpsert(batchEmbeddings, batch, err)
			continue
		}
	}
}

// DeleteManual removes a manual everywhere. The metadata delete is
// authoritative; blob and vector deletions are best-effort, with failed
// vector deletions queued for reconciliation.
func (p *Pipeline) DeleteManual(ctx context.Context, productName, productCode string) (*DeleteResult, error) {
	// The legacy form stores the product code in the filename field.
	rec, err := p.records.FindByProduct(ctx, productName, productCode)
	if err != nil {
		return nil, err
	}

	if err := p.records.Delete(ctx, rec.ID); err != nil {
		return nil, fmt.Errorf("failed to delete manual record: %w", err)
	}

	result := &DeleteResult{Record: *rec}

	if rec.StoragePublicID != "" {
		if err := p.blobs.Delete(ctx, rec.StoragePublicID, true); err != nil {
			slog.Warn("blob deletion failed", "public_id", rec.StoragePublicID, "error", err)
		} else {
			result.BlobDeleted = true
		}
	}
	if rec.QRPublicID != "" {
		if err := p.blobs.Delete(ctx, rec.QRPublicID, false); err != nil {
			slog.Warn("qr deletion failed", "public_id", rec.QRPublicID, "error", err)
		}
	}

	points, err := p.vectors.DeleteByManual(ctx, rec.ID)
	if err != nil {
		slog.Warn("vector deletion failed, queued for reconciliation", "manual_id", rec.ID, "error", err)
		p.queue.EnqueueDelete(rec.ID, err)
	} else if points == 0 {
		// Older points may predate db_id payloads; fall back to the
		// product/filename pair.
		points, err = p.vectors.DeleteByProduct(ctx, rec.ProductName, rec.Filename)
		if err != nil {
			slog.Warn("vector deletion fallback failed", "manual_id", rec.ID, "error", err)
		}
	}
	result.VectorPoints = points

	return result, nil
}

// BackfillQR generates and attaches QR codes to records that lack one.
// Returns how many records were updated.
func (p *Pipeline) BackfillQR(ctx context.Context) (int, error) {
	records, err := p.records.WithoutQR(ctx)
	if err != nil {
		return 0, err
	}

	updated := 0
	for _, rec := range records {
		if rec.CompanyName == "" || rec.Product() == "" {
			continue
		}
		uri, publicID := p.uploadQR(ctx, rec.CompanyName, rec.Product(), rec.ProductCode)
		if uri == "" {
			continue
		}
		if err := p.records.SetQR(ctx, rec.ID, uri, publicID); err != nil {
			slog.Warn("failed to backfill qr fields", "record", rec.ID, "error", err)
			continue
		}
		updated++
	}
	return updated, nil
}

// uploadQR generates and uploads a QR code. Failures never gate an
// upload; they just leave the QR fields empty.
func (p *Pipeline) uploadQR(ctx context.Context, companyName, productName, productCode string) (uri, publicID string) {
	png, err := qr.Encode(companyName, productName, productCode)
	if err != nil {
		slog.Warn("qr generation failed", "company", companyName, "product", productName, "error", err)
		return "", ""
	}
	res, err := p.blobs.UploadImage(ctx, png, fmt.Sprintf("%s_%s_qr", companyName, productName))
	if err != nil {
		slog.Warn("qr upload failed", "company", companyName, "product", productName, "error", err)
		return "", ""
	}
	return res.URI, res.PublicID
}

// UploadedFiles returns the filenames uploaded since process start.
func (p *Pipeline) UploadedFiles() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	files := make([]string, len(p.uploadedFiles))
	copy(files, p.uploadedFiles)
	return files
}

// RemoveFile forgets an uploaded filename and removes any leftover local
// copy.
func (p *Pipeline) RemoveFile(name string) ([]string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for i, f := range p.uploadedFiles {
		if f == name {
			p.uploadedFiles = append(p.uploadedFiles[:i], p.uploadedFiles[i+1:]...)
			os.Remove(filepath.Join(p.uploadDir, name))
			files := make([]string, len(p.uploadedFiles))
			copy(files, p.uploadedFiles)
			return files, nil
		}
	}
	return nil, ErrFileNotFound
}

// CurrentCompany returns the company of the most recent upload, if any.
func (p *Pipeline) CurrentCompany() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.currentCompany
}

func (p *Pipeline) trackUpload(filename, companyName string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.uploadedFiles = append(p.uploadedFiles, filename)
	p.currentCompany = companyName
}

func (p *Pipeline) saveTemp(up Upload) (string, error) {
	if err := os.MkdirAll(p.uploadDir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create upload dir: %w", err)
	}
	path := filepath.Join(p.uploadDir, filepath.Base(up.Filename))
	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("failed to create temp file: %w", err)
	}
	if _, err := io.Copy(f, up.Data); err != nil {
		f.Close()
		os.Remove(path)
		return "", fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(path)
		return "", err
	}
	return path, nil
}

func resolveProduct(up Upload) string {
	if up.ProductName != "" {
		return up.ProductName
	}
	return up.ProductCode
}
