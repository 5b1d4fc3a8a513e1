package ingest

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/fixwise/manualiq/pkg/blob"
	"github.com/fixwise/manualiq/pkg/knowledge"
	vecmem "github.com/fixwise/manualiq/pkg/knowledge/inmemory"
	"github.com/fixwise/manualiq/pkg/manuals"
	"github.com/fixwise/manualiq/pkg/reconcile"
	"github.com/stretchr/testify/require"
)

type fakeBlobs struct {
	uploadErr error
	uploads   []string
	deleted   []string
}

func (f *fakeBlobs) UploadFile(ctx context.Context, path, publicID string) (*blob.UploadResult, error) {
	if f.uploadErr != nil {
		return nil, f.uploadErr
	}
	f.uploads = append(f.uploads, publicID)
	return &blob.UploadResult{
		URI:      "https://cdn.example.com/raw/" + publicID,
		PublicID: "pdf_manuals/" + publicID,
	}, nil
}

func (f *fakeBlobs) UploadImage(ctx context.Context, data []byte, publicID string) (*blob.UploadResult, error) {
	return &blob.UploadResult{
		URI:      "https://cdn.example.com/image/" + publicID,
		PublicID: "qr_codes/" + publicID,
	}, nil
}

func (f *fakeBlobs) Delete(ctx context.Context, publicID string, raw bool) error {
	f.deleted = append(f.deleted, publicID)
	return nil
}

type fakeRecords struct {
	insertErr error
	nextID    int
	records   map[string]manuals.ManualRecord
}

func newFakeRecords() *fakeRecords {
	return &fakeRecords{records: make(map[string]manuals.ManualRecord)}
}

func (f *fakeRecords) Insert(ctx context.Context, rec manuals.ManualRecord) (string, error) {
	if f.insertErr != nil {
		return "", f.insertErr
	}
	f.nextID++
	id := fmt.Sprintf("rec-%d", f.nextID)
	rec.ID = id
	f.records[id] = rec
	return id, nil
}

func (f *fakeRecords) Companies(ctx context.Context) ([]string, error) { return nil, nil }

func (f *fakeRecords) ByCompany(ctx context.Context, company string) ([]manuals.ManualRecord, error) {
	var out []manuals.ManualRecord
	for _, rec := range f.records {
		if rec.CompanyName == company {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (f *fakeRecords) Latest(ctx context.Context) (*manuals.ManualRecord, error) {
	return nil, manuals.ErrNotFound
}

func (f *fakeRecords) FindByProduct(ctx context.Context, productName, filename string) (*manuals.ManualRecord, error) {
	for _, rec := range f.records {
		if rec.ProductName == productName && rec.Filename == filename {
			return &rec, nil
		}
	}
	return nil, manuals.ErrNotFound
}

func (f *fakeRecords) Delete(ctx context.Context, id string) error {
	if _, ok := f.records[id]; !ok {
		return manuals.ErrNotFound
	}
	delete(f.records, id)
	return nil
}

func (f *fakeRecords) SetQR(ctx context.Context, id, qrURI, qrPublicID string) error {
	rec, ok := f.records[id]
	if !ok {
		return manuals.ErrNotFound
	}
	rec.QRURI = qrURI
	rec.QRPublicID = qrPublicID
	f.records[id] = rec
	return nil
}

func (f *fakeRecords) WithoutQR(ctx context.Context) ([]manuals.ManualRecord, error) {
	var out []manuals.ManualRecord
	for _, rec := range f.records {
		if rec.QRURI == "" {
			out = append(out, rec)
		}
	}
	return out, nil
}

type fakeEmbedder struct{}

func (fakeEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	return []float32{1, 0, 0}, nil
}

func (fakeEmbedder) Embed(ctx context.Context, texts []string) ([]knowledge.Embedding, error) {
	embeddings := make([]knowledge.Embedding, len(texts))
	for i := range texts {
		embeddings[i] = knowledge.Embedding{Vector: []float32{1, 0, 0}}
	}
	return embeddings, nil
}

// failingVectors rejects every upsert so reconciliation paths can be
// observed.
type failingVectors struct {
	vecmem.Store
}

func (f *failingVectors) Upsert(ctx context.Context, embeddings []knowledge.Embedding, chunks []knowledge.Chunk) error {
	return errors.New("vector store unavailable")
}

// deleteFailingVectors accepts writes but rejects every deletion.
type deleteFailingVectors struct {
	vecmem.Store
}

func (f *deleteFailingVectors) DeleteByManual(ctx context.Context, manualID string) (int, error) {
	return 0, errors.New("vector store unavailable")
}

func (f *deleteFailingVectors) DeleteByProduct(ctx context.Context, productName, filename string) (int, error) {
	return 0, errors.New("vector store unavailable")
}

type fakeLoader struct {
	pages int
}

func (f fakeLoader) Load(path string) (*PDFDocument, error) {
	doc := &PDFDocument{Info: PDFInfo{TotalPages: f.pages, Producer: "TestWriter"}}
	for i := 1; i <= f.pages; i++ {
		doc.Pages = append(doc.Pages, PDFPage{
			Number: i,
			Text:   fmt.Sprintf("page %d: hold the reset button for ten seconds", i),
		})
	}
	return doc, nil
}

func newTestPipeline(t *testing.T, blobs blob.Store, records manuals.Store, vectors knowledge.VectorStore, queue *reconcile.Queue) *Pipeline {
	t.Helper()
	p := New(blobs, records, fakeEmbedder{}, vectors, queue, t.TempDir())
	p.SetLoader(fakeLoader{pages: 3})
	return p
}

func upload(name string) Upload {
	return Upload{
		Filename:    name,
		Data:        strings.NewReader("%PDF-1.4 fake"),
		CompanyName: "Acme",
		ProductName: "Widget",
	}
}

func TestIngestStampsRecordID(t *testing.T) {
	records := newFakeRecords()
	vectors := vecmem.New()
	queue := reconcile.New(vectors, 0, 0)
	p := newTestPipeline(t, &fakeBlobs{}, records, vectors, queue)

	result, err := p.Ingest(context.Background(), upload("widget.pdf"))
	require.NoError(t, err)
	require.Equal(t, "rec-1", result.Record.ID)
	require.Positive(t, result.Chunks)

	hits, err := vectors.Search(context.Background(), []float32{1, 0, 0}, knowledge.Filter{CompanyName: "Acme", ProductName: "Widget"}, 100)
	require.NoError(t, err)
	require.Len(t, hits, result.Chunks)
	for _, hit := range hits {
		require.Equal(t, "rec-1", hit.Metadata.DBID)
		require.Equal(t, result.Record.StorageURI, hit.Metadata.Source)
	}
}

func TestIngestCoversEveryPage(t *testing.T) {
	records := newFakeRecords()
	vectors := vecmem.New()
	p := newTestPipeline(t, &fakeBlobs{}, records, vectors, reconcile.New(vectors, 0, 0))

	result, err := p.Ingest(context.Background(), upload("widget.pdf"))
	require.NoError(t, err)

	hits, _ := vectors.Search(context.Background(), []float32{1, 0, 0}, knowledge.Filter{}, 100)
	pages := map[int]bool{}
	for _, hit := range hits {
		pages[hit.Metadata.Page] = true
		require.Equal(t, 3, hit.Metadata.TotalPages)
	}
	require.Equal(t, map[int]bool{1: true, 2: true, 3: true}, pages)
	require.Equal(t, len(hits), result.Chunks)
}

func TestIngestMissingProduct(t *testing.T) {
	records := newFakeRecords()
	vectors := vecmem.New()
	p := newTestPipeline(t, &fakeBlobs{}, records, vectors, reconcile.New(vectors, 0, 0))

	up := upload("widget.pdf")
	up.ProductName = ""
	_, err := p.Ingest(context.Background(), up)
	require.ErrorIs(t, err, ErrMissingProduct)
	require.Empty(t, records.records)
}

func TestIngestBlobFailureAborts(t *testing.T) {
	records := newFakeRecords()
	vectors := vecmem.New()
	blobs := &fakeBlobs{uploadErr: errors.New("cloud is down")}
	p := newTestPipeline(t, blobs, records, vectors, reconcile.New(vectors, 0, 0))

	_, err := p.Ingest(context.Background(), upload("widget.pdf"))
	require.Error(t, err)
	require.Empty(t, records.records)
	require.Zero(t, vectors.Len())
	require.Empty(t, p.UploadedFiles())
}

func TestIngestVectorFailureQueuesReconcile(t *testing.T) {
	records := newFakeRecords()
	vectors := &failingVectors{}
	queue := reconcile.New(vectors, 0, 0)
	p := newTestPipeline(t, &fakeBlobs{}, records, vectors, queue)

	result, err := p.Ingest(context.Background(), upload("widget.pdf"))
	require.NoError(t, err)
	require.Len(t, records.records, 1)
	require.Positive(t, result.Chunks)

	pending := queue.Pending()
	require.NotEmpty(t, pending)
	require.Equal(t, reconcile.KindUpsert, pending[0].Kind)
}

func TestIngestAllReportsPerFile(t *testing.T) {
	records := newFakeRecords()
	vectors := vecmem.New()
	p := newTestPipeline(t, &fakeBlobs{}, records, vectors, reconcile.New(vectors, 0, 0))

	results, total, err := p.IngestAll(context.Background(), []Upload{
		upload("widget.pdf"),
		upload("widget-2.pdf"),
	})
	require.NoError(t, err)
	require.Len(t, results, 2)
	for _, r := range results {
		require.Equal(t, "success", r.Status)
		require.NotEmpty(t, r.DBID)
	}
	require.Equal(t, results[0].Chunks+results[1].Chunks, total)
	require.Equal(t, []string{"widget.pdf", "widget-2.pdf"}, p.UploadedFiles())
	require.Equal(t, "Acme", p.CurrentCompany())
}

func TestDeleteManualAuthoritative(t *testing.T) {
	records := newFakeRecords()
	vectors := vecmem.New()
	p := newTestPipeline(t, &fakeBlobs{}, records, vectors, reconcile.New(vectors, 0, 0))

	result, err := p.Ingest(context.Background(), upload("widget.pdf"))
	require.NoError(t, err)

	deleted, err := p.DeleteManual(context.Background(), "Widget", "widget.pdf")
	require.NoError(t, err)
	require.Equal(t, result.Record.ID, deleted.Record.ID)
	require.True(t, deleted.BlobDeleted)
	require.Equal(t, result.Chunks, deleted.VectorPoints)
	require.Empty(t, records.records)
	require.Zero(t, vectors.Len())
}

func TestDeleteManualSurvivesVectorFailure(t *testing.T) {
	records := newFakeRecords()
	vectors := &deleteFailingVectors{}
	queue := reconcile.New(vectors, 0, 0)
	p := newTestPipeline(t, &fakeBlobs{}, records, vectors, queue)

	result, err := p.Ingest(context.Background(), upload("widget.pdf"))
	require.NoError(t, err)

	deleted, err := p.DeleteManual(context.Background(), "Widget", "widget.pdf")
	require.NoError(t, err)
	require.Equal(t, result.Record.ID, deleted.Record.ID)
	require.Zero(t, deleted.VectorPoints)
	require.Empty(t, records.records)

	pending := queue.Pending()
	require.Len(t, pending, 1)
	require.Equal(t, reconcile.KindDelete, pending[0].Kind)
	require.Equal(t, result.Record.ID, pending[0].ManualID)
}

func TestDeleteManualUnknown(t *testing.T) {
	records := newFakeRecords()
	vectors := vecmem.New()
	p := newTestPipeline(t, &fakeBlobs{}, records, vectors, reconcile.New(vectors, 0, 0))

	_, err := p.DeleteManual(context.Background(), "Widget", "no-such.pdf")
	require.ErrorIs(t, err, manuals.ErrNotFound)
}

func TestRemoveFile(t *testing.T) {
	records := newFakeRecords()
	vectors := vecmem.New()
	p := newTestPipeline(t, &fakeBlobs{}, records, vectors, reconcile.New(vectors, 0, 0))

	_, err := p.Ingest(context.Background(), upload("widget.pdf"))
	require.NoError(t, err)

	files, err := p.RemoveFile("widget.pdf")
	require.NoError(t, err)
	require.Empty(t, files)

	_, err = p.RemoveFile("widget.pdf")
	require.ErrorIs(t, err, ErrFileNotFound)
}

func TestBackfillQR(t *testing.T) {
	records := newFakeRecords()
	vectors := vecmem.New()
	p := newTestPipeline(t, &fakeBlobs{}, records, vectors, reconcile.New(vectors, 0, 0))

	id, err := records.Insert(context.Background(), manuals.ManualRecord{
		CompanyName: "Acme",
		ProductName: "Widget",
		Filename:    "widget.pdf",
	})
	require.NoError(t, err)

	updated, err := p.BackfillQR(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, updated)
	require.NotEmpty(t, records.records[id].QRURI)
}
