package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/fixwise/manualiq/pkg/auth"
	"github.com/fixwise/manualiq/pkg/blob"
	"github.com/fixwise/manualiq/pkg/chat"
	"github.com/fixwise/manualiq/pkg/ingest"
	"github.com/fixwise/manualiq/pkg/knowledge"
	vecmem "github.com/fixwise/manualiq/pkg/knowledge/inmemory"
	"github.com/fixwise/manualiq/pkg/llm"
	"github.com/fixwise/manualiq/pkg/manuals"
	memmem "github.com/fixwise/manualiq/pkg/memory/inmemory"
	"github.com/fixwise/manualiq/pkg/reconcile"
	"github.com/stretchr/testify/require"
)

type fakeBlobs struct{}

func (fakeBlobs) UploadFile(ctx context.Context, path, publicID string) (*blob.UploadResult, error) {
	return &blob.UploadResult{
		URI:      "https://cdn.example.com/raw/" + publicID + ".pdf",
		PublicID: "pdf_manuals/" + publicID,
	}, nil
}

func (fakeBlobs) UploadImage(ctx context.Context, data []byte, publicID string) (*blob.UploadResult, error) {
	return &blob.UploadResult{
		URI:      "https://cdn.example.com/image/" + publicID + ".png",
		PublicID: "qr_codes/" + publicID,
	}, nil
}

func (fakeBlobs) Delete(ctx context.Context, publicID string, raw bool) error { return nil }

type fakeRecords struct {
	nextID  int
	records map[string]manuals.ManualRecord
}

func (f *fakeRecords) Insert(ctx context.Context, rec manuals.ManualRecord) (string, error) {
	f.nextID++
	id := fmt.Sprintf("rec-%d", f.nextID)
	rec.ID = id
	f.records[id] = rec
	return id, nil
}

func (f *fakeRecords) Companies(ctx context.Context) ([]string, error) {
	seen := map[string]bool{}
	var companies []string
	for _, rec := range f.records {
		if !seen[rec.CompanyName] {
			seen[rec.CompanyName] = true
			companies = append(companies, rec.CompanyName)
		}
	}
	return companies, nil
}

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

func (f *fakeRecords) SetQR(ctx context.Context, id, qrURI, qrPublicID string) error { return nil }

func (f *fakeRecords) WithoutQR(ctx context.Context) ([]manuals.ManualRecord, error) {
	return nil, nil
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

type fakeProvider struct{}

func (fakeProvider) Chat(ctx context.Context, messages []llm.Message) (string, error) {
	return "# Resetting\nHold the reset button for ten seconds (Page 1).", nil
}

func (fakeProvider) ListModels(ctx context.Context) ([]string, error) { return nil, nil }
func (fakeProvider) Healthy(ctx context.Context) error                { return nil }

type fakeUsers struct {
	nextID int
	users  map[string]auth.User
}

func (f *fakeUsers) Insert(ctx context.Context, user auth.User) (string, error) {
	f.nextID++
	id := fmt.Sprintf("u-%d", f.nextID)
	user.ID = id
	f.users[id] = user
	return id, nil
}

func (f *fakeUsers) ByEmail(ctx context.Context, email string) (auth.User, error) {
	for _, user := range f.users {
		if user.Email == email {
			return user, nil
		}
	}
	return auth.User{}, auth.ErrUserNotFound
}

func (f *fakeUsers) ByID(ctx context.Context, id string) (auth.User, error) {
	user, ok := f.users[id]
	if !ok {
		return auth.User{}, auth.ErrUserNotFound
	}
	return user, nil
}

type fakeLoader struct{}

func (fakeLoader) Load(path string) (*ingest.PDFDocument, error) {
	doc := &ingest.PDFDocument{Info: ingest.PDFInfo{TotalPages: 3}}
	for i := 1; i <= 3; i++ {
		doc.Pages = append(doc.Pages, ingest.PDFPage{
			Number: i,
			Text:   fmt.Sprintf("page %d: hold the reset button for ten seconds", i),
		})
	}
	return doc, nil
}

func newTestServer(t *testing.T) http.Handler {
	t.Helper()

	vectors := vecmem.New()
	records := &fakeRecords{records: make(map[string]manuals.ManualRecord)}
	mem := memmem.New()
	queue := reconcile.New(vectors, 0, 0)

	ingestPipeline := ingest.New(fakeBlobs{}, records, fakeEmbedder{}, vectors, queue, t.TempDir())
	ingestPipeline.SetLoader(fakeLoader{})

	chatPipeline := chat.New(fakeEmbedder{}, vectors, nil, fakeProvider{}, mem, chat.FallbackStrict)
	authService := auth.New(&fakeUsers{users: make(map[string]auth.User)}, "test-secret", 0)

	srv := New(ingestPipeline, chatPipeline, records, mem, authService, queue, vectors, fakeProvider{}, nil, ":0")
	return srv.Handler()
}

func uploadPDF(t *testing.T, handler http.Handler, filename string) *httptest.ResponseRecorder {
	t.Helper()

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = part.Write([]byte("%PDF-1.4 fake"))
	require.NoError(t, err)
	require.NoError(t, writer.WriteField("company_name", "Acme"))
	require.NoError(t, writer.WriteField("product_name", "Widget"))
	require.NoError(t, writer.Close())

	req := httptest.NewRequest(http.MethodPost, "/upload_pdf/", &body)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func postJSON(handler http.Handler, path string, payload any) *httptest.ResponseRecorder {
	body, _ := json.Marshal(payload)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestUploadThenQuery(t *testing.T) {
	handler := newTestServer(t)

	rec := uploadPDF(t, handler, "widget.pdf")
	require.Equal(t, http.StatusOK, rec.Code)

	uploaded := decodeBody(t, rec)
	dbRecord := uploaded["db_record"].(map[string]any)
	require.Equal(t, "rec-1", dbRecord["_id"])
	require.Equal(t, "Acme", dbRecord["company_name"])

	rec = postJSON(handler, "/query/", map[string]string{
		"query":        "how do I reset it?",
		"company_name": "Acme",
		"product_name": "Widget",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	response := decodeBody(t, rec)["response"].(string)
	require.Contains(t, response, "## Reference Documents")
	require.Equal(t, 1, strings.Count(response, "](https://cdn.example.com/raw/"))
}

func TestQueryBlankCompany(t *testing.T) {
	handler := newTestServer(t)

	rec := postJSON(handler, "/query/", map[string]string{
		"query":        "anything",
		"company_name": "",
		"product_name": "Widget",
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestQueryNoContext(t *testing.T) {
	handler := newTestServer(t)

	rec := postJSON(handler, "/query/", map[string]string{
		"query":        "anything",
		"company_name": "Acme",
		"product_name": "Widget",
	})
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCompaniesAfterUpload(t *testing.T) {
	handler := newTestServer(t)
	uploadPDF(t, handler, "widget.pdf")

	req := httptest.NewRequest(http.MethodGet, "/companies/", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, []any{"Acme"}, decodeBody(t, rec)["companies"])

	req = httptest.NewRequest(http.MethodGet, "/companies/Acme/models/", nil)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	models := decodeBody(t, rec)["models"].([]any)
	require.Len(t, models, 1)
}

func TestDeleteManualRemovesModel(t *testing.T) {
	handler := newTestServer(t)
	uploadPDF(t, handler, "widget.pdf")

	form := "product_name=Widget&product_code=widget.pdf"
	req := httptest.NewRequest(http.MethodDelete, "/delete_manual/", strings.NewReader(form))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/companies/Acme/models/", nil)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	require.Empty(t, decodeBody(t, rec)["models"])
}

func TestConversationHistoryRoundTrip(t *testing.T) {
	handler := newTestServer(t)
	uploadPDF(t, handler, "widget.pdf")

	rec := postJSON(handler, "/query/", map[string]string{
		"query":        "how do I reset it?",
		"company_name": "Acme",
		"product_name": "Widget",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/conversation/history/", nil)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	body := decodeBody(t, rec)
	require.EqualValues(t, 2, body["total_messages"])

	req = httptest.NewRequest(http.MethodGet, "/conversation/clear/", nil)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/conversation/history/", nil)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	require.EqualValues(t, 0, decodeBody(t, rec)["total_messages"])
}

func TestHealthAlways200(t *testing.T) {
	handler := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/health/", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	body := decodeBody(t, rec)
	require.Equal(t, "healthy", body["status"])
	require.Equal(t, "not configured", body["reranker"])
}

func TestAuthFlow(t *testing.T) {
	handler := newTestServer(t)

	rec := postJSON(handler, "/auth/signup", map[string]string{
		"email":    "a@example.com",
		"password": "hunter2",
		"role":     "admin",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	token := decodeBody(t, rec)["access_token"].(string)
	require.NotEmpty(t, token)

	req := httptest.NewRequest(http.MethodGet, "/auth/me", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "a@example.com", decodeBody(t, rec)["email"])

	req = httptest.NewRequest(http.MethodGet, "/auth/admin-only", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	// No token at all.
	req = httptest.NewRequest(http.MethodGet, "/auth/me", nil)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAdminOnlyRejectsUserRole(t *testing.T) {
	handler := newTestServer(t)

	rec := postJSON(handler, "/auth/signup", map[string]string{
		"email":    "b@example.com",
		"password": "hunter2",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	token := decodeBody(t, rec)["access_token"].(string)

	req := httptest.NewRequest(http.MethodGet, "/auth/admin-only", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec2 := httptest.NewRecorder()
	handler.ServeHTTP(rec2, req)
	require.Equal(t, http.StatusForbidden, rec2.Code)
}

func TestSignupDuplicate(t *testing.T) {
	handler := newTestServer(t)

	rec := postJSON(handler, "/auth/signup", map[string]string{"email": "a@example.com", "password": "x"})
	require.Equal(t, http.StatusOK, rec.Code)
	rec = postJSON(handler, "/auth/signup", map[string]string{"email": "a@example.com", "password": "y"})
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestLoginWrongPassword(t *testing.T) {
	handler := newTestServer(t)

	rec := postJSON(handler, "/auth/signup", map[string]string{"email": "a@example.com", "password": "x"})
	require.Equal(t, http.StatusOK, rec.Code)
	rec = postJSON(handler, "/auth/login", map[string]string{"email": "a@example.com", "password": "wrong"})
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}
