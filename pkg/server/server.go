package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/fixwise/manualiq/pkg/auth"
	"github.com/fixwise/manualiq/pkg/chat"
	"github.com/fixwise/manualiq/pkg/ingest"
	"github.com/fixwise/manualiq/pkg/knowledge"
	"github.com/fixwise/manualiq/pkg/llm"
	"github.com/fixwise/manualiq/pkg/manuals"
	"github.com/fixwise/manualiq/pkg/memory"
	"github.com/fixwise/manualiq/pkg/reconcile"
	"github.com/fixwise/manualiq/pkg/rerank"
)

const maxUploadBytes = 64 << 20

// Server exposes the ingestion, retrieval and account operations over
// HTTP.
type Server struct {
	ingest   *ingest.Pipeline
	chat     *chat.Pipeline
	records  manuals.Store
	memory   memory.Memory
	auth     *auth.Service
	queue    *reconcile.Queue
	vectors  knowledge.VectorStore
	provider llm.Provider
	reranker rerank.Reranker

	addr string
}

// New creates a Server. reranker and queue may be nil.
func New(ingestPipeline *ingest.Pipeline, chatPipeline *chat.Pipeline, records manuals.Store, mem memory.Memory, authService *auth.Service, queue *reconcile.Queue, vectors knowledge.VectorStore, provider llm.Provider, reranker rerank.Reranker, addr string) *Server {
	return &Server{
		ingest:   ingestPipeline,
		chat:     chatPipeline,
		records:  records,
		memory:   mem,
		auth:     authService,
		queue:    queue,
		vectors:  vectors,
		provider: provider,
		reranker: reranker,
		addr:     addr,
	}
}

// Handler builds the route table with CORS and request logging applied.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /upload_pdf/{$}", s.handleUploadPDF)
	mux.HandleFunc("POST /upload_multiple_pdfs/{$}", s.handleUploadMultiplePDFs)
	mux.HandleFunc("GET /get_uploaded_files/{$}", s.handleUploadedFiles)
	mux.HandleFunc("POST /remove_file/{$}", s.handleRemoveFile)
	mux.HandleFunc("DELETE /delete_manual/{$}", s.handleDeleteManual)
	mux.HandleFunc("POST /generate_qr_for_existing/{$}", s.handleBackfillQR)

	mux.HandleFunc("GET /companies/{$}", s.handleCompanies)
	mux.HandleFunc("GET /companies/current/{$}", s.handleCurrentCompany)
	mux.HandleFunc("GET /companies/{company}/models/{$}", s.handleCompanyModels)

	mux.HandleFunc("POST /query/{$}", s.handleQuery)
	mux.HandleFunc("GET /health/{$}", s.handleHealth)
	mux.HandleFunc("GET /conversation/clear/{$}", s.handleClearConversation)
	mux.HandleFunc("GET /conversation/history/{$}", s.handleConversationHistory)
	mux.HandleFunc("GET /reconcile/status/{$}", s.handleReconcileStatus)

	mux.HandleFunc("POST /auth/signup", s.handleSignup)
	mux.HandleFunc("POST /auth/login", s.handleLogin)
	mux.Handle("GET /auth/me", s.requireUser(s.handleMe))
	mux.Handle("GET /auth/admin-only", s.requireAdmin(s.handleAdminOnly))

	return corsMiddleware(loggingMiddleware(mux))
}

// Start runs the server until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	server := &http.Server{
		Addr:        s.addr,
		Handler:     s.Handler(),
		ReadTimeout: 60 * time.Second,
		// Chat completions can take a while.
		WriteTimeout: 300 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("server shutdown failed", "error", err)
		}
	}()

	slog.Info("server starting", "addr", s.addr)
	err := server.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (s *Server) handleUploadPDF(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeError(w, fmt.Errorf("invalid multipart form: %w", errBadRequest))
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, fmt.Errorf("file is required: %w", errBadRequest))
		return
	}
	defer file.Close()

	result, err := s.ingest.Ingest(r.Context(), ingest.Upload{
		Filename:    header.Filename,
		Data:        file,
		CompanyName: r.FormValue("company_name"),
		ProductName: r.FormValue("product_name"),
		ProductCode: r.FormValue("product_code"),
	})
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"message":   fmt.Sprintf("PDF %s processed successfully", header.Filename),
		"files":     s.ingest.UploadedFiles(),
		"db_record": recordJSON(result.Record),
	})
}

func (s *Server) handleUploadMultiplePDFs(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeError(w, fmt.Errorf("invalid multipart form: %w", errBadRequest))
		return
	}
	headers := r.MultipartForm.File["files"]
	if len(headers) == 0 {
		writeError(w, fmt.Errorf("files are required: %w", errBadRequest))
		return
	}

	uploads := make([]ingest.Upload, 0, len(headers))
	for _, header := range headers {
		file, err := header.Open()
		if err != nil {
			writeError(w, fmt.Errorf("failed to open %s: %w", header.Filename, err))
			return
		}
		defer file.Close()
		uploads = append(uploads, ingest.Upload{
			Filename:    header.Filename,
			Data:        file,
			CompanyName: r.FormValue("company_name"),
			ProductName: r.FormValue("product_name"),
			ProductCode: r.FormValue("product_code"),
		})
	}

	results, totalChunks, err := s.ingest.IngestAll(r.Context(), uploads)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"message":      fmt.Sprintf("Processed %d files", len(uploads)),
		"files":        s.ingest.UploadedFiles(),
		"results":      results,
		"total_chunks": totalChunks,
	})
}

func (s *Server) handleUploadedFiles(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"files": s.ingest.UploadedFiles()})
}

func (s *Server) handleRemoveFile(w http.ResponseWriter, r *http.Request) {
	name := r.FormValue("file_name")
	if name == "" {
		writeError(w, fmt.Errorf("file_name is required: %w", errBadRequest))
		return
	}
	files, err := s.ingest.RemoveFile(name)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"message": fmt.Sprintf("File %s removed successfully", name),
		"files":   files,
	})
}

func (s *Server) handleDeleteManual(w http.ResponseWriter, r *http.Request) {
	form := parseBodyForm(r)
	productName := form.Get("product_name")
	productCode := form.Get("product_code")

	result, err := s.ingest.DeleteManual(r.Context(), productName, productCode)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"message":            fmt.Sprintf("Manual '%s' (%s) deleted successfully", productName, productCode),
		"mongo_deleted":      1,
		"cloudinary_deleted": result.BlobDeleted,
		"vector_points":      result.VectorPoints,
		"product_name":       productName,
		"product_code":       productCode,
	})
}

func (s *Server) handleBackfillQR(w http.ResponseWriter, r *http.Request) {
	updated, err := s.ingest.BackfillQR(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"message":       fmt.Sprintf("Generated QR codes for %d existing entries", updated),
		"updated_count": updated,
	})
}

func (s *Server) handleCompanies(w http.ResponseWriter, r *http.Request) {
	companies, err := s.records.Companies(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"companies": companies})
}

func (s *Server) handleCurrentCompany(w http.ResponseWriter, r *http.Request) {
	if company := s.ingest.CurrentCompany(); company != "" {
		writeJSON(w, http.StatusOK, map[string]any{"company_name": company})
		return
	}
	rec, err := s.records.Latest(r.Context())
	if errors.Is(err, manuals.ErrNotFound) {
		writeJSON(w, http.StatusOK, map[string]any{"company_name": nil})
		return
	}
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"company_name": rec.CompanyName})
}

func (s *Server) handleCompanyModels(w http.ResponseWriter, r *http.Request) {
	company := r.PathValue("company")
	records, err := s.records.ByCompany(r.Context(), company)
	if err != nil {
		writeError(w, err)
		return
	}

	models := make([]map[string]any, 0, len(records))
	for _, rec := range records {
		models = append(models, map[string]any{
			"_id":          rec.ID,
			"company_name": rec.CompanyName,
			"product_name": rec.ProductName,
			"filename":     rec.Filename,
			"uri":          rec.StorageURI,
			"qr_uri":       rec.QRURI,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"models": models})
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	var req chat.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, fmt.Errorf("invalid request body: %w", errBadRequest))
		return
	}

	answer, err := s.chat.Answer(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"response": answer})
}

// handleHealth reports per-component status. Component outages degrade
// the status but never fail the probe.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := map[string]any{"status": "healthy"}

	if err := s.vectors.Healthy(r.Context()); err != nil {
		status["vector_store"] = fmt.Sprintf("error: %v", err)
		status["status"] = "degraded"
	} else {
		status["vector_store"] = "available"
	}

	if err := s.provider.Healthy(r.Context()); err != nil {
		status["llm"] = fmt.Sprintf("error: %v", err)
		status["status"] = "degraded"
	} else {
		status["llm"] = "available"
	}

	if s.reranker == nil {
		status["reranker"] = "not configured"
	} else {
		status["reranker"] = "available"
	}

	writeJSON(w, http.StatusOK, status)
}

func (s *Server) handleClearConversation(w http.ResponseWriter, r *http.Request) {
	if err := s.memory.Clear(r.Context(), sessionID(r)); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"message": "Conversation memory cleared successfully"})
}

func (s *Server) handleConversationHistory(w http.ResponseWriter, r *http.Request) {
	history, err := s.memory.History(r.Context(), sessionID(r))
	if err != nil {
		writeError(w, err)
		return
	}

	conversation := make([]map[string]string, 0, len(history))
	for _, msg := range history {
		conversation = append(conversation, map[string]string{
			"role":    string(msg.Role),
			"content": msg.Content,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"total_messages": len(history),
		"conversation":   conversation,
	})
}

func (s *Server) handleReconcileStatus(w http.ResponseWriter, r *http.Request) {
	pending := []reconcile.Status{}
	if s.queue != nil {
		pending = s.queue.Pending()
	}
	writeJSON(w, http.StatusOK, map[string]any{"pending": pending})
}

type credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Role     string `json:"role,omitempty"`
}

func (s *Server) handleSignup(w http.ResponseWriter, r *http.Request) {
	var creds credentials
	if err := json.NewDecoder(r.Body).Decode(&creds); err != nil {
		writeError(w, fmt.Errorf("invalid request body: %w", errBadRequest))
		return
	}
	if creds.Email == "" || creds.Password == "" {
		writeError(w, fmt.Errorf("email and password are required: %w", errBadRequest))
		return
	}

	user, err := s.auth.Signup(r.Context(), creds.Email, creds.Password, creds.Role)
	if err != nil {
		writeError(w, err)
		return
	}
	token, err := s.auth.Login(r.Context(), creds.Email, creds.Password)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, tokenJSON(token, user))
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var creds credentials
	if err := json.NewDecoder(r.Body).Decode(&creds); err != nil {
		writeError(w, fmt.Errorf("invalid request body: %w", errBadRequest))
		return
	}

	token, err := s.auth.Login(r.Context(), creds.Email, creds.Password)
	if err != nil {
		writeError(w, err)
		return
	}
	user, err := s.auth.Verify(r.Context(), token)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, tokenJSON(token, user))
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	user := userFrom(r.Context())
	writeJSON(w, http.StatusOK, userJSON(user))
}

func (s *Server) handleAdminOnly(w http.ResponseWriter, r *http.Request) {
	user := userFrom(r.Context())
	writeJSON(w, http.StatusOK, map[string]any{
		"message": "This is an admin-only endpoint",
		"user":    user.Email,
	})
}

type contextKey string

const userKey contextKey = "user"

func userFrom(ctx context.Context) auth.User {
	user, _ := ctx.Value(userKey).(auth.User)
	return user
}

func (s *Server) requireUser(next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token == "" {
			writeError(w, auth.ErrInvalidToken)
			return
		}
		user, err := s.auth.Verify(r.Context(), token)
		if err != nil {
			writeError(w, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), userKey, user)))
	})
}

func (s *Server) requireAdmin(next http.HandlerFunc) http.Handler {
	return s.requireUser(func(w http.ResponseWriter, r *http.Request) {
		if userFrom(r.Context()).Role != auth.RoleAdmin {
			writeJSON(w, http.StatusForbidden, map[string]any{"detail": "Not enough permissions. Admin access required."})
			return
		}
		next.ServeHTTP(w, r)
	})
}

// errBadRequest marks validation failures for the status mapper.
var errBadRequest = errors.New("bad request")

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, errBadRequest),
		errors.Is(err, chat.ErrMissingFilter),
		errors.Is(err, ingest.ErrMissingProduct),
		errors.Is(err, ingest.ErrFileNotFound),
		errors.Is(err, auth.ErrEmailTaken),
		errors.Is(err, auth.ErrInvalidRole):
		status = http.StatusBadRequest
	case errors.Is(err, auth.ErrInvalidCredentials),
		errors.Is(err, auth.ErrInvalidToken),
		errors.Is(err, llm.ErrUnauthorized):
		status = http.StatusUnauthorized
	case errors.Is(err, llm.ErrForbidden):
		status = http.StatusForbidden
	case errors.Is(err, chat.ErrNoContext),
		errors.Is(err, llm.ErrModelNotFound),
		errors.Is(err, manuals.ErrNotFound):
		status = http.StatusNotFound
	}

	if status == http.StatusInternalServerError {
		slog.Error("request failed", "error", err)
	}
	writeJSON(w, status, map[string]any{"detail": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

func recordJSON(rec manuals.ManualRecord) map[string]any {
	return map[string]any{
		"_id":                  rec.ID,
		"company_name":         rec.CompanyName,
		"product_name":         rec.ProductName,
		"uri":                  rec.StorageURI,
		"cloudinary_public_id": rec.StoragePublicID,
		"qr_uri":               rec.QRURI,
		"qr_public_id":         rec.QRPublicID,
	}
}

func tokenJSON(token string, user auth.User) map[string]any {
	return map[string]any{
		"access_token": token,
		"token_type":   "bearer",
		"user":         userJSON(user),
	}
}

func userJSON(user auth.User) map[string]any {
	return map[string]any{
		"id":    user.ID,
		"email": user.Email,
		"role":  user.Role,
	}
}

func sessionID(r *http.Request) string {
	if id := r.URL.Query().Get("user_id"); id != "" {
		return id
	}
	return chat.DefaultSessionID
}

// parseBodyForm merges the query string with a urlencoded or multipart
// body. DELETE bodies are not parsed by ParseForm, so this does it by
// hand.
func parseBodyForm(r *http.Request) url.Values {
	values := r.URL.Query()
	contentType := r.Header.Get("Content-Type")
	switch {
	case strings.HasPrefix(contentType, "application/x-www-form-urlencoded"):
		body, err := io.ReadAll(r.Body)
		if err != nil {
			return values
		}
		parsed, err := url.ParseQuery(string(body))
		if err != nil {
			return values
		}
		for key, vals := range parsed {
			values[key] = append(values[key], vals...)
		}
	case strings.HasPrefix(contentType, "multipart/form-data"):
		if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
			return values
		}
		for key, vals := range r.MultipartForm.Value {
			values[key] = append(values[key], vals...)
		}
	}
	return values
}

func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		slog.Info("request", "method", r.Method, "path", r.URL.Path, "duration", time.Since(start))
	})
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if r.Method == http.MethodOptions {
			return
		}
		next.ServeHTTP(w, r)
	})
}
