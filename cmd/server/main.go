package main

import (
	"context"
	"log"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/openai/openai-go/option"
	"go.mongodb.org/mongo-driver/mongo"
	mongooptions "go.mongodb.org/mongo-driver/mongo/options"

	"github.com/fixwise/manualiq/pkg/auth"
	authmongo "github.com/fixwise/manualiq/pkg/auth/mongo"
	"github.com/fixwise/manualiq/pkg/blob/cloudinary"
	"github.com/fixwise/manualiq/pkg/chat"
	"github.com/fixwise/manualiq/pkg/config"
	"github.com/fixwise/manualiq/pkg/ingest"
	"github.com/fixwise/manualiq/pkg/knowledge"
	embopenai "github.com/fixwise/manualiq/pkg/knowledge/openai"
	postgresvec "github.com/fixwise/manualiq/pkg/knowledge/postgres"
	"github.com/fixwise/manualiq/pkg/knowledge/qdrant"
	llmopenai "github.com/fixwise/manualiq/pkg/llm/openai"
	manualsmongo "github.com/fixwise/manualiq/pkg/manuals/mongo"
	"github.com/fixwise/manualiq/pkg/memory"
	"github.com/fixwise/manualiq/pkg/reconcile"
	"github.com/fixwise/manualiq/pkg/rerank"
	"github.com/fixwise/manualiq/pkg/rerank/nvidia"
	"github.com/fixwise/manualiq/pkg/server"
)

func main() {
	cfg := config.Load()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var clientOpts []option.RequestOption
	if cfg.OpenAIBaseURL != "" {
		clientOpts = append(clientOpts, option.WithBaseURL(cfg.OpenAIBaseURL))
	}
	if cfg.OpenAIAPIKey != "" {
		clientOpts = append(clientOpts, option.WithAPIKey(cfg.OpenAIAPIKey))
	}

	provider := llmopenai.New(cfg.ChatModel, clientOpts...)
	embedder := embopenai.NewEmbedder(cfg.EmbedModel, cfg.EmbedDim, clientOpts...)

	vectors, err := newVectorStore(cfg)
	if err != nil {
		log.Fatalf("Failed to initialize vector store: %v", err)
	}

	mongoClient, err := mongo.Connect(ctx, mongooptions.Client().ApplyURI(cfg.MongoURI))
	if err != nil {
		log.Fatalf("Failed to connect to MongoDB: %v", err)
	}
	defer mongoClient.Disconnect(context.Background())
	if err := mongoClient.Ping(ctx, nil); err != nil {
		log.Fatalf("Failed to ping MongoDB: %v", err)
	}

	records := manualsmongo.New(mongoClient, cfg.MongoDB, cfg.MongoCollection)
	users := authmongo.New(mongoClient, cfg.MongoDB, "users")

	blobs, err := cloudinary.New(cfg.CloudinaryURL)
	if err != nil {
		log.Fatalf("Failed to initialize Cloudinary: %v", err)
	}

	mem, err := memory.NewFactory(ctx, memory.Config{
		Type:             memory.Type(cfg.MemoryBackend),
		ConnectionString: cfg.MemoryDSN,
	})
	if err != nil {
		log.Fatalf("Failed to initialize conversation memory: %v", err)
	}

	var reranker rerank.Reranker
	if cfg.RerankModel != "" {
		reranker = nvidia.New(cfg.RerankBaseURL, cfg.OpenAIAPIKey, cfg.RerankModel)
	}

	queue := reconcile.New(vectors, 0, 0)
	go queue.Run(ctx)

	ingestPipeline := ingest.New(blobs, records, embedder, vectors, queue, cfg.UploadDir)
	chatPipeline := chat.New(embedder, vectors, reranker, provider, mem, chat.Fallback(cfg.SearchFallback))

	authService := auth.New(users, cfg.JWTSecret, cfg.JWTExpiry)
	if err := authService.EnsureDefaultAdmin(ctx, cfg.DefaultAdminEmail, cfg.DefaultAdminPassword); err != nil {
		log.Fatalf("Failed to provision default admin: %v", err)
	}

	srv := server.New(ingestPipeline, chatPipeline, records, mem, authService, queue, vectors, provider, reranker, cfg.ListenAddr)
	if err := srv.Start(ctx); err != nil {
		log.Fatalf("Server failed: %v", err)
	}
}

func newVectorStore(cfg config.Config) (knowledge.VectorStore, error) {
	if cfg.VectorBackend == "postgres" {
		return postgresvec.New(cfg.PostgresDSN)
	}

	host, port, useTLS := parseQdrantURL(cfg.QdrantURL)
	return qdrant.New(qdrant.Config{
		Host:       host,
		Port:       port,
		APIKey:     cfg.QdrantAPIKey,
		UseTLS:     useTLS,
		Collection: cfg.QdrantCollection,
		VectorSize: uint64(cfg.EmbedDim),
	})
}

// parseQdrantURL accepts "host", "host:port" or a URL with an https
// scheme, defaulting to the gRPC port 6334.
func parseQdrantURL(raw string) (host string, port int, useTLS bool) {
	host, port = raw, 6334

	if rest, ok := strings.CutPrefix(host, "https://"); ok {
		host, useTLS = rest, true
	} else if rest, ok := strings.CutPrefix(host, "http://"); ok {
		host = rest
	}
	host = strings.TrimSuffix(host, "/")

	if i := strings.LastIndex(host, ":"); i >= 0 {
		if p, err := strconv.Atoi(host[i+1:]); err == nil {
			host, port = host[:i], p
		}
	}
	return host, port, useTLS
}
