package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/fixwise/manualiq/pkg/knowledge"
	"github.com/fixwise/manualiq/pkg/llm"
	"github.com/fixwise/manualiq/pkg/memory"
	"github.com/fixwise/manualiq/pkg/rerank"
)

const (
	// searchLimit over-fetches candidates to leave room for reranking.
	searchLimit = 15
	// contextLimit caps how many chunks feed the prompt.
	contextLimit = 8
	// DefaultSessionID is used when the request carries no user id, so
	// callers that omit it share one conversation log.
	DefaultSessionID = "default_user"

	referencesHeading = "## Reference Documents"
)

var (
	// ErrMissingFilter is returned when company_name or product_name is
	// blank. The pipeline never searches without both.
	ErrMissingFilter = errors.New("both company_name and product_name are required to search for context")
	// ErrNoContext is returned when no chunk matches the filter.
	ErrNoContext = errors.New("no context found for the specified company and product combination")
)

// Fallback controls how far the search widens when the strict filter
// matches nothing.
type Fallback string

const (
	// FallbackStrict fails immediately on an empty strict match.
	FallbackStrict Fallback = "strict"
	// FallbackCompany retries with the company-only filter.
	FallbackCompany Fallback = "company"
	// FallbackUnfiltered retries company-only, then unfiltered.
	FallbackUnfiltered Fallback = "unfiltered"
)

// Request is one chat question scoped to a company/product pair.
type Request struct {
	Query       string `json:"query"`
	CompanyName string `json:"company_name"`
	ProductName string `json:"product_name"`
	UserID      string `json:"user_id,omitempty"`
}

// Pipeline answers questions by retrieving filtered manual chunks and
// forwarding them as context to the chat model.
type Pipeline struct {
	embedder knowledge.Embedder
	vectors  knowledge.VectorStore
	reranker rerank.Reranker // nil disables reranking
	provider llm.Provider
	memory   memory.Memory
	fallback Fallback
}

// New creates a Pipeline. reranker may be nil.
func New(embedder knowledge.Embedder, vectors knowledge.VectorStore, reranker rerank.Reranker, provider llm.Provider, mem memory.Memory, fallback Fallback) *Pipeline {
	if fallback == "" {
		fallback = FallbackStrict
	}
	return &Pipeline{
		embedder: embedder,
		vectors:  vectors,
		reranker: reranker,
		provider: provider,
		memory:   mem,
		fallback: fallback,
	}
}

// Answer runs the full retrieval and answer pipeline for one request.
func (p *Pipeline) Answer(ctx context.Context, req Request) (string, error) {
	if strings.TrimSpace(req.CompanyName) == "" || strings.TrimSpace(req.ProductName) == "" {
		return "", ErrMissingFilter
	}

	sessionID := req.UserID
	if sessionID == "" {
		sessionID = DefaultSessionID
	}

	vector, err := p.embedder.EmbedQuery(ctx, req.Query)
	if err != nil {
		return "", fmt.Errorf("failed to embed query: %w", err)
	}

	results, err := p.search(ctx, vector, req)
	if err != nil {
		return "", err
	}
	if len(results) == 0 {
		return "", ErrNoContext
	}

	results = p.rerankResults(ctx, req.Query, results)

	messages, sources, err := p.buildMessages(ctx, sessionID, req.Query, results)
	if err != nil {
		return "", err
	}

	answer, err := p.provider.Chat(ctx, messages)
	if err != nil {
		return "", err
	}

	answer = appendReferences(answer, sources)

	if err := p.memory.Append(ctx, sessionID, llm.Message{Role: llm.RoleUser, Content: req.Query}); err != nil {
		return "", fmt.Errorf("failed to save user message: %w", err)
	}
	if err := p.memory.Append(ctx, sessionID, llm.Message{Role: llm.RoleAssistant, Content: answer}); err != nil {
		return "", fmt.Errorf("failed to save assistant message: %w", err)
	}

	return answer, nil
}

// search performs the filtered similarity search, widening per the
// configured fallback breadth when a narrower filter matches nothing.
func (p *Pipeline) search(ctx context.Context, vector []float32, req Request) ([]knowledge.Chunk, error) {
	filters := []knowledge.Filter{
		{CompanyName: req.CompanyName, ProductName: req.ProductName},
	}
	switch p.fallback {
	case FallbackCompany:
		filters = append(filters, knowledge.Filter{CompanyName: req.CompanyName})
	case FallbackUnfiltered:
		filters = append(filters, knowledge.Filter{CompanyName: req.CompanyName}, knowledge.Filter{})
	}

	for i, filter := range filters {
		results, err := p.vectors.Search(ctx, vector, filter, searchLimit)
		if err != nil {
			return nil, fmt.Errorf("vector search failed: %w", err)
		}
		if len(results) > 0 {
			if i > 0 {
				slog.Warn("strict filter matched nothing, widened search",
					"company", req.CompanyName, "product", req.ProductName, "stage", i)
			}
			return results, nil
		}
	}
	return nil, nil
}

// rerankResults reorders candidates when a reranker is configured and
// caps the set at the context limit either way. Rerank failures keep the
// similarity order.
func (p *Pipeline) rerankResults(ctx context.Context, query string, results []knowledge.Chunk) []knowledge.Chunk {
	if p.reranker != nil {
		reranked, err := p.reranker.Rerank(ctx, query, results)
		if err != nil {
			slog.Warn("reranking failed, keeping similarity order", "error", err)
		} else {
			results = reranked
		}
	}
	if len(results) > contextLimit {
		results = results[:contextLimit]
	}
	return results
}

func (p *Pipeline) buildMessages(ctx context.Context, sessionID, query string, results []knowledge.Chunk) ([]llm.Message, []string, error) {
	contextText := formatContext(results)
	sources := collectSources(results)

	history, err := p.memory.History(ctx, sessionID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load conversation history: %w", err)
	}

	messages := make([]llm.Message, 0, len(history)+2)
	messages = append(messages, llm.Message{Role: llm.RoleSystem, Content: systemPrompt(contextText)})
	messages = append(messages, history...)
	messages = append(messages, llm.Message{Role: llm.RoleUser, Content: query})
	return messages, sources, nil
}

// formatContext concatenates each chunk's text with a labeled metadata
// block, preserving rank order.
func formatContext(results []knowledge.Chunk) string {
	blocks := make([]string, len(results))
	for i, chunk := range results {
		m := chunk.Metadata
		blocks[i] = fmt.Sprintf(
			"page_content: %s\npage_label: %s\ncompany_name: %s\nproduct_name: %s\nsource: %s\ntotal_pages: %d\npage: %d",
			chunk.Text, m.PageLabel, m.CompanyName, m.ProductName, m.Source, m.TotalPages, m.Page,
		)
	}
	return strings.Join(blocks, "\n\n\n")
}

// collectSources returns the distinct source URIs in rank order.
func collectSources(results []knowledge.Chunk) []string {
	seen := make(map[string]bool)
	var sources []string
	for _, chunk := range results {
		source := chunk.Metadata.Source
		if source == "" || seen[source] {
			continue
		}
		seen[source] = true
		sources = append(sources, source)
	}
	return sources
}

// appendReferences adds the reference section unless the model already
// emitted one despite being told not to.
func appendReferences(answer string, sources []string) string {
	if len(sources) == 0 || strings.Contains(answer, referencesHeading) {
		return answer
	}

	var b strings.Builder
	b.WriteString(answer)
	b.WriteString("\n\n" + referencesHeading + "\n")
	for _, source := range sources {
		b.WriteString(fmt.Sprintf("[%s](%s)\n\n", displayName(source), source))
	}
	return b.String()
}

// displayName derives a link label from the URI's trailing path segment.
func displayName(source string) string {
	if i := strings.LastIndex(source, "/"); i >= 0 && i < len(source)-1 {
		return source[i+1:]
	}
	return source
}

func systemPrompt(contextText string) string {
	return fmt.Sprintf(`You are an experienced technical expert who specializes in equipment manuals, troubleshooting, and maintenance. You provide helpful, human-like guidance based on the technical documentation provided.

## Response Guidelines:
- **Source Material**: Use ONLY the information provided in the Context below. Never add external knowledge or assumptions.
- **Missing Information**: If the requested information isn't in the Context, respond: "I couldn't find specific information about that in the available documentation. You might want to check with the manufacturer or your technical support team."
- **Scope**: Focus on manual guidance, troubleshooting, maintenance, and usage. For unrelated questions, say: "I specialize in equipment guidance and troubleshooting. I'd be happy to help with questions about usage, maintenance, or technical issues."
- **Safety First**: Always prioritize safety warnings and include power-off/unplugging steps when mentioned in the documentation.
- **Page References**: Include page labels in parentheses (Page X) for all information sourced from the documentation.

## Formatting Requirements:
- Use clear Markdown structure: a single # main heading, ## for major sections, ### for subsections.
- Use numbered lists (1., 2., 3.) for step-by-step instructions and bullet points for tips or general information.
- Use **bold text** for important warnings and > blockquotes for safety notes.
- Include page labels directly beside information in parentheses: (Page X).
- DO NOT include a "Reference Documents" section - this will be added automatically.
- NEVER include PDF URLs inline with content or at the end.

Context:
%s`, contextText)
}
