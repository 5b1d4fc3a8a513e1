package ingest

import (
	"fmt"
	"log/slog"

	"github.com/ledongthuc/pdf"
)

// PDFPage is one page's extracted plain text.
type PDFPage struct {
	Number int
	Text   string
}

// PDFInfo is the document-level metadata read from the PDF info
// dictionary. Missing or unreadable fields stay empty.
type PDFInfo struct {
	Producer     string
	Creator      string
	CreationDate string
	ModDate      string
	TotalPages   int
}

// PDFDocument is a parsed manual: per-page text plus document metadata.
type PDFDocument struct {
	Pages []PDFPage
	Info  PDFInfo
}

// Loader parses a PDF file from disk.
type Loader interface {
	Load(path string) (*PDFDocument, error)
}

type pdfLoader struct{}

// NewPDFLoader returns the default PDF loader.
func NewPDFLoader() Loader {
	return pdfLoader{}
}

func (pdfLoader) Load(path string) (*PDFDocument, error) {
	f, r, err := pdf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open pdf: %w", err)
	}
	defer f.Close()

	doc := &PDFDocument{Info: readInfo(r)}
	total := r.NumPage()
	doc.Info.TotalPages = total

	for i := 1; i <= total; i++ {
		page := r.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			slog.Warn("failed to extract page text", "path", path, "page", i, "error", err)
			continue
		}
		doc.Pages = append(doc.Pages, PDFPage{Number: i, Text: text})
	}

	return doc, nil
}

// readInfo reads the info dictionary. The parser panics on some malformed
// dictionaries, so failures degrade to an empty PDFInfo.
func readInfo(r *pdf.Reader) (info PDFInfo) {
	defer func() {
		if rec := recover(); rec != nil {
			slog.Warn("failed to read pdf info dictionary", "panic", rec)
			info = PDFInfo{}
		}
	}()

	dict := r.Trailer().Key("Info")
	if dict.Kind() != pdf.Dict {
		return info
	}
	get := func(key string) string {
		v := dict.Key(key)
		if v.Kind() == pdf.String {
			return v.RawString()
		}
		return ""
	}
	info.Producer = get("Producer")
	info.Creator = get("Creator")
	info.CreationDate = get("CreationDate")
	info.ModDate = get("ModDate")
	return info
}
