package ingestion

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/aimerfeng/docagent/internal/logging"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"github.com/rs/zerolog"
)

// SupportedExtensions are the file types with a dedicated parse path
var SupportedExtensions = []string{".txt", ".md", ".pdf", ".docx", ".html", ".htm"}

const doclingTimeout = 5 * time.Minute

var (
	directTextExtensions = map[string]bool{".txt": true, ".md": true}
	doclingExtensions    = map[string]bool{".pdf": true, ".docx": true, ".html": true, ".htm": true}

	directTextMimeTypes = map[string]bool{"text/plain": true, "text/markdown": true}
	doclingMimeTypes    = map[string]bool{
		"application/pdf": true,
		"application/vnd.openxmlformats-officedocument.wordprocessingml.document": true,
		"text/html": true,
	}
)

// Parser turns uploaded bytes into plain text
type Parser struct {
	doclingURL string
	httpClient *http.Client
	logger     zerolog.Logger
}

// NewParser creates a parser that converts binary formats through docling-serve
func NewParser(doclingURL string) *Parser {
	return &Parser{
		doclingURL: strings.TrimRight(doclingURL, "/"),
		httpClient: &http.Client{Timeout: doclingTimeout},
		logger:     logging.NewLogger("parser"),
	}
}

func extension(filename string) string {
	return strings.ToLower(filepath.Ext(filename))
}

func isPDF(filename, mimeType string) bool {
	return extension(filename) == ".pdf" || mimeType == "application/pdf"
}

// Parse returns the text of a document. Plain text and markdown are decoded
// directly; PDF, DOCX and HTML go through docling-serve; anything else is
// decoded as UTF-8 when it is valid UTF-8.
func (p *Parser) Parse(ctx context.Context, data []byte, filename, mimeType string) (string, error) {
	ext := extension(filename)

	if directTextExtensions[ext] || directTextMimeTypes[mimeType] {
		return string(data), nil
	}
	if doclingExtensions[ext] || doclingMimeTypes[mimeType] {
		return p.convert(ctx, data, filename)
	}

	if !utf8.Valid(data) {
		return "", fmt.Errorf("%w: %s", ErrUnsupportedType, filename)
	}
	p.logger.Warn().
		Str("extension", ext).
		Str("mime_type", mimeType).
		Msg("Unknown file type, decoding as text")
	return string(data), nil
}

// convert posts the file to docling-serve
func (p *Parser) convert(ctx context.Context, data []byte, filename string) (string, error) {
	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	part, err := w.CreateFormFile("files", filepath.Base(filename))
	if err != nil {
		return "", fmt.Errorf("failed to build conversion request: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return "", fmt.Errorf("failed to build conversion request: %w", err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("failed to build conversion request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.doclingURL+"/v1/convert/file", &body)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", w.FormDataContentType())

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("docling-serve request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return "", fmt.Errorf("docling-serve error (%d): %s", resp.StatusCode, string(msg))
	}

	var payload map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return "", fmt.Errorf("failed to decode docling-serve response: %w", err)
	}
	return doclingText(payload)
}

// doclingText pulls the converted text out of the known response shapes
func doclingText(payload map[string]any) (string, error) {
	if doc, ok := payload["document"].(map[string]any); ok {
		if s, ok := doc["md_content"].(string); ok {
			return s, nil
		}
	}
	for _, key := range []string{"md_content", "content", "text", "markdown", "result"} {
		if s, ok := payload[key].(string); ok {
			return s, nil
		}
	}

	raw, _ := json.Marshal(payload)
	return "", fmt.Errorf("unexpected docling-serve response shape: %s", logging.SanitizeForLog(string(raw), 200))
}

// ErrInvalidPDF is returned when a PDF upload cannot be read
var ErrInvalidPDF = errors.New("invalid PDF")

// pdfPageCount validates a PDF and returns its page count
func pdfPageCount(data []byte) (int, error) {
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed

	pages, err := api.PageCount(bytes.NewReader(data), conf)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrInvalidPDF, err)
	}
	return pages, nil
}
