// Package pdftext downloads PDF documents and extracts their plain text.
package pdftext

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/articler/docindex/internal/logging"
	"github.com/ledongthuc/pdf"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

var (
	// ErrInvalidURL indicates a URL that is not absolute http(s).
	ErrInvalidURL = errors.New("invalid pdf url")
	// ErrDownloadFailed indicates a transport error or a non-2xx response.
	ErrDownloadFailed = errors.New("pdf download failed")
	// ErrTooLarge indicates a body larger than the configured limit.
	ErrTooLarge = errors.New("pdf exceeds size limit")
	// ErrInvalidPDF indicates the body could not be parsed as a PDF.
	ErrInvalidPDF = errors.New("invalid pdf")
	// ErrNoText indicates a PDF without extractable text, such as a scan.
	ErrNoText = errors.New("pdf contains no text")
)

const (
	DefaultTimeout  = 60 * time.Second
	DefaultMaxBytes = 50 << 20
)

var tracer = otel.Tracer("docindex.pdftext")

// Config controls downloads.
type Config struct {
	Timeout   time.Duration `koanf:"timeout"`
	MaxBytes  int64         `koanf:"max_bytes"`
	UserAgent string        `koanf:"user_agent"`
}

// Extractor fetches PDFs over HTTP and returns their text.
type Extractor struct {
	client *http.Client
	cfg    Config
	logger *logging.Logger
}

// NewExtractor returns an Extractor. A nil client gets one with cfg.Timeout.
func NewExtractor(cfg Config, client *http.Client, logger *logging.Logger) *Extractor {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = DefaultMaxBytes
	}
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	if logger == nil {
		logger = logging.Nop()
	}
	return &Extractor{client: client, cfg: cfg, logger: logger.Named("pdftext")}
}

// FetchText downloads the PDF at rawURL and returns the text of all pages
// separated by newlines.
func (e *Extractor) FetchText(ctx context.Context, rawURL string) (string, error) {
	ctx, span := tracer.Start(ctx, "Extractor.FetchText")
	defer span.End()

	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return "", fmt.Errorf("%w: %q", ErrInvalidURL, rawURL)
	}
	span.SetAttributes(attribute.String("url.host", u.Host))

	data, err := e.download(ctx, u.String())
	if err != nil {
		e.logger.Warn(ctx, "pdf download failed", zap.String("host", u.Host), zap.Error(err))
		span.RecordError(err)
		return "", err
	}

	text, pages, err := Extract(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		e.logger.Warn(ctx, "pdf extraction failed",
			zap.String("host", u.Host), zap.Int("bytes", len(data)), zap.Error(err))
		span.RecordError(err)
		return "", err
	}
	span.SetAttributes(attribute.Int("pdf.pages", pages), attribute.Int("pdf.text_length", len(text)))
	e.logger.Debug(ctx, "pdf extracted",
		zap.String("host", u.Host),
		zap.Int("bytes", len(data)),
		zap.Int("pages", pages),
		zap.Int("text_length", len(text)))
	return text, nil
}

func (e *Extractor) download(ctx context.Context, target string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidURL, err)
	}
	req.Header.Set("Accept", "application/pdf")
	if e.cfg.UserAgent != "" {
		req.Header.Set("User-Agent", e.cfg.UserAgent)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDownloadFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%w: status %d", ErrDownloadFailed, resp.StatusCode)
	}
	if resp.ContentLength > e.cfg.MaxBytes {
		return nil, fmt.Errorf("%w: %d bytes", ErrTooLarge, resp.ContentLength)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, e.cfg.MaxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("%w: reading body: %w", ErrDownloadFailed, err)
	}
	if int64(len(data)) > e.cfg.MaxBytes {
		return nil, fmt.Errorf("%w: more than %d bytes", ErrTooLarge, e.cfg.MaxBytes)
	}
	return data, nil
}

// Extract returns the plain text of every page of the PDF in r and the
// page count. Pages without text are skipped.
func Extract(r io.ReaderAt, size int64) (text string, pages int, err error) {
	// The parser panics on some malformed inputs.
	defer func() {
		if rec := recover(); rec != nil {
			text, pages = "", 0
			err = fmt.Errorf("%w: %v", ErrInvalidPDF, rec)
		}
	}()

	reader, err := pdf.NewReader(r, size)
	if err != nil {
		return "", 0, fmt.Errorf("%w: %w", ErrInvalidPDF, err)
	}

	var sb strings.Builder
	pages = reader.NumPage()
	for i := 1; i <= pages; i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		pageText, err := page.GetPlainText(nil)
		if err != nil {
			return "", 0, fmt.Errorf("%w: page %d: %w", ErrInvalidPDF, i, err)
		}
		pageText = strings.TrimSpace(pageText)
		if pageText == "" {
			continue
		}
		if sb.Len() > 0 {
			sb.WriteByte('\n')
		}
		sb.WriteString(pageText)
	}

	if sb.Len() == 0 {
		return "", pages, ErrNoText
	}
	return sb.String(), pages, nil
}
