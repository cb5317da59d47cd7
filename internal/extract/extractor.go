// Package extract turns raw uploaded documents into normalized plain text.
package extract

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/tmc/langchaingo/documentloaders"
	"github.com/tmc/langchaingo/schema"
)

type Format string

const (
	FormatPDF      Format = "pdf"
	FormatText     Format = "text"
	FormatMarkdown Format = "markdown"
)

var (
	ErrUnsupported = errors.New("unsupported document format")
	ErrUnreadable  = errors.New("document is unreadable")
	ErrNoText      = errors.New("document contains no extractable text")
)

// Error is the ExtractionError of the pipeline. It always wraps one of
// ErrUnsupported, ErrUnreadable or ErrNoText.
type Error struct {
	Format Format
	Err    error
}

func (e *Error) Error() string {
	return fmt.Sprintf("extract %s: %v", e.Format, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// FormatFromName infers the document format from its file name.
func FormatFromName(name string) (Format, error) {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".pdf":
		return FormatPDF, nil
	case ".txt", ".text":
		return FormatText, nil
	case ".md", ".markdown":
		return FormatMarkdown, nil
	}
	return "", &Error{Format: Format(strings.TrimPrefix(filepath.Ext(name), ".")), Err: ErrUnsupported}
}

type Extractor struct{}

func NewExtractor() *Extractor {
	return &Extractor{}
}

// Extract loads every page of raw and joins the page texts with single
// spaces, with line breaks inside a page flattened to spaces. It returns
// either the full text or an *Error, never partial output.
func (e *Extractor) Extract(ctx context.Context, raw []byte, format Format) (text string, err error) {
	if len(raw) == 0 {
		return "", &Error{Format: format, Err: ErrUnreadable}
	}

	// The PDF parser panics on some malformed inputs.
	defer func() {
		if r := recover(); r != nil {
			slog.WarnContext(ctx, "document parser panicked", "format", format, "panic", r)
			text, err = "", &Error{Format: format, Err: fmt.Errorf("%w: %v", ErrUnreadable, r)}
		}
	}()

	var pages []schema.Document
	switch format {
	case FormatPDF:
		pages, err = documentloaders.NewPDF(bytes.NewReader(raw), int64(len(raw))).Load(ctx)
	case FormatText, FormatMarkdown:
		pages, err = documentloaders.NewText(bytes.NewReader(raw)).Load(ctx)
	default:
		return "", &Error{Format: format, Err: ErrUnsupported}
	}
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", &Error{Format: format, Err: fmt.Errorf("%w: %v", ErrUnreadable, err)}
	}

	text = Normalize(pages)
	if strings.TrimSpace(text) == "" {
		return "", &Error{Format: format, Err: ErrNoText}
	}

	slog.DebugContext(ctx, "extracted document text", "format", format, "pages", len(pages), "length", len(text))
	return text, nil
}

// Normalize flattens page boundaries and line breaks into whitespace.
func Normalize(pages []schema.Document) string {
	var b strings.Builder
	for _, p := range pages {
		content := strings.ReplaceAll(p.PageContent, "\r\n", " ")
		content = strings.ReplaceAll(content, "\n", " ")
		b.WriteString(content)
		b.WriteByte(' ')
	}
	return b.String()
}
