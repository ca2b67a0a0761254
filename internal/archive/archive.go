// Package archive packages a thread's conversation and referenced files into
// a downloadable zip containing a rendered transcript document.
package archive

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/gomarkdown/markdown"
	"github.com/gomarkdown/markdown/html"
	"github.com/gomarkdown/markdown/parser"
	"go.uber.org/zap"

	"github.com/loomlabs/loom/backend/internal/chat"
	"github.com/loomlabs/loom/backend/internal/files"
	"github.com/loomlabs/loom/backend/internal/threads"
)

var (
	errMissingMessages = errors.New("archive: message source is required")
	noOpLogger         = zap.NewNop()
)

// MessageLister provides the thread's conversation for rendering.
type MessageLister interface {
	Messages(ctx context.Context, threadID string) ([]chat.Message, error)
}

// FileSource provides the thread's stored files for inclusion.
type FileSource interface {
	ListThreadFiles(ctx context.Context, threadID string) ([]files.BlobFile, error)
	Open(ctx context.Context, fileID string) (files.BlobFile, io.ReadCloser, error)
}

// BuilderConfig describes the dependencies for the archive builder.
type BuilderConfig struct {
	Messages MessageLister
	Files    FileSource
	Clock    func() time.Time
	Logger   *zap.Logger
}

// Builder produces thread archives.
type Builder struct {
	messages MessageLister
	files    FileSource
	clock    func() time.Time
	logger   *zap.Logger
}

// NewBuilder constructs an archive builder.
func NewBuilder(cfg BuilderConfig) (*Builder, error) {
	if cfg.Messages == nil {
		return nil, errMissingMessages
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Builder{messages: cfg.Messages, files: cfg.Files, clock: clock, logger: logger}, nil
}

// Build packages the thread into a zip: a rendered HTML transcript, the raw
// markdown transcript and copies of the thread's stored files. A failure
// fetching any one file is logged and that file is skipped; the archive is
// still produced with the rest.
func (b *Builder) Build(ctx context.Context, thread threads.Thread) ([]byte, string, error) {
	conversation, err := b.messages.Messages(ctx, thread.ThreadID)
	if err != nil {
		return nil, "", fmt.Errorf("archive: fetch messages: %w", err)
	}

	transcript := renderTranscript(thread, conversation, b.clock().UTC())

	var buf bytes.Buffer
	writer := zip.NewWriter(&buf)

	if err := writeEntry(writer, "conversation.md", []byte(transcript)); err != nil {
		return nil, "", err
	}
	if err := writeEntry(writer, "conversation.html", renderHTML(transcript)); err != nil {
		return nil, "", err
	}

	if b.files != nil {
		records, err := b.files.ListThreadFiles(ctx, thread.ThreadID)
		if err != nil {
			b.logger.Warn("thread file listing failed, archiving transcript only",
				zap.String("thread_id", thread.ThreadID), zap.Error(err))
			records = nil
		}
		for _, record := range records {
			if err := b.copyFile(ctx, writer, record); err != nil {
				b.logger.Warn("file skipped from archive",
					zap.String("file_id", record.FileID),
					zap.String("filename", record.Filename),
					zap.Error(err))
			}
		}
	}

	if err := writer.Close(); err != nil {
		return nil, "", fmt.Errorf("archive: close zip: %w", err)
	}
	return buf.Bytes(), fmt.Sprintf("thread-%s.zip", thread.ThreadID), nil
}

func (b *Builder) copyFile(ctx context.Context, writer *zip.Writer, record files.BlobFile) error {
	_, content, err := b.files.Open(ctx, record.FileID)
	if err != nil {
		return err
	}
	defer content.Close() //nolint:errcheck

	entry, err := writer.Create("files/" + safeFilename(record.Filename, record.FileID))
	if err != nil {
		return err
	}
	_, err = io.Copy(entry, content)
	return err
}

func renderTranscript(thread threads.Thread, conversation []chat.Message, exportedAt time.Time) string {
	var doc strings.Builder
	title := thread.Title
	if title == "" {
		title = thread.ThreadID
	}
	fmt.Fprintf(&doc, "# %s\n\n", title)
	fmt.Fprintf(&doc, "Exported %s\n\n", exportedAt.Format(time.RFC3339))
	for _, message := range conversation {
		heading := "Assistant"
		if message.Role == "user" {
			heading = "You"
		}
		timestamp := ""
		if message.CreatedAtSeconds > 0 {
			timestamp = " - " + time.Unix(message.CreatedAtSeconds, 0).UTC().Format("2006-01-02 15:04")
		}
		fmt.Fprintf(&doc, "## %s%s\n\n%s\n\n", heading, timestamp, message.Text)
	}
	return doc.String()
}

func renderHTML(transcript string) []byte {
	mdParser := parser.NewWithExtensions(parser.CommonExtensions | parser.AutoHeadingIDs)
	renderer := html.NewRenderer(html.RendererOptions{
		Flags: html.CommonFlags | html.CompletePage,
	})
	return markdown.ToHTML([]byte(transcript), mdParser, renderer)
}

func writeEntry(writer *zip.Writer, name string, content []byte) error {
	entry, err := writer.Create(name)
	if err != nil {
		return fmt.Errorf("archive: create %s: %w", name, err)
	}
	if _, err := entry.Write(content); err != nil {
		return fmt.Errorf("archive: write %s: %w", name, err)
	}
	return nil
}

func safeFilename(filename, fallback string) string {
	cleaned := strings.TrimSpace(filename)
	cleaned = strings.ReplaceAll(cleaned, "/", "_")
	cleaned = strings.ReplaceAll(cleaned, "\\", "_")
	if cleaned == "" || cleaned == "." || cleaned == ".." {
		return fallback
	}
	return cleaned
}
