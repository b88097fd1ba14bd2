package s3blob

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/arbscanner/internal/domain"
)

// HistoryPruner is the slice of the history store the archiver needs. The
// Postgres store satisfies it.
type HistoryPruner interface {
	ListOlderThan(ctx context.Context, cutoff time.Time) ([]domain.PriceSnapshot, error)
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// Archiver implements domain.Archiver by pruning expired price history from
// the database, serializing the rows to gzipped JSONL, and uploading the
// result to object storage.
type Archiver struct {
	writer  domain.BlobWriter
	history HistoryPruner
	prefix  string
	logger  *slog.Logger
}

// NewArchiver creates an Archiver. An empty prefix defaults to "history".
func NewArchiver(writer domain.BlobWriter, history HistoryPruner, prefix string, logger *slog.Logger) *Archiver {
	if prefix == "" {
		prefix = "history"
	}
	return &Archiver{
		writer:  writer,
		history: history,
		prefix:  prefix,
		logger:  logger.With(slog.String("component", "archiver")),
	}
}

// ArchiveSnapshots uploads price history recorded before the cutoff to
// history/{date}/{uuid}.jsonl.gz, then deletes the uploaded rows. The rows
// stay in the database if the upload fails, so no snapshot is lost to a
// storage outage. It returns the number of rows archived.
func (a *Archiver) ArchiveSnapshots(ctx context.Context, before time.Time) (int64, error) {
	snaps, err := a.history.ListOlderThan(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive snapshots list: %w", err)
	}
	if len(snaps) == 0 {
		return 0, nil
	}

	buf, err := gzipJSONL(snaps)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive snapshots marshal: %w", err)
	}

	path := a.archivePath(before)
	if err := a.writer.Put(ctx, path, bytes.NewReader(buf), "application/gzip"); err != nil {
		return 0, fmt.Errorf("s3blob: archive snapshots upload: %w", err)
	}

	deleted, err := a.history.DeleteOlderThan(ctx, before)
	if err != nil {
		// Uploaded but not pruned. The next cycle re-archives the same rows
		// under a fresh key rather than dropping them.
		return 0, fmt.Errorf("s3blob: archive snapshots delete: %w", err)
	}

	a.logger.Info("archived price history",
		slog.String("path", path),
		slog.Int("rows", len(snaps)),
		slog.Int64("deleted", deleted),
		slog.Time("before", before))

	return int64(len(snaps)), nil
}

// archivePath builds the object key for one archive batch, partitioned by the
// cutoff date. The uuid keeps batches from the same day distinct.
//
//	history/2026-08-31/8f14e45f-....jsonl.gz
func (a *Archiver) archivePath(before time.Time) string {
	return fmt.Sprintf("%s/%s/%s.jsonl.gz", a.prefix, before.Format("2006-01-02"), uuid.New().String())
}

// gzipJSONL serializes records as newline-delimited JSON and gzips the
// result.
func gzipJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)

	enc := json.NewEncoder(gz)
	enc.SetEscapeHTML(false)
	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}

	if err := gz.Close(); err != nil {
		return nil, fmt.Errorf("gzip close: %w", err)
	}
	return buf.Bytes(), nil
}

// Compile-time interface check.
var _ domain.Archiver = (*Archiver)(nil)
