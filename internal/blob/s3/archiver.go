package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/dlin-quant/solarb/internal/domain"
)

// Narrow store views required by the archiver. The Postgres stores satisfy
// these implicitly through their ListBefore methods.

// OpportunityArchiveStore provides read access to opportunity history.
type OpportunityArchiveStore interface {
	ListBefore(ctx context.Context, before time.Time) ([]domain.Opportunity, error)
}

// ExecutionArchiveStore provides read access to execution history.
type ExecutionArchiveStore interface {
	ListBefore(ctx context.Context, before time.Time) ([]domain.Execution, error)
}

// ExposureArchiveStore provides read access to exposure history.
type ExposureArchiveStore interface {
	ListBefore(ctx context.Context, before time.Time) ([]domain.Exposure, error)
}

// Archiver implements domain.Archiver by querying the journal stores for
// aged rows, serializing them to JSONL, and uploading the result to blob
// storage. After each upload the object is verified with a head request.
//
// Rows are not deleted from the primary store here; deletion is a separate
// step after the archive has been verified.
type Archiver struct {
	writer domain.BlobWriter
	reader domain.BlobReader
	opps   OpportunityArchiveStore
	execs  ExecutionArchiveStore
	expos  ExposureArchiveStore
	logger *slog.Logger
}

// NewArchiver creates a new Archiver.
func NewArchiver(
	writer domain.BlobWriter,
	reader domain.BlobReader,
	opps OpportunityArchiveStore,
	execs ExecutionArchiveStore,
	expos ExposureArchiveStore,
	logger *slog.Logger,
) *Archiver {
	return &Archiver{
		writer: writer,
		reader: reader,
		opps:   opps,
		execs:  execs,
		expos:  expos,
		logger: logger.With(slog.String("component", "archiver")),
	}
}

// ArchiveOpportunities uploads all opportunities detected before the cutoff
// to archive/opportunities/YYYY-MM.jsonl and returns the archived count.
func (a *Archiver) ArchiveOpportunities(ctx context.Context, before time.Time) (int64, error) {
	records, err := a.opps.ListBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive opportunities query: %w", err)
	}
	return archive(ctx, a, "opportunities", before, records)
}

// ArchiveExecutions uploads all executions started before the cutoff to
// archive/executions/YYYY-MM.jsonl and returns the archived count.
func (a *Archiver) ArchiveExecutions(ctx context.Context, before time.Time) (int64, error) {
	records, err := a.execs.ListBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive executions query: %w", err)
	}
	return archive(ctx, a, "executions", before, records)
}

// ArchiveExposures uploads all exposures created before the cutoff to
// archive/exposures/YYYY-MM.jsonl and returns the archived count. Open
// exposures are included; they stay in the primary store until resolved.
func (a *Archiver) ArchiveExposures(ctx context.Context, before time.Time) (int64, error) {
	records, err := a.expos.ListBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive exposures query: %w", err)
	}
	return archive(ctx, a, "exposures", before, records)
}

// archive serialises the records, uploads the JSONL object, and verifies it
// landed. Methods cannot take type parameters, hence the free function.
func archive[T any](ctx context.Context, a *Archiver, kind string, before time.Time, records []T) (int64, error) {
	if len(records) == 0 {
		return 0, nil
	}

	buf, err := marshalJSONL(records)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive %s marshal: %w", kind, err)
	}

	path := archivePath(kind, before)
	if err := a.writer.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson"); err != nil {
		return 0, fmt.Errorf("s3blob: archive %s upload: %w", kind, err)
	}

	count := int64(len(records))

	ok, err := a.reader.Exists(ctx, path)
	if err != nil {
		return count, fmt.Errorf("s3blob: archive %s verify: %w", kind, err)
	}
	if !ok {
		return count, fmt.Errorf("s3blob: archive %s verify: object %s missing after upload", kind, path)
	}

	a.logger.Info("archived records",
		slog.String("kind", kind),
		slog.String("path", path),
		slog.Int64("count", count),
		slog.Time("before", before))
	return count, nil
}

// archivePath builds the blob key for an archive file, partitioned by the
// year-month of the cutoff time.
//
//	archive/executions/2026-01.jsonl
func archivePath(kind string, before time.Time) string {
	return fmt.Sprintf("archive/%s/%s.jsonl", kind, before.Format("2006-01"))
}

// marshalJSONL serialises a slice of values as newline-delimited JSON. Each
// element is one compact JSON line.
func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}

// Compile-time interface check.
var _ domain.Archiver = (*Archiver)(nil)
