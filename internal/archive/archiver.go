// Package archive exports aged ledger records to cold object storage. The
// primary store keeps every record; the archive is a verified JSONL copy for
// long-term audit retention. Deleting archived rows from the primary store is
// a separate explicit step, never performed here.
package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/amanahq/flasharb/internal/domain"
)

// Config holds archiver parameters.
type Config struct {
	// MaxAge is how old a terminal record must be before it is exported.
	MaxAge time.Duration
	// Interval is how often the background loop runs.
	Interval time.Duration
	// BatchLimit is how many records each ledger page fetches.
	BatchLimit int
}

// Normalize fills zero fields with defaults.
func (c Config) Normalize() Config {
	if c.MaxAge <= 0 {
		c.MaxAge = 30 * 24 * time.Hour
	}
	if c.Interval <= 0 {
		c.Interval = time.Hour
	}
	if c.BatchLimit <= 0 {
		c.BatchLimit = 10_000
	}
	return c
}

// Archiver exports aged execution records as month-partitioned JSONL objects
// and verifies each upload before recording it in the audit log.
type Archiver struct {
	ledger domain.Ledger
	writer domain.BlobWriter
	reader domain.BlobReader
	audit  domain.AuditStore
	cfg    Config
	logger *slog.Logger
}

// New creates an Archiver. audit may be nil to skip audit logging.
func New(ledger domain.Ledger, writer domain.BlobWriter, reader domain.BlobReader, audit domain.AuditStore, cfg Config, logger *slog.Logger) *Archiver {
	return &Archiver{
		ledger: ledger,
		writer: writer,
		reader: reader,
		audit:  audit,
		cfg:    cfg.Normalize(),
		logger: logger.With(slog.String("component", "archiver")),
	}
}

// Run exports on the configured interval until ctx is done.
func (a *Archiver) Run(ctx context.Context) error {
	ticker := time.NewTicker(a.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := a.ArchiveExecutions(ctx, time.Now().Add(-a.cfg.MaxAge)); err != nil {
				a.logger.Error("archive run failed", slog.String("error", err.Error()))
			}
		}
	}
}

// ArchiveExecutions exports every record completed strictly before the
// cutoff, grouped into one object per calendar month at
// archive/executions/YYYY-MM.jsonl. The ledger is paged BatchLimit records
// at a time behind a completed-at watermark, so one run drains any backlog.
// Re-running over the same cutoff rewrites the same objects, so the export
// is idempotent. Returns the number of records exported.
func (a *Archiver) ArchiveExecutions(ctx context.Context, before time.Time) (int64, error) {
	byMonth := make(map[string][]domain.ExecutionRecord)
	seen := make(map[string]bool)
	var watermark time.Time
	pageLimit := a.cfg.BatchLimit
	for {
		records, err := a.ledger.ListRange(ctx, watermark, before, pageLimit)
		if err != nil {
			return 0, fmt.Errorf("archive: query ledger: %w", err)
		}
		added := 0
		for _, rec := range records {
			// The watermark query is inclusive, so each page re-fetches the
			// previous boundary records; skip the ones already collected.
			if seen[rec.ID] {
				continue
			}
			seen[rec.ID] = true
			added++
			month := rec.CompletedAt.UTC().Format("2006-01")
			byMonth[month] = append(byMonth[month], rec)
		}
		if len(records) < pageLimit {
			break
		}
		if added == 0 {
			// A full page of records sharing one timestamp; widen the page
			// so the watermark can move past it.
			pageLimit *= 2
			continue
		}
		watermark = records[len(records)-1].CompletedAt
	}
	if len(seen) == 0 {
		return 0, nil
	}

	var total int64
	for month, recs := range byMonth {
		path := fmt.Sprintf("archive/executions/%s.jsonl", month)
		buf, err := marshalJSONL(recs)
		if err != nil {
			return total, fmt.Errorf("archive: marshal %s: %w", path, err)
		}
		if err := a.writer.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson"); err != nil {
			return total, fmt.Errorf("archive: upload %s: %w", path, err)
		}
		if err := a.verify(ctx, path); err != nil {
			return total, err
		}
		total += int64(len(recs))

		if a.audit != nil {
			if err := a.audit.Log(ctx, "archive.executions", map[string]any{
				"path":   path,
				"count":  len(recs),
				"before": before.UTC().Format(time.RFC3339),
			}); err != nil {
				return total, fmt.Errorf("archive: audit log %s: %w", path, err)
			}
		}
		a.logger.Info("archived executions",
			slog.String("path", path),
			slog.Int("count", len(recs)),
		)
	}
	return total, nil
}

// verify confirms the uploaded object is retrievable before the export is
// considered durable.
func (a *Archiver) verify(ctx context.Context, path string) error {
	if a.reader == nil {
		return nil
	}
	ok, err := a.reader.Exists(ctx, path)
	if err != nil {
		return fmt.Errorf("archive: verify %s: %w", path, err)
	}
	if !ok {
		return fmt.Errorf("archive: verify %s: object missing after upload", path)
	}
	return nil
}

// marshalJSONL serialises records as newline-delimited JSON, one compact line
// per record.
func marshalJSONL(records []domain.ExecutionRecord) ([]byte, error) {
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
