package archive

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/amanahq/flasharb/internal/domain"
)

type memBlob struct {
	mu      sync.Mutex
	objects map[string][]byte
	dropPut bool
}

func newMemBlob() *memBlob {
	return &memBlob{objects: make(map[string][]byte)}
}

func (m *memBlob) Put(_ context.Context, path string, data io.Reader, _ string) error {
	body, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.dropPut {
		// Simulate a provider that acknowledges but loses the object.
		return nil
	}
	m.objects[path] = body
	return nil
}

func (m *memBlob) Get(_ context.Context, path string) (io.ReadCloser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	body, ok := m.objects[path]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return io.NopCloser(bytes.NewReader(body)), nil
}

func (m *memBlob) List(_ context.Context, prefix string) ([]domain.BlobInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var infos []domain.BlobInfo
	for path, body := range m.objects {
		if strings.HasPrefix(path, prefix) {
			infos = append(infos, domain.BlobInfo{Path: path, Size: int64(len(body))})
		}
	}
	return infos, nil
}

func (m *memBlob) Exists(_ context.Context, path string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.objects[path]
	return ok, nil
}

type memLedger struct {
	recs []domain.ExecutionRecord
}

func (m *memLedger) Append(_ context.Context, rec domain.ExecutionRecord) error {
	m.recs = append(m.recs, rec)
	return nil
}

func (m *memLedger) GetByID(_ context.Context, id string) (domain.ExecutionRecord, error) {
	for _, rec := range m.recs {
		if rec.ID == id {
			return rec, nil
		}
	}
	return domain.ExecutionRecord{}, domain.ErrNotFound
}

func (m *memLedger) ListRecent(_ context.Context, limit int) ([]domain.ExecutionRecord, error) {
	return m.recs, nil
}

func (m *memLedger) ListRange(_ context.Context, after, cutoff time.Time, limit int) ([]domain.ExecutionRecord, error) {
	var out []domain.ExecutionRecord
	for _, rec := range m.recs {
		if !rec.CompletedAt.Before(after) && rec.CompletedAt.Before(cutoff) {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CompletedAt.Before(out[j].CompletedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memLedger) SumPnL(_ context.Context, asset string, since time.Time) (int64, error) {
	return 0, nil
}

type memAudit struct {
	entries []domain.AuditEntry
}

func (m *memAudit) Log(_ context.Context, event string, detail map[string]any) error {
	m.entries = append(m.entries, domain.AuditEntry{Event: event, Detail: detail})
	return nil
}

func (m *memAudit) List(_ context.Context, limit int) ([]domain.AuditEntry, error) {
	return m.entries, nil
}

func record(id string, completed time.Time) domain.ExecutionRecord {
	return domain.ExecutionRecord{
		ID:          id,
		Status:      domain.StatusCommitted,
		NetPnL:      1_000,
		CompletedAt: completed,
	}
}

func testArchiver(ledger *memLedger, blob *memBlob, audit *memAudit) *Archiver {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(ledger, blob, blob, audit, Config{}, logger)
}

func TestArchiveExecutionsGroupsByMonth(t *testing.T) {
	jan := time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC)
	feb := time.Date(2026, 2, 3, 9, 0, 0, 0, time.UTC)
	ledger := &memLedger{recs: []domain.ExecutionRecord{
		record("e1", jan),
		record("e2", jan.Add(time.Hour)),
		record("e3", feb),
		record("e4", time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)), // too recent
	}}
	blob := newMemBlob()
	audit := &memAudit{}

	n, err := testArchiver(ledger, blob, audit).ArchiveExecutions(context.Background(), time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("ArchiveExecutions: %v", err)
	}
	if n != 3 {
		t.Fatalf("exported %d records, expected 3", n)
	}

	janBody := blob.objects["archive/executions/2026-01.jsonl"]
	if lines := strings.Count(string(janBody), "\n"); lines != 2 {
		t.Fatalf("january object has %d lines, expected 2", lines)
	}
	if _, ok := blob.objects["archive/executions/2026-02.jsonl"]; !ok {
		t.Fatal("february object missing")
	}
	if _, ok := blob.objects["archive/executions/2026-08.jsonl"]; ok {
		t.Fatal("recent record must not be exported")
	}
	if len(audit.entries) != 2 {
		t.Fatalf("audit entries = %d, expected one per object", len(audit.entries))
	}
	for _, e := range audit.entries {
		if e.Event != "archive.executions" {
			t.Fatalf("unexpected audit event %q", e.Event)
		}
	}
}

func TestArchiveExecutionsDrainsPastBatchLimit(t *testing.T) {
	jan := time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC)
	ledger := &memLedger{recs: []domain.ExecutionRecord{
		record("e1", jan),
		record("e2", jan.Add(time.Hour)),
		record("e3", jan.Add(2*time.Hour)),
	}}
	blob := newMemBlob()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	a := New(ledger, blob, blob, nil, Config{BatchLimit: 2}, logger)

	cutoff := time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		n, err := a.ArchiveExecutions(context.Background(), cutoff)
		if err != nil {
			t.Fatalf("run %d: %v", i, err)
		}
		if n != 3 {
			t.Fatalf("run %d exported %d records, expected 3", i, n)
		}
		body := string(blob.objects["archive/executions/2026-01.jsonl"])
		if lines := strings.Count(body, "\n"); lines != 3 {
			t.Fatalf("run %d: january object has %d lines, expected 3", i, lines)
		}
		if !strings.Contains(body, "e3") {
			t.Fatalf("run %d: e3 missing from archive", i)
		}
	}
}

func TestArchiveExecutionsDrainsTiedTimestamps(t *testing.T) {
	jan := time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC)
	ledger := &memLedger{recs: []domain.ExecutionRecord{
		record("e1", jan),
		record("e2", jan),
		record("e3", jan),
	}}
	blob := newMemBlob()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	a := New(ledger, blob, blob, nil, Config{BatchLimit: 2}, logger)

	n, err := a.ArchiveExecutions(context.Background(), time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("ArchiveExecutions: %v", err)
	}
	if n != 3 {
		t.Fatalf("exported %d records, expected 3", n)
	}
	body := string(blob.objects["archive/executions/2026-01.jsonl"])
	if lines := strings.Count(body, "\n"); lines != 3 {
		t.Fatalf("january object has %d lines, expected 3", lines)
	}
}

func TestArchiveExecutionsEmptyLedger(t *testing.T) {
	blob := newMemBlob()
	n, err := testArchiver(&memLedger{}, blob, &memAudit{}).ArchiveExecutions(context.Background(), time.Now())
	if err != nil {
		t.Fatalf("ArchiveExecutions: %v", err)
	}
	if n != 0 || len(blob.objects) != 0 {
		t.Fatalf("empty ledger produced %d records, %d objects", n, len(blob.objects))
	}
}

func TestArchiveExecutionsFailsWhenVerifyMisses(t *testing.T) {
	ledger := &memLedger{recs: []domain.ExecutionRecord{
		record("e1", time.Date(2026, 1, 10, 0, 0, 0, 0, time.UTC)),
	}}
	blob := newMemBlob()
	blob.dropPut = true

	_, err := testArchiver(ledger, blob, &memAudit{}).ArchiveExecutions(context.Background(), time.Now())
	if err == nil || !strings.Contains(err.Error(), "missing after upload") {
		t.Fatalf("expected verification failure, got %v", err)
	}
}

func TestArchiveExecutionsIsIdempotent(t *testing.T) {
	ledger := &memLedger{recs: []domain.ExecutionRecord{
		record("e1", time.Date(2026, 1, 10, 0, 0, 0, 0, time.UTC)),
	}}
	blob := newMemBlob()
	a := testArchiver(ledger, blob, &memAudit{})

	cutoff := time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 2; i++ {
		if _, err := a.ArchiveExecutions(context.Background(), cutoff); err != nil {
			t.Fatalf("run %d: %v", i, err)
		}
	}
	if len(blob.objects) != 1 {
		t.Fatalf("objects = %d, expected the same object rewritten", len(blob.objects))
	}
}
