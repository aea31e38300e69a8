package s3blob

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/tradegate/internal/domain"
)

type memDecisions struct {
	rows []domain.Decision
}

func (m *memDecisions) ListBefore(_ context.Context, before time.Time, limit int) ([]domain.Decision, error) {
	sort.SliceStable(m.rows, func(i, j int) bool { return m.rows[i].Timestamp.Before(m.rows[j].Timestamp) })
	var out []domain.Decision
	for _, d := range m.rows {
		if d.Timestamp.Before(before) && len(out) < limit {
			out = append(out, d)
		}
	}
	return out, nil
}

func (m *memDecisions) DeleteBefore(_ context.Context, before time.Time) (int64, error) {
	kept := m.rows[:0]
	var n int64
	for _, d := range m.rows {
		if d.Timestamp.Before(before) {
			n++
			continue
		}
		kept = append(kept, d)
	}
	m.rows = kept
	return n, nil
}

type memBlobs struct {
	objects map[string][]byte
	order   []string
}

func (m *memBlobs) Put(_ context.Context, path string, data io.Reader, _ string) error {
	b, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	if m.objects == nil {
		m.objects = map[string][]byte{}
	}
	m.objects[path] = b
	m.order = append(m.order, path)
	return nil
}

func (m *memBlobs) PutMultipart(ctx context.Context, path string, data io.Reader, _ int64) error {
	return m.Put(ctx, path, data, contentTypeJSONL)
}

type memAudit struct{ events []string }

func (m *memAudit) Log(_ context.Context, event string, _ map[string]any) error {
	m.events = append(m.events, event)
	return nil
}

func (m *memAudit) List(context.Context, domain.ListOpts) ([]domain.AuditEntry, error) {
	return nil, nil
}

func decisionsAt(base time.Time, offsets ...int) []domain.Decision {
	out := make([]domain.Decision, len(offsets))
	for i, off := range offsets {
		out[i] = domain.Decision{
			ID:        fmt.Sprintf("d-%d", i),
			Asset:     "BTC",
			Timestamp: base.Add(time.Duration(off) * time.Second),
			Action:    domain.ActionSkip,
			Outcome:   domain.OutcomeNone,
		}
	}
	return out
}

func archivedIDs(t *testing.T, blobs *memBlobs) []string {
	t.Helper()
	var ids []string
	for _, path := range blobs.order {
		sc := bufio.NewScanner(bytes.NewReader(blobs.objects[path]))
		for sc.Scan() {
			var d domain.Decision
			require.NoError(t, json.Unmarshal(sc.Bytes(), &d))
			ids = append(ids, d.ID)
		}
	}
	return ids
}

func TestArchiveDecisionsPages(t *testing.T) {
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	store := &memDecisions{rows: decisionsAt(base, 0, 1, 2, 3, 4, 5, 6, 100)}
	blobs := &memBlobs{}
	audit := &memAudit{}
	a := NewDecisionArchiver(blobs, store, audit, 3, slog.New(slog.NewTextHandler(io.Discard, nil)))

	cutoff := base.Add(50 * time.Second)
	n, err := a.ArchiveDecisions(context.Background(), cutoff)
	require.NoError(t, err)

	assert.Equal(t, int64(7), n)
	assert.ElementsMatch(t, []string{"d-0", "d-1", "d-2", "d-3", "d-4", "d-5", "d-6"}, archivedIDs(t, blobs))
	assert.Equal(t, "archive/decisions/2026-03-01/part-0001.jsonl", blobs.order[0])
	require.Len(t, store.rows, 1)
	assert.Equal(t, "d-7", store.rows[0].ID)
	assert.Equal(t, []string{"archive.decisions"}, audit.events)
}

func TestArchiveDecisionsBoundaryTiesNotDuplicated(t *testing.T) {
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	store := &memDecisions{rows: decisionsAt(base, 0, 1, 2, 2, 3)}
	blobs := &memBlobs{}
	a := NewDecisionArchiver(blobs, store, nil, 3, slog.New(slog.NewTextHandler(io.Discard, nil)))

	n, err := a.ArchiveDecisions(context.Background(), base.Add(time.Minute))
	require.NoError(t, err)

	ids := archivedIDs(t, blobs)
	assert.Equal(t, int64(5), n)
	assert.Len(t, ids, 5)
	assert.ElementsMatch(t, []string{"d-0", "d-1", "d-2", "d-3", "d-4"}, ids)
	assert.Empty(t, store.rows)
}

func TestArchiveDecisionsNothingToDo(t *testing.T) {
	store := &memDecisions{}
	blobs := &memBlobs{}
	audit := &memAudit{}
	a := NewDecisionArchiver(blobs, store, audit, 10, slog.New(slog.NewTextHandler(io.Discard, nil)))

	n, err := a.ArchiveDecisions(context.Background(), time.Now())
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Empty(t, blobs.order)
	assert.Empty(t, audit.events)
}

func TestNormaliseEndpoint(t *testing.T) {
	assert.Equal(t, "http://minio:9000", normaliseEndpoint("minio:9000", false))
	assert.Equal(t, "https://e2.example.com", normaliseEndpoint("e2.example.com", true))
	assert.Equal(t, "http://localhost:9000", normaliseEndpoint("http://localhost:9000", true))
}
