package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/tradegate/internal/domain"
)

const contentTypeJSONL = "application/x-ndjson"

// DecisionArchive is the subset of domain.DecisionStore the archiver pages
// through.
type DecisionArchive interface {
	ListBefore(ctx context.Context, before time.Time, limit int) ([]domain.Decision, error)
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
}

// DecisionArchiver implements domain.Archiver. It copies decisions older than
// a cutoff to JSONL objects under archive/decisions/<cutoff date>/ and then
// removes them from the database. A batch is deleted only after its upload
// succeeds.
type DecisionArchiver struct {
	writer    domain.BlobWriter
	decisions DecisionArchive
	audit     domain.AuditStore
	batchSize int
	logger    *slog.Logger
}

// NewDecisionArchiver creates a DecisionArchiver. audit may be nil.
func NewDecisionArchiver(writer domain.BlobWriter, decisions DecisionArchive, audit domain.AuditStore, batchSize int, logger *slog.Logger) *DecisionArchiver {
	if batchSize <= 0 {
		batchSize = 5000
	}
	return &DecisionArchiver{
		writer:    writer,
		decisions: decisions,
		audit:     audit,
		batchSize: batchSize,
		logger:    logger.With(slog.String("component", "decision_archiver")),
	}
}

// ArchiveDecisions moves every decision older than before to object storage
// and returns how many were archived.
func (a *DecisionArchiver) ArchiveDecisions(ctx context.Context, before time.Time) (int64, error) {
	var (
		total int64
		part  int
		// IDs already uploaded whose timestamp equals the last boundary; a
		// boundary row can be listed again by the next page.
		seen = map[string]bool{}
	)

	for {
		batch, err := a.decisions.ListBefore(ctx, before, a.batchSize)
		if err != nil {
			return total, fmt.Errorf("s3blob: archive decisions: list: %w", err)
		}

		fresh := batch[:0:0]
		for _, d := range batch {
			if !seen[d.ID] {
				fresh = append(fresh, d)
			}
		}
		if len(fresh) == 0 && len(batch) == a.batchSize {
			return total, fmt.Errorf("s3blob: archive decisions: no progress at %s, raise the batch size",
				batch[len(batch)-1].Timestamp.Format(time.RFC3339Nano))
		}

		if len(fresh) > 0 {
			part++
			path := archivePath(before, part)
			if err := a.upload(ctx, path, fresh); err != nil {
				return total, err
			}
			total += int64(len(fresh))
			a.logger.Debug("decision batch archived",
				slog.String("path", path),
				slog.Int("count", len(fresh)),
			)
		}

		if len(batch) < a.batchSize {
			if _, err := a.decisions.DeleteBefore(ctx, before); err != nil {
				return total, fmt.Errorf("s3blob: archive decisions: delete: %w", err)
			}
			break
		}

		boundary := batch[len(batch)-1].Timestamp
		if _, err := a.decisions.DeleteBefore(ctx, boundary); err != nil {
			return total, fmt.Errorf("s3blob: archive decisions: delete: %w", err)
		}
		seen = map[string]bool{}
		for _, d := range batch {
			if d.Timestamp.Equal(boundary) {
				seen[d.ID] = true
			}
		}
	}

	if total > 0 && a.audit != nil {
		if err := a.audit.Log(ctx, "archive.decisions", map[string]any{
			"count":  total,
			"parts":  part,
			"before": before.UTC().Format(time.RFC3339),
		}); err != nil {
			return total, fmt.Errorf("s3blob: archive decisions: audit: %w", err)
		}
	}
	return total, nil
}

func (a *DecisionArchiver) upload(ctx context.Context, path string, batch []domain.Decision) error {
	buf, err := marshalJSONL(batch)
	if err != nil {
		return fmt.Errorf("s3blob: archive decisions: encode: %w", err)
	}
	if int64(len(buf)) > minPartSize {
		err = a.writer.PutMultipart(ctx, path, bytes.NewReader(buf), minPartSize)
	} else {
		err = a.writer.Put(ctx, path, bytes.NewReader(buf), contentTypeJSONL)
	}
	if err != nil {
		return fmt.Errorf("s3blob: archive decisions: upload: %w", err)
	}
	return nil
}

// archivePath partitions archives by cutoff date:
//
//	archive/decisions/2026-01-31/part-0001.jsonl
func archivePath(before time.Time, part int) string {
	return fmt.Sprintf("archive/decisions/%s/part-%04d.jsonl", before.UTC().Format("2006-01-02"), part)
}

// marshalJSONL encodes records one compact JSON document per line.
func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}

var _ domain.Archiver = (*DecisionArchiver)(nil)
