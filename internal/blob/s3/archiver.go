package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/alanyoungcy/matrixnet/internal/domain"
)

// LedgerSource lists settled ledger entries for archival.
type LedgerSource interface {
	ListSettledBefore(ctx context.Context, before time.Time, limit int) ([]domain.LedgerEntry, error)
}

// InstanceSource lists cycled instances and their slots for archival.
type InstanceSource interface {
	ListCycledBefore(ctx context.Context, before time.Time, limit int) ([]domain.Instance, error)
}

// SlotSource lists the slots of one instance.
type SlotSource interface {
	ListByInstance(ctx context.Context, instanceID string) ([]domain.Position, error)
}

// ArchivedInstance is one JSONL record of the instances archive.
type ArchivedInstance struct {
	domain.Instance
	Positions []domain.Position `json:"positions"`
}

// ObjectStore is the part of the bucket the archiver writes through.
type ObjectStore interface {
	domain.BlobWriter
	Exists(ctx context.Context, path string) (bool, error)
}

var _ domain.Archiver = (*ArchiveImpl)(nil)

// ArchiveImpl implements domain.Archiver by serialising settled history to
// JSONL and uploading it under archive/<kind>/YYYY-MM.jsonl.
//
// Rows are copied, not moved: the primary store keeps them until an
// operator prunes it after verifying the archive. An export that already
// exists for the month is never overwritten, so a rerun is a no-op.
type ArchiveImpl struct {
	writer    ObjectStore
	ledger    LedgerSource
	instances InstanceSource
	slots     SlotSource
	audit     domain.AuditStore
}

// NewArchiver creates a new ArchiveImpl.
func NewArchiver(
	writer ObjectStore,
	ledger LedgerSource,
	instances InstanceSource,
	slots SlotSource,
	audit domain.AuditStore,
) *ArchiveImpl {
	return &ArchiveImpl{
		writer:    writer,
		ledger:    ledger,
		instances: instances,
		slots:     slots,
		audit:     audit,
	}
}

// ArchiveLedger uploads every PAID or FAILED entry settled before the
// cutoff and returns how many were written.
func (a *ArchiveImpl) ArchiveLedger(ctx context.Context, before time.Time) (int64, error) {
	entries, err := a.ledger.ListSettledBefore(ctx, before, 0)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive ledger query: %w", err)
	}
	return upload(ctx, a, "ledger", before, entries)
}

// ArchiveInstances uploads every instance that cycled before the cutoff,
// each with its full slot list.
func (a *ArchiveImpl) ArchiveInstances(ctx context.Context, before time.Time) (int64, error) {
	instances, err := a.instances.ListCycledBefore(ctx, before, 0)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive instances query: %w", err)
	}
	records := make([]ArchivedInstance, 0, len(instances))
	for _, inst := range instances {
		slots, err := a.slots.ListByInstance(ctx, inst.ID)
		if err != nil {
			return 0, fmt.Errorf("s3blob: archive instance %s slots: %w", inst.ID, err)
		}
		records = append(records, ArchivedInstance{Instance: inst, Positions: slots})
	}
	return upload(ctx, a, "instances", before, records)
}

func upload[T any](ctx context.Context, a *ArchiveImpl, kind string, before time.Time, records []T) (int64, error) {
	if len(records) == 0 {
		return 0, nil
	}
	path := archivePath(kind, before)
	exists, err := a.writer.Exists(ctx, path)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive %s: %w", kind, err)
	}
	if exists {
		return 0, nil
	}

	buf, err := marshalJSONL(records)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive %s marshal: %w", kind, err)
	}

	if int64(len(buf)) > minPartSize {
		err = a.writer.PutMultipart(ctx, path, bytes.NewReader(buf), minPartSize)
	} else {
		err = a.writer.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson")
	}
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive %s upload: %w", kind, err)
	}

	count := int64(len(records))
	if a.audit != nil {
		if err := a.audit.Log(ctx, domain.AuditArchive(kind), map[string]any{
			"path":   path,
			"count":  count,
			"before": before.Format(time.RFC3339),
		}); err != nil {
			return count, fmt.Errorf("s3blob: archive %s audit log: %w", kind, err)
		}
	}
	return count, nil
}

// archivePath partitions archives by the month of the cutoff:
//
//	archive/ledger/2026-01.jsonl
//	archive/instances/2026-01.jsonl
func archivePath(kind string, before time.Time) string {
	return fmt.Sprintf("archive/%s/%s.jsonl", kind, before.UTC().Format("2006-01"))
}

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
