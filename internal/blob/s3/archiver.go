package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/cricketpools/internal/domain"
)

const contentTypeJSON = "application/json"

// ArchivePrefix is the logical folder holding one document per pool.
const ArchivePrefix = "archive/pools/"

// PoolArchive is the document written for each settled pool.
type PoolArchive struct {
	Pool       domain.Pool    `json:"pool"`
	Entries    []domain.Entry `json:"entries"`
	ArchivedAt time.Time      `json:"archived_at"`
}

// ArchivePath returns the logical path of pool id's archive document.
func ArchivePath(id uint64) string {
	return fmt.Sprintf("%s%d.json", ArchivePrefix, id)
}

// Archiver implements domain.Archiver. Archiving is idempotent: a pool whose
// document already exists is skipped. Nothing is deleted from the store.
type Archiver struct {
	pools  domain.PoolStore
	writer domain.BlobWriter
	reader domain.BlobReader
	logger *slog.Logger

	// MultipartThreshold is the document size above which uploads switch
	// to multipart.
	MultipartThreshold int64
	now                func() time.Time
}

// NewArchiver creates an Archiver that reads settled pools from pools.
func NewArchiver(pools domain.PoolStore, writer domain.BlobWriter, reader domain.BlobReader, logger *slog.Logger) *Archiver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Archiver{
		pools:              pools,
		writer:             writer,
		reader:             reader,
		logger:             logger.With(slog.String("component", "archiver")),
		MultipartThreshold: MinPartSize,
		now:                time.Now,
	}
}

// ArchiveSettled uploads every pool settled before the cutoff that has not
// been archived yet and returns how many documents were written. It stops at
// the first failure; pools archived before it stay archived.
func (a *Archiver) ArchiveSettled(ctx context.Context, before time.Time) (int64, error) {
	pools, err := a.pools.ListSettled(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("archiver: list settled: %w", err)
	}

	var written int64
	for _, p := range pools {
		if err := ctx.Err(); err != nil {
			return written, err
		}
		path := ArchivePath(p.ID)
		exists, err := a.reader.Exists(ctx, path)
		if err != nil {
			return written, fmt.Errorf("archiver: pool %d: %w", p.ID, err)
		}
		if exists {
			continue
		}
		if err := a.archivePool(ctx, p, path); err != nil {
			return written, err
		}
		written++
	}

	a.logger.InfoContext(ctx, "archiver: run complete",
		slog.Int("settled", len(pools)),
		slog.Int64("written", written),
		slog.Time("before", before),
	)
	return written, nil
}

func (a *Archiver) archivePool(ctx context.Context, p domain.Pool, path string) error {
	entries, err := a.pools.ListEntries(ctx, p.ID)
	if err != nil {
		return fmt.Errorf("archiver: pool %d entries: %w", p.ID, err)
	}
	doc, err := json.Marshal(PoolArchive{Pool: p, Entries: entries, ArchivedAt: a.now().UTC()})
	if err != nil {
		return fmt.Errorf("archiver: pool %d marshal: %w", p.ID, err)
	}

	if int64(len(doc)) > a.MultipartThreshold {
		err = a.writer.PutMultipart(ctx, path, bytes.NewReader(doc), MinPartSize)
	} else {
		err = a.writer.Put(ctx, path, bytes.NewReader(doc), contentTypeJSON)
	}
	if err != nil {
		return fmt.Errorf("archiver: pool %d upload: %w", p.ID, err)
	}
	a.logger.DebugContext(ctx, "archiver: pool archived",
		slog.Uint64("pool_id", p.ID),
		slog.Int("entries", len(entries)),
		slog.Int("bytes", len(doc)),
	)
	return nil
}
