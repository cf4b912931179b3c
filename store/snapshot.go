package store

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"

	"github.com/hupe1980/tiermem/codec"
	"github.com/hupe1980/tiermem/model"
	"github.com/pierrec/lz4/v4"
)

// ErrNoBlobStore is returned when snapshot operations are used without a
// configured blob store.
var ErrNoBlobStore = errors.New("no blob store configured")

// ErrNoSnapshot is returned by Restore when the tier has no snapshots.
var ErrNoSnapshot = errors.New("no snapshot found")

// snapshotPrefix groups snapshot blobs per tier.
func (s *VectorStore) snapshotPrefix() string {
	return path.Join("snapshots", s.tier.String()) + "/"
}

// Snapshot writes all tier records as an lz4-compressed blob and returns
// the blob name. Snapshots are full copies; taking one does not disturb the
// live index or ledger.
func (s *VectorStore) Snapshot(ctx context.Context) (string, error) {
	if s.opts.BlobStore == nil {
		return "", ErrNoBlobStore
	}

	records, err := s.ledger.List(ctx)
	if err != nil {
		return "", fmt.Errorf("ledger list: %w", err)
	}

	payload, err := codec.Default.Marshal(records)
	if err != nil {
		return "", fmt.Errorf("encode snapshot: %w", err)
	}

	var buf bytes.Buffer
	zw := lz4.NewWriter(&buf)
	if _, err := zw.Write(payload); err != nil {
		return "", fmt.Errorf("compress snapshot: %w", err)
	}
	if err := zw.Close(); err != nil {
		return "", fmt.Errorf("compress snapshot: %w", err)
	}

	name := fmt.Sprintf("%s%s.snap.lz4", s.snapshotPrefix(), s.now().UTC().Format("20060102T150405.000000000"))

	if err := s.opts.BlobStore.Put(ctx, name, buf.Bytes()); err != nil {
		return "", fmt.Errorf("put snapshot: %w", err)
	}

	s.opts.Logger.InfoContext(ctx, "snapshot written",
		"tier", s.tier.String(),
		"name", name,
		"records", len(records),
		"bytes", buf.Len(),
	)

	return name, nil
}

// Restore loads the most recent snapshot into the ledger and rebuilds the
// index from it. Existing records with the same IDs are overwritten;
// records absent from the snapshot are kept.
func (s *VectorStore) Restore(ctx context.Context) error {
	if s.opts.BlobStore == nil {
		return ErrNoBlobStore
	}

	names, err := s.opts.BlobStore.List(ctx, s.snapshotPrefix())
	if err != nil {
		return fmt.Errorf("list snapshots: %w", err)
	}
	if len(names) == 0 {
		return ErrNoSnapshot
	}

	// Names embed the timestamp, so the lexicographically last is newest.
	name := names[len(names)-1]

	data, err := s.opts.BlobStore.Get(ctx, name)
	if err != nil {
		return fmt.Errorf("get snapshot: %w", err)
	}

	payload, err := io.ReadAll(lz4.NewReader(bytes.NewReader(data)))
	if err != nil {
		return fmt.Errorf("decompress snapshot: %w", err)
	}

	var records []*model.Record
	if err := codec.Default.Unmarshal(payload, &records); err != nil {
		return fmt.Errorf("decode snapshot: %w", err)
	}

	for _, record := range records {
		if err := s.ledger.Put(ctx, record); err != nil {
			return fmt.Errorf("ledger put: %w", err)
		}
	}

	s.opts.Logger.InfoContext(ctx, "snapshot restored",
		"tier", s.tier.String(),
		"name", name,
		"records", len(records),
	)

	return s.Resync(ctx)
}
