// Package file implements a durable ledger backed by an append-only log.
//
// Every Put and Delete is appended to the log before being acknowledged, so
// the ledger state can be rebuilt from disk after a crash. Deleted and
// overwritten entries accumulate in the log until compaction rewrites it
// with only the live records.
package file

import (
	"bufio"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/hupe1980/tiermem/codec"
	"github.com/hupe1980/tiermem/ledger"
	"github.com/hupe1980/tiermem/model"
	"github.com/klauspost/compress/zstd"
)

// Log format: an 8-byte magic, a codec name line, then a stream of entries:
//
//	[1B op][4B payload len][payload][4B crc32(payload)]
//
// Payloads are zstd-compressed when the compression flag in the magic is set.
const (
	magicPlain      = "TMLEDG0\x00"
	magicCompressed = "TMLEDG0\x01"

	opPut    byte = 1
	opDelete byte = 2
)

// ErrCorruptLog is returned when the log cannot be replayed.
var ErrCorruptLog = errors.New("corrupt ledger log")

// Options represents the options for the file ledger.
type Options struct {
	// SyncOnWrite fsyncs after every append. Slower but survives power loss.
	SyncOnWrite bool

	// Compression enables zstd compression of entry payloads.
	Compression bool

	// CompactAfter triggers log compaction once this many dead entries
	// (overwrites and deletes) have accumulated. Zero disables automatic
	// compaction.
	CompactAfter int

	// Codec encodes records. Defaults to codec.Default.
	Codec codec.Codec
}

// DefaultOptions holds the default file ledger options.
var DefaultOptions = Options{
	SyncOnWrite:  false,
	Compression:  true,
	CompactAfter: 4096,
	Codec:        codec.Default,
}

// Compile-time check
var _ ledger.Ledger = (*Ledger)(nil)

// Ledger is an append-log backed ledger. The full record set is mirrored in
// memory, so reads never touch the disk.
type Ledger struct {
	mu     sync.RWMutex
	file   *os.File
	writer *bufio.Writer
	path   string
	opts   Options

	enc *zstd.Encoder
	dec *zstd.Decoder

	data    map[string]*model.Record
	deadOps int
	closed  bool
}

// Open opens or creates the ledger log at path, replaying any existing
// entries.
func Open(path string, optFns ...func(o *Options)) (*Ledger, error) {
	opts := DefaultOptions

	for _, fn := range optFns {
		fn(&opts)
	}

	if opts.Codec == nil {
		opts.Codec = codec.Default
	}

	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return nil, fmt.Errorf("failed to create ledger directory: %w", err)
	}

	l := &Ledger{
		path: path,
		opts: opts,
		data: make(map[string]*model.Record),
	}

	if opts.Compression {
		enc, err := zstd.NewWriter(nil)
		if err != nil {
			return nil, fmt.Errorf("failed to create compressor: %w", err)
		}
		l.enc = enc
	}

	// The decoder is always created so a compressed log can be replayed
	// even when compression was turned off since.
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create decompressor: %w", err)
	}
	l.dec = dec

	file, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0600) //nolint:gosec // G304: path is configurable
	if err != nil {
		return nil, fmt.Errorf("failed to open ledger log: %w", err)
	}
	l.file = file

	st, err := file.Stat()
	if err != nil {
		_ = file.Close()
		return nil, fmt.Errorf("failed to stat ledger log: %w", err)
	}

	if st.Size() == 0 {
		if err := l.writeHeader(); err != nil {
			_ = file.Close()
			return nil, err
		}
	} else if err := l.replay(); err != nil {
		_ = file.Close()
		return nil, err
	}

	if _, err := file.Seek(0, io.SeekEnd); err != nil {
		_ = file.Close()
		return nil, fmt.Errorf("failed to seek ledger log: %w", err)
	}
	l.writer = bufio.NewWriter(file)

	return l, nil
}

func (l *Ledger) writeHeader() error {
	magic := magicPlain
	if l.opts.Compression {
		magic = magicCompressed
	}

	if _, err := l.file.WriteString(magic); err != nil {
		return fmt.Errorf("failed to write ledger header: %w", err)
	}
	if _, err := fmt.Fprintf(l.file, "%s\n", l.opts.Codec.Name()); err != nil {
		return fmt.Errorf("failed to write ledger header: %w", err)
	}

	return nil
}

func (l *Ledger) replay() error {
	r := bufio.NewReader(l.file)

	magic := make([]byte, len(magicPlain))
	if _, err := io.ReadFull(r, magic); err != nil {
		return fmt.Errorf("%w: short header", ErrCorruptLog)
	}

	var compressed bool
	switch string(magic) {
	case magicPlain:
	case magicCompressed:
		compressed = true
	default:
		return fmt.Errorf("%w: bad magic", ErrCorruptLog)
	}

	codecName, err := r.ReadString('\n')
	if err != nil {
		return fmt.Errorf("%w: missing codec name", ErrCorruptLog)
	}
	codecName = codecName[:len(codecName)-1]

	c, ok := codec.ByName(codecName)
	if !ok {
		return fmt.Errorf("%w: unknown codec %q", ErrCorruptLog, codecName)
	}

	for {
		op, payload, err := readEntry(r)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return err
		}

		if compressed {
			payload, err = l.dec.DecodeAll(payload, nil)
			if err != nil {
				return fmt.Errorf("%w: %v", ErrCorruptLog, err)
			}
		}

		switch op {
		case opPut:
			var record model.Record
			if err := c.Unmarshal(payload, &record); err != nil {
				return fmt.Errorf("%w: %v", ErrCorruptLog, err)
			}
			if _, exists := l.data[record.ID]; exists {
				l.deadOps++
			}
			l.data[record.ID] = &record
		case opDelete:
			delete(l.data, string(payload))
			l.deadOps += 2 // the put and the delete entry
		default:
			return fmt.Errorf("%w: unknown op %d", ErrCorruptLog, op)
		}
	}

	return nil
}

func readEntry(r *bufio.Reader) (byte, []byte, error) {
	var head [5]byte
	if _, err := io.ReadFull(r, head[:]); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return 0, nil, io.EOF
		}
		return 0, nil, fmt.Errorf("%w: %v", ErrCorruptLog, err)
	}

	op := head[0]
	size := binary.BigEndian.Uint32(head[1:])

	payload := make([]byte, size)
	if _, err := io.ReadFull(r, payload); err != nil {
		return 0, nil, fmt.Errorf("%w: truncated entry", ErrCorruptLog)
	}

	var sum [4]byte
	if _, err := io.ReadFull(r, sum[:]); err != nil {
		return 0, nil, fmt.Errorf("%w: truncated checksum", ErrCorruptLog)
	}
	if binary.BigEndian.Uint32(sum[:]) != crc32.ChecksumIEEE(payload) {
		return 0, nil, fmt.Errorf("%w: checksum mismatch", ErrCorruptLog)
	}

	return op, payload, nil
}

// appendEntry writes one entry and flushes it to the OS. Caller must hold
// the write lock.
func (l *Ledger) appendEntry(op byte, payload []byte) error {
	if l.opts.Compression {
		payload = l.enc.EncodeAll(payload, nil)
	}

	var head [5]byte
	head[0] = op
	binary.BigEndian.PutUint32(head[1:], uint32(len(payload)))

	if _, err := l.writer.Write(head[:]); err != nil {
		return fmt.Errorf("failed to append ledger entry: %w", err)
	}
	if _, err := l.writer.Write(payload); err != nil {
		return fmt.Errorf("failed to append ledger entry: %w", err)
	}

	var sum [4]byte
	binary.BigEndian.PutUint32(sum[:], crc32.ChecksumIEEE(payload))
	if _, err := l.writer.Write(sum[:]); err != nil {
		return fmt.Errorf("failed to append ledger entry: %w", err)
	}

	if err := l.writer.Flush(); err != nil {
		return fmt.Errorf("failed to flush ledger log: %w", err)
	}

	if l.opts.SyncOnWrite {
		if err := l.file.Sync(); err != nil {
			return fmt.Errorf("failed to sync ledger log: %w", err)
		}
	}

	return nil
}

// Put stores a record, replacing any existing record with the same ID.
func (l *Ledger) Put(_ context.Context, record *model.Record) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return ledger.ErrClosed
	}

	payload, err := l.opts.Codec.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to encode record: %w", err)
	}

	if err := l.appendEntry(opPut, payload); err != nil {
		return err
	}

	if _, exists := l.data[record.ID]; exists {
		l.deadOps++
	}
	l.data[record.ID] = record.Clone()

	return l.maybeCompact()
}

// Get retrieves the record with the given ID.
func (l *Ledger) Get(_ context.Context, id string) (*model.Record, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if l.closed {
		return nil, ledger.ErrClosed
	}

	record, ok := l.data[id]
	if !ok {
		return nil, ledger.ErrNotFound
	}

	return record.Clone(), nil
}

// Delete removes the record with the given ID.
func (l *Ledger) Delete(_ context.Context, id string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return ledger.ErrClosed
	}

	if _, ok := l.data[id]; !ok {
		return ledger.ErrNotFound
	}

	if err := l.appendEntry(opDelete, []byte(id)); err != nil {
		return err
	}

	delete(l.data, id)
	l.deadOps += 2

	return l.maybeCompact()
}

// List returns all records.
func (l *Ledger) List(_ context.Context) ([]*model.Record, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if l.closed {
		return nil, ledger.ErrClosed
	}

	records := make([]*model.Record, 0, len(l.data))
	for _, record := range l.data {
		records = append(records, record.Clone())
	}

	return records, nil
}

// Keys returns all record IDs.
func (l *Ledger) Keys(_ context.Context) ([]string, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if l.closed {
		return nil, ledger.ErrClosed
	}

	keys := make([]string, 0, len(l.data))
	for id := range l.data {
		keys = append(keys, id)
	}

	return keys, nil
}

// Count returns the number of records.
func (l *Ledger) Count(_ context.Context) (int, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if l.closed {
		return 0, ledger.ErrClosed
	}

	return len(l.data), nil
}

// Clear removes all records and truncates the log.
func (l *Ledger) Clear(_ context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return ledger.ErrClosed
	}

	l.data = make(map[string]*model.Record)
	l.deadOps = 0

	return l.rewrite()
}

// Compact rewrites the log with only the live records.
func (l *Ledger) Compact() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return ledger.ErrClosed
	}

	l.deadOps = 0
	return l.rewrite()
}

func (l *Ledger) maybeCompact() error {
	if l.opts.CompactAfter <= 0 || l.deadOps < l.opts.CompactAfter {
		return nil
	}

	l.deadOps = 0
	return l.rewrite()
}

// rewrite atomically replaces the log with a fresh one containing only the
// live records. Caller must hold the write lock.
func (l *Ledger) rewrite() error {
	tmpPath := l.path + ".compact"

	tmp, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0600) //nolint:gosec // G304: derived from configured path
	if err != nil {
		return fmt.Errorf("failed to create compaction file: %w", err)
	}

	prevFile, prevWriter := l.file, l.writer
	l.file, l.writer = tmp, bufio.NewWriter(tmp)

	restore := func() {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		l.file, l.writer = prevFile, prevWriter
	}

	if err := l.writeHeader(); err != nil {
		restore()
		return err
	}

	for _, record := range l.data {
		payload, err := l.opts.Codec.Marshal(record)
		if err != nil {
			restore()
			return fmt.Errorf("failed to encode record: %w", err)
		}
		if err := l.appendEntry(opPut, payload); err != nil {
			restore()
			return err
		}
	}

	if err := tmp.Sync(); err != nil {
		restore()
		return fmt.Errorf("failed to sync compaction file: %w", err)
	}
	if err := os.Rename(tmpPath, l.path); err != nil {
		restore()
		return fmt.Errorf("failed to swap compacted log: %w", err)
	}

	_ = prevFile.Close()

	return nil
}

// Close flushes and closes the log. The ledger cannot be used afterwards.
func (l *Ledger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return nil
	}
	l.closed = true

	var errs []error
	if err := l.writer.Flush(); err != nil {
		errs = append(errs, err)
	}
	if err := l.file.Sync(); err != nil {
		errs = append(errs, err)
	}
	if err := l.file.Close(); err != nil {
		errs = append(errs, err)
	}

	if l.enc != nil {
		_ = l.enc.Close()
	}
	l.dec.Close()

	return errors.Join(errs...)
}
