package cache

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync/atomic"

	"github.com/google/renameio/v2"
	"github.com/klauspost/compress/zstd"
	"github.com/rs/zerolog/log"
)

const (
	// Cache file format constants
	cacheMagic   = "GPCACHE1"
	cacheVersion = uint32(1)
	headerSize   = 24 // 8 bytes magic + 4 bytes version + 4 bytes reserved + 8 bytes signature

	// FileName is the cache file inside the cache directory
	FileName = "transforms.cache"

	maxRecordSize = 64 * 1024 * 1024

	flagExtract uint8 = 1
)

var errCorruptRecord = errors.New("corrupt cache record")

// fileStore is a memory store loaded from and persisted to a single file.
type fileStore struct {
	*memoryStore
	path      string
	signature uint64
	dirty     atomic.Bool
}

// OpenFile loads the cache file in dir. A missing, corrupt or stale file
// yields an empty store, the cache never fails a build.
func OpenFile(dir string, signature uint64) (Store, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}

	fs := &fileStore{
		memoryStore: newMemoryStore(),
		path:        filepath.Join(dir, FileName),
		signature:   signature,
	}

	if err := fs.load(); err != nil {
		log.Warn().Err(err).Str("cache", fs.path).Msg("Discarding transform cache")
		fs.memoryStore = newMemoryStore()
		fs.dirty.Store(true)
	}

	log.Debug().Str("cache", fs.path).Int("entries", fs.Len()).Msg("Transform cache opened")

	return fs, nil
}

func (fs *fileStore) Put(path string, entry Entry) {
	fs.memoryStore.Put(path, entry)
	fs.dirty.Store(true)
}

func (fs *fileStore) Invalidate(paths ...string) {
	fs.memoryStore.Invalidate(paths...)
	fs.dirty.Store(true)
}

// Close rewrites the cache file if anything changed since it was loaded.
func (fs *fileStore) Close() error {
	if !fs.dirty.Swap(false) {
		return nil
	}

	pending, err := renameio.NewPendingFile(fs.path)
	if err != nil {
		return fmt.Errorf("failed to create pending cache file: %w", err)
	}
	defer func() {
		if err := pending.Cleanup(); err != nil {
			log.Debug().Err(err).Msg("Failed to clean up pending cache file")
		}
	}()

	if _, err := pending.Write(buildHeader(fs.signature)); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}

	enc, err := zstd.NewWriter(pending, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return fmt.Errorf("failed to create encoder: %w", err)
	}

	count := 0
	for _, path := range fs.sortedPaths() {
		fs.mu.RLock()
		entry, ok := fs.entries[path]
		fs.mu.RUnlock()
		if !ok {
			continue
		}
		if _, err := enc.Write(buildRecord(path, entry)); err != nil {
			_ = enc.Close()
			return fmt.Errorf("failed to write record: %w", err)
		}
		count++
	}

	if err := enc.Close(); err != nil {
		return fmt.Errorf("failed to close encoder: %w", err)
	}

	if err := pending.CloseAtomicallyReplace(); err != nil {
		return fmt.Errorf("failed to replace cache file: %w", err)
	}

	log.Debug().Str("cache", fs.path).Int("entries", count).Msg("Transform cache written")

	return nil
}

func (fs *fileStore) load() error {
	file, err := os.Open(fs.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to open cache: %w", err)
	}
	defer file.Close()

	header := make([]byte, headerSize)
	if _, err := io.ReadFull(file, header); err != nil {
		return fmt.Errorf("failed to read header: %w", err)
	}

	if magic := string(header[0:8]); magic != cacheMagic {
		return fmt.Errorf("invalid magic: %q", magic)
	}
	if version := binary.LittleEndian.Uint32(header[8:12]); version != cacheVersion {
		return fmt.Errorf("unsupported version: %d", version)
	}
	if signature := binary.LittleEndian.Uint64(header[16:24]); signature != fs.signature {
		// loader configuration changed, every entry is stale
		log.Info().Str("cache", fs.path).Msg("Loader configuration changed, starting with an empty cache")
		fs.dirty.Store(true)
		return nil
	}

	dec, err := zstd.NewReader(file)
	if err != nil {
		return fmt.Errorf("failed to create decoder: %w", err)
	}
	defer dec.Close()

	r := bufio.NewReader(dec)
	for {
		path, entry, err := readRecord(r)
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			// keep what was read so far, rewrite the file on close
			log.Warn().Err(err).Int("entries", fs.memoryStore.Len()).Msg("Transform cache truncated at corrupt record")
			fs.dirty.Store(true)
			return nil
		}
		fs.memoryStore.Put(path, entry)
	}
}

func buildHeader(signature uint64) []byte {
	header := make([]byte, headerSize)
	copy(header[0:8], cacheMagic)
	binary.LittleEndian.PutUint32(header[8:12], cacheVersion)
	binary.LittleEndian.PutUint32(header[12:16], 0)
	binary.LittleEndian.PutUint64(header[16:24], signature)
	return header
}

// buildRecord encodes an entry into the binary record format:
//   - Length (4 bytes, uint32) - size of the payload
//   - Payload: path, sum, flags, code, styles, deps (strings are length prefixed)
//   - CRC64 (8 bytes, uint64) - CRC64-NVME checksum of the payload
func buildRecord(path string, entry Entry) []byte {
	payload := new(bytes.Buffer)

	// binary.Write to bytes.Buffer never errors
	writeBytes(payload, []byte(path))
	_ = binary.Write(payload, binary.LittleEndian, entry.Sum)
	var flags uint8
	if entry.Extract {
		flags |= flagExtract
	}
	payload.WriteByte(flags)
	writeBytes(payload, entry.Code)
	writeBytes(payload, entry.Styles)
	_ = binary.Write(payload, binary.LittleEndian, uint32(len(entry.Deps))) //nolint:gosec // bounded by module size
	for _, dep := range entry.Deps {
		writeBytes(payload, []byte(dep))
	}

	record := new(bytes.Buffer)
	_ = binary.Write(record, binary.LittleEndian, uint32(payload.Len())) //nolint:gosec // bounded by maxRecordSize
	record.Write(payload.Bytes())
	_ = binary.Write(record, binary.LittleEndian, Checksum(payload.Bytes()))

	return record.Bytes()
}

func readRecord(r io.Reader) (string, Entry, error) {
	var length uint32
	if err := binary.Read(r, binary.LittleEndian, &length); err != nil {
		if errors.Is(err, io.EOF) {
			return "", Entry{}, io.EOF
		}
		return "", Entry{}, fmt.Errorf("failed to read length: %w", err)
	}
	if length > maxRecordSize {
		return "", Entry{}, fmt.Errorf("%w: length %d", errCorruptRecord, length)
	}

	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return "", Entry{}, fmt.Errorf("failed to read record: %w", err)
	}

	var storedCRC uint64
	if err := binary.Read(r, binary.LittleEndian, &storedCRC); err != nil {
		return "", Entry{}, fmt.Errorf("failed to read checksum: %w", err)
	}
	if computed := Checksum(payload); computed != storedCRC {
		return "", Entry{}, fmt.Errorf("%w: CRC64 mismatch stored=%x computed=%x", errCorruptRecord, storedCRC, computed)
	}

	return decodePayload(payload)
}

func decodePayload(payload []byte) (string, Entry, error) {
	buf := bytes.NewReader(payload)
	var entry Entry

	path, err := readBytes(buf)
	if err != nil {
		return "", Entry{}, err
	}
	if err := binary.Read(buf, binary.LittleEndian, &entry.Sum); err != nil {
		return "", Entry{}, fmt.Errorf("%w: sum", errCorruptRecord)
	}
	flags, err := buf.ReadByte()
	if err != nil {
		return "", Entry{}, fmt.Errorf("%w: flags", errCorruptRecord)
	}
	entry.Extract = flags&flagExtract != 0

	if entry.Code, err = readBytes(buf); err != nil {
		return "", Entry{}, err
	}
	if entry.Styles, err = readBytes(buf); err != nil {
		return "", Entry{}, err
	}

	var depCount uint32
	if err := binary.Read(buf, binary.LittleEndian, &depCount); err != nil {
		return "", Entry{}, fmt.Errorf("%w: dependency count", errCorruptRecord)
	}
	for range depCount {
		dep, err := readBytes(buf)
		if err != nil {
			return "", Entry{}, err
		}
		entry.Deps = append(entry.Deps, string(dep))
	}

	if len(entry.Styles) == 0 {
		entry.Styles = nil
	}

	return string(path), entry, nil
}

func writeBytes(buf *bytes.Buffer, data []byte) {
	_ = binary.Write(buf, binary.LittleEndian, uint32(len(data))) //nolint:gosec // bounded by maxRecordSize
	buf.Write(data)
}

func readBytes(r *bytes.Reader) ([]byte, error) {
	var n uint32
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return nil, fmt.Errorf("%w: length prefix", errCorruptRecord)
	}
	if int64(n) > int64(r.Len()) {
		return nil, fmt.Errorf("%w: length %d exceeds payload", errCorruptRecord, n)
	}
	data := make([]byte, n)
	if _, err := io.ReadFull(r, data); err != nil {
		return nil, fmt.Errorf("%w: %v", errCorruptRecord, err)
	}
	return data, nil
}
