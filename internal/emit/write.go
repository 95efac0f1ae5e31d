package emit

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/renameio/v2"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/rs/zerolog"
	"github.com/wolfeidau/gopack/internal/config"
)

const maxWriteTries = 4

// writeFile atomically replaces path with data, retrying transient failures.
func writeFile(ctx context.Context, path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 50 * time.Millisecond
	policy.MaxInterval = time.Second

	attempt := 0
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		attempt++
		err := writeAtomic(path, data)
		if err == nil {
			return struct{}{}, nil
		}
		if errors.Is(err, os.ErrPermission) {
			return struct{}{}, backoff.Permanent(err)
		}
		zerolog.Ctx(ctx).Warn().Err(err).Str("asset", path).Int("attempt", attempt).Msg("Write failed, retrying")
		return struct{}{}, err
	}, backoff.WithBackOff(policy), backoff.WithMaxTries(maxWriteTries))
	if err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}

func writeAtomic(path string, data []byte) error {
	pending, err := renameio.NewPendingFile(path, renameio.WithPermissions(0644))
	if err != nil {
		return fmt.Errorf("create pending file: %w", err)
	}
	defer pending.Cleanup() //nolint:errcheck

	if _, err := pending.Write(data); err != nil {
		return fmt.Errorf("write pending file: %w", err)
	}

	return pending.CloseAtomicallyReplace()
}

// compressed returns the file suffix and encoded data for a compression format.
func compressed(format string, data []byte) (string, []byte, error) {
	switch format {
	case config.CompressGzip:
		var buf bytes.Buffer
		zw, err := gzip.NewWriterLevel(&buf, gzip.BestCompression)
		if err != nil {
			return "", nil, err
		}
		if _, err := io.Copy(zw, bytes.NewReader(data)); err != nil {
			return "", nil, err
		}
		if err := zw.Close(); err != nil {
			return "", nil, err
		}
		return ".gz", buf.Bytes(), nil
	case config.CompressZstd:
		enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedBestCompression))
		if err != nil {
			return "", nil, err
		}
		defer enc.Close()
		return ".zst", enc.EncodeAll(data, nil), nil
	}
	return "", nil, fmt.Errorf("unsupported compression format %q", format)
}

// CleanDir removes the contents of dir, keeping dir itself.
func CleanDir(dir string) error {
	entries, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read output directory: %w", err)
	}
	for _, entry := range entries {
		if err := os.RemoveAll(filepath.Join(dir, entry.Name())); err != nil {
			return fmt.Errorf("failed to clean output directory: %w", err)
		}
	}
	return nil
}
