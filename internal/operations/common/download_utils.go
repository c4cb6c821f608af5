package common

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/CloudNativeWorks/volzip/pkg/logger"
)

// DefaultChunkSize is the copy buffer used when callers pass zero.
const DefaultChunkSize = 32 * 1024

// CopyWithContext copies data from src to dst in chunks of chunkSize bytes,
// checking ctx before every read. onChunk, when non-nil, is called with the
// running total after each successful write.
func CopyWithContext(ctx context.Context, dst io.Writer, src io.Reader, chunkSize int, onChunk func(written int64)) (int64, error) {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	buf := make([]byte, chunkSize)
	var written int64

	for {
		select {
		case <-ctx.Done():
			return written, ctx.Err()
		default:
		}

		nr, readErr := src.Read(buf)
		if nr > 0 {
			nw, writeErr := dst.Write(buf[:nr])
			if nw > 0 {
				written += int64(nw)
			}
			if writeErr != nil {
				return written, writeErr
			}
			if nr != nw {
				return written, io.ErrShortWrite
			}
			if onChunk != nil {
				onChunk(written)
			}
		}
		if readErr != nil {
			if readErr == io.EOF {
				return written, nil
			}
			return written, readErr
		}
	}
}

// FileSHA256 returns the lowercase hex SHA256 digest of the file at path.
func FileSHA256(filePath string) (string, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return "", fmt.Errorf("failed to open file for checksum: %w", err)
	}
	defer file.Close()

	hasher := sha256.New()
	if _, err := io.Copy(hasher, file); err != nil {
		return "", fmt.Errorf("failed to calculate checksum: %w", err)
	}
	return hex.EncodeToString(hasher.Sum(nil)), nil
}

// VerifyChecksum verifies the SHA256 checksum of a file
func VerifyChecksum(log *logger.Logger, filePath, expectedSHA256 string) error {
	log.WithField("expected", expectedSHA256).Debug("Verifying checksum")

	actualSHA256, err := FileSHA256(filePath)
	if err != nil {
		return err
	}

	if !strings.EqualFold(actualSHA256, expectedSHA256) {
		log.WithFields(logger.Fields{
			"expected": expectedSHA256,
			"actual":   actualSHA256,
		}).Error("Checksum mismatch")
		return fmt.Errorf("checksum mismatch: expected %s, got %s", expectedSHA256, actualSHA256)
	}

	log.Debug("Checksum verification successful")
	return nil
}

// CopyFile copies src to dst, creating or truncating dst with perm.
func CopyFile(src, dst string, perm os.FileMode) (err error) {
	srcFile, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("failed to open source file: %w", err)
	}
	defer srcFile.Close()

	dstFile, err := os.OpenFile(dst, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, perm)
	if err != nil {
		return fmt.Errorf("failed to create destination file: %w", err)
	}
	defer func() {
		if closeErr := dstFile.Close(); closeErr != nil && err == nil {
			err = fmt.Errorf("failed to close destination file: %w", closeErr)
		}
		if err != nil {
			os.Remove(dst)
		}
	}()

	if _, err := io.Copy(dstFile, srcFile); err != nil {
		return fmt.Errorf("failed to copy file: %w", err)
	}

	if err := dstFile.Sync(); err != nil {
		return fmt.Errorf("failed to sync file: %w", err)
	}

	return nil
}

// MoveFile moves a file from src to dst, handling cross-device links
func MoveFile(log *logger.Logger, src, dst string) error {
	if err := os.Rename(src, dst); err == nil {
		return nil
	}

	log.Debug("Rename failed, falling back to copy+delete")

	info, err := os.Stat(src)
	if err != nil {
		return fmt.Errorf("failed to stat source file: %w", err)
	}

	if err := CopyFile(src, dst, info.Mode().Perm()); err != nil {
		return err
	}

	if err := os.Remove(src); err != nil {
		log.WithError(err).Warn("Failed to remove source file after copy")
	}

	return nil
}
