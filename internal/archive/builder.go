package archive

import (
	"archive/zip"
	"fmt"
	"io"
	"os"

	"github.com/CloudNativeWorks/volzip/internal/progress"
	"github.com/CloudNativeWorks/volzip/pkg/logger"
	"github.com/klauspost/compress/flate"
	aeszip "github.com/yeka/zip"
)

// BuildShare is the part of the progress bar owned by the builder; the
// splitter fills the rest.
const BuildShare = 90.0

// entryWriter is the subset of a zip writer the builder needs. Plain and
// encrypted containers use different zip implementations behind it.
type entryWriter interface {
	Create(entry ManifestEntry, info os.FileInfo) (io.Writer, error)
	Close() error
}

// Builder streams a manifest into a single zip container.
type Builder struct {
	log *logger.Logger
}

func NewBuilder() *Builder {
	return &Builder{log: logger.NewLogger("builder")}
}

// Build writes every manifest entry, in order, into the job's temp
// container and returns its path. Progress runs from 0 to BuildShare and
// is based on raw input bytes. On failure the temp container is removed.
func (b *Builder) Build(job *Job, m *Manifest, rep progress.Reporter) (_ string, err error) {
	containerPath := job.ContainerPath()

	f, err := os.Create(containerPath)
	if err != nil {
		return "", fmt.Errorf("%w: creating container: %v", ErrBuildFailed, err)
	}

	var zw entryWriter
	if job.Password != "" {
		zw = newEncryptedWriter(f, job.Password, job.CompressionLevel)
		if job.CompressionLevel != DefaultCompressionLevel && job.CompressionLevel != flate.NoCompression {
			b.log.WithField("level", job.CompressionLevel).
				Warn("Encrypted entries use the default deflate level; only level 0 (store) changes it")
		}
	} else {
		zw = newPlainWriter(f, job.CompressionLevel)
	}

	defer func() {
		if err == nil {
			return
		}
		zw.Close()
		f.Close()
		if rmErr := os.Remove(containerPath); rmErr != nil && !os.IsNotExist(rmErr) {
			b.log.WithError(rmErr).Warnf("Failed to remove temp container %s", containerPath)
		}
	}()

	log := b.log.WithFields(logger.Fields{
		"job":       job.ID,
		"container": containerPath,
		"encrypted": job.Password != "",
	})
	log.Infof("Building container from %d files", len(m.Entries))

	var processed uint64
	for _, entry := range m.Entries {
		rep.OnItem(entry.ArchiveName)

		if err := b.addEntry(zw, entry); err != nil {
			return "", fmt.Errorf("%w: %s: %v", ErrBuildFailed, entry.ArchiveName, err)
		}

		processed += entry.Size
		rep.OnProgress(progress.Round1(float64(processed) / float64(m.TotalSize) * BuildShare))
	}

	if err := zw.Close(); err != nil {
		return "", fmt.Errorf("%w: finalizing container: %v", ErrBuildFailed, err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("%w: closing container: %v", ErrBuildFailed, err)
	}

	log.Debug("Container complete")
	return containerPath, nil
}

func (b *Builder) addEntry(zw entryWriter, entry ManifestEntry) error {
	src, err := os.Open(entry.SourcePath)
	if err != nil {
		return err
	}
	defer src.Close()

	info, err := src.Stat()
	if err != nil {
		return err
	}

	w, err := zw.Create(entry, info)
	if err != nil {
		return err
	}
	_, err = io.Copy(w, src)
	return err
}

// plainWriter uses archive/zip with a klauspost deflate compressor. Headers
// carry only name, mode and modification time so identical input gives a
// byte-identical container.
type plainWriter struct {
	zw *zip.Writer
}

func newPlainWriter(w io.Writer, level int) *plainWriter {
	zw := zip.NewWriter(w)
	zw.RegisterCompressor(zip.Deflate, func(out io.Writer) (io.WriteCloser, error) {
		return flate.NewWriter(out, level)
	})
	return &plainWriter{zw: zw}
}

func (p *plainWriter) Create(entry ManifestEntry, info os.FileInfo) (io.Writer, error) {
	hdr, err := zip.FileInfoHeader(info)
	if err != nil {
		return nil, err
	}
	hdr.Name = entry.ArchiveName
	hdr.Method = zip.Deflate
	return p.zw.CreateHeader(hdr)
}

func (p *plainWriter) Close() error {
	return p.zw.Close()
}

// encryptedWriter produces WinZip AES-256 entries. Every entry is
// encrypted with the same password. yeka/zip only ships its built-in
// deflater, so the level picks between storing and deflating.
type encryptedWriter struct {
	zw       *aeszip.Writer
	password string
	method   uint16
}

func newEncryptedWriter(w io.Writer, password string, level int) *encryptedWriter {
	method := aeszip.Deflate
	if level == flate.NoCompression {
		method = aeszip.Store
	}
	return &encryptedWriter{zw: aeszip.NewWriter(w), password: password, method: method}
}

func (e *encryptedWriter) Create(entry ManifestEntry, info os.FileInfo) (io.Writer, error) {
	hdr, err := aeszip.FileInfoHeader(info)
	if err != nil {
		return nil, err
	}
	hdr.Name = entry.ArchiveName
	hdr.Method = e.method
	hdr.SetPassword(e.password)
	hdr.SetEncryptionMethod(aeszip.AES256Encryption)
	return e.zw.CreateHeader(hdr)
}

func (e *encryptedWriter) Close() error {
	return e.zw.Close()
}
