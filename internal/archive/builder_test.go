package archive

import (
	"archive/zip"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/CloudNativeWorks/volzip/internal/progress"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	aeszip "github.com/yeka/zip"
)

func newTestJob(t *testing.T, source string, volumeSize uint64, opts ...JobOption) *Job {
	t.Helper()
	job, err := NewJob(source, t.TempDir(), volumeSize, opts...)
	require.NoError(t, err)
	return job
}

func TestBuild_PlainContainer(t *testing.T) {
	root := filepath.Join(t.TempDir(), "docs")
	files := map[string][]byte{
		"a.txt":     []byte("alpha alpha alpha"),
		"sub/b.txt": []byte("bravo"),
		"sub/c.bin": randomBytes(4096, 1),
	}
	writeTree(t, root, files)

	job := newTestJob(t, root, 1<<20)
	m, err := NewScanner().Scan(job.SourcePath, nil)
	require.NoError(t, err)

	rec := &progress.Recorder{}
	container, err := NewBuilder().Build(job, m, rec)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(job.OutputDir, "docs.temp"), container)

	zr, err := zip.OpenReader(container)
	require.NoError(t, err)
	defer zr.Close()

	require.Len(t, zr.File, 3)
	for i, f := range zr.File {
		assert.Equal(t, m.Entries[i].ArchiveName, f.Name)
		assert.Equal(t, zip.Deflate, f.Method)

		rc, err := f.Open()
		require.NoError(t, err)
		got, err := io.ReadAll(rc)
		rc.Close()
		require.NoError(t, err)
		assert.Equal(t, files[f.Name], got)
	}

	assert.Equal(t, []string{"a.txt", "sub/b.txt", "sub/c.bin"}, rec.Items())
	percents := rec.Percents()
	require.Len(t, percents, 3)
	assert.Equal(t, 90.0, percents[len(percents)-1])
	assert.IsNonDecreasing(t, percents)
}

func TestBuild_ProgressUsesRawSizes(t *testing.T) {
	root := filepath.Join(t.TempDir(), "src")
	writeTree(t, root, map[string][]byte{
		"1": make([]byte, 100),
		"2": make([]byte, 300),
	})

	job := newTestJob(t, root, 1<<20)
	m, err := NewScanner().Scan(job.SourcePath, nil)
	require.NoError(t, err)

	rec := &progress.Recorder{}
	_, err = NewBuilder().Build(job, m, rec)
	require.NoError(t, err)

	assert.Equal(t, []float64{22.5, 90}, rec.Percents())
}

func TestBuild_EncryptsEveryEntry(t *testing.T) {
	root := filepath.Join(t.TempDir(), "secret")
	files := map[string][]byte{
		"one.txt":     []byte("first secret"),
		"two/two.txt": []byte("second secret"),
	}
	writeTree(t, root, files)

	job := newTestJob(t, root, 1<<20, WithPassword("s3cr3t"))
	m, err := NewScanner().Scan(job.SourcePath, nil)
	require.NoError(t, err)

	container, err := NewBuilder().Build(job, m, progress.Nop{})
	require.NoError(t, err)

	zr, err := aeszip.OpenReader(container)
	require.NoError(t, err)
	defer zr.Close()

	require.Len(t, zr.File, 2)
	for _, f := range zr.File {
		require.True(t, f.IsEncrypted(), "%s is not encrypted", f.Name)
		f.SetPassword("s3cr3t")

		rc, err := f.Open()
		require.NoError(t, err)
		got, err := io.ReadAll(rc)
		rc.Close()
		require.NoError(t, err)
		assert.Equal(t, files[f.Name], got)
	}
}

func TestBuild_EncryptedEntriesKeepMetadata(t *testing.T) {
	root := filepath.Join(t.TempDir(), "meta")
	writeTree(t, root, map[string][]byte{"run.sh": []byte("#!/bin/sh\necho hi\n")})
	src := filepath.Join(root, "run.sh")
	mtime := time.Date(2024, 3, 15, 10, 30, 0, 0, time.UTC)
	require.NoError(t, os.Chtimes(src, mtime, mtime))
	require.NoError(t, os.Chmod(src, 0o750))

	for _, tt := range []struct {
		level  int
		method uint16
	}{
		{DefaultCompressionLevel, aeszip.Deflate},
		{0, aeszip.Store},
	} {
		job := newTestJob(t, root, 1<<20, WithPassword("pw"), WithCompressionLevel(tt.level))
		m, err := NewScanner().Scan(job.SourcePath, nil)
		require.NoError(t, err)

		container, err := NewBuilder().Build(job, m, progress.Nop{})
		require.NoError(t, err)

		zr, err := aeszip.OpenReader(container)
		require.NoError(t, err)
		require.Len(t, zr.File, 1)
		f := zr.File[0]

		assert.Equal(t, "run.sh", f.Name)
		assert.Equal(t, tt.method, f.Method, "level %d", tt.level)
		assert.WithinDuration(t, mtime, f.ModTime(), 2*time.Second)
		if runtime.GOOS != "windows" {
			assert.Equal(t, os.FileMode(0o750), f.Mode().Perm())
		}

		f.SetPassword("pw")
		rc, err := f.Open()
		require.NoError(t, err)
		got, err := io.ReadAll(rc)
		rc.Close()
		require.NoError(t, err)
		assert.Equal(t, "#!/bin/sh\necho hi\n", string(got))
		zr.Close()
	}
}

func TestBuild_FailureRemovesContainer(t *testing.T) {
	root := filepath.Join(t.TempDir(), "vanishing")
	writeTree(t, root, map[string][]byte{"a": []byte("aaa"), "b": []byte("bbb")})

	job := newTestJob(t, root, 1<<20)
	m, err := NewScanner().Scan(job.SourcePath, nil)
	require.NoError(t, err)

	require.NoError(t, os.Remove(filepath.Join(root, "b")))

	_, err = NewBuilder().Build(job, m, progress.Nop{})
	require.ErrorIs(t, err, ErrBuildFailed)

	_, statErr := os.Stat(job.ContainerPath())
	assert.True(t, os.IsNotExist(statErr), "temp container left behind")
}
