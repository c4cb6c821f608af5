package archive

import (
	"fmt"
	"io"
	"os"

	"github.com/CloudNativeWorks/volzip/internal/operations/common"
	"github.com/CloudNativeWorks/volzip/internal/progress"
	"github.com/CloudNativeWorks/volzip/pkg/logger"
	"github.com/dustin/go-humanize"
)

// VolumeSet lists output files in concatenation order. Joining their bytes
// in this order reproduces the container.
type VolumeSet []string

// Splitter turns a finished container into the final output files.
type Splitter struct {
	log *logger.Logger
}

func NewSplitter() *Splitter {
	return &Splitter{log: logger.NewLogger("splitter")}
}

// VolumeCount returns ceil(size / volumeSize).
func VolumeCount(size, volumeSize uint64) uint64 {
	return (size + volumeSize - 1) / volumeSize
}

// VolumeName returns the path of volume index (1-based) out of total.
// All volumes except the last are <base>.z01, <base>.z02, ...; the last
// one is <base>.zip.
func VolumeName(base string, index, total uint64) string {
	if index == total {
		return base + ".zip"
	}
	return fmt.Sprintf("%s.z%02d", base, index)
}

// Split moves or partitions the container at containerPath. base is the
// output path without extension. When the container fits in volumeSize it
// becomes <base>.zip; otherwise it is cut into fixed-size volumes. The
// container is gone when Split returns, whatever the outcome.
func (s *Splitter) Split(containerPath, base string, volumeSize uint64, rep progress.Reporter) (VolumeSet, error) {
	if volumeSize == 0 {
		os.Remove(containerPath)
		return nil, fmt.Errorf("%w: volume size must be positive", ErrSplitFailed)
	}

	info, err := os.Stat(containerPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSplitFailed, err)
	}
	size := uint64(info.Size())

	if size <= volumeSize {
		final := base + ".zip"
		if err := common.MoveFile(s.log, containerPath, final); err != nil {
			os.Remove(containerPath)
			return nil, fmt.Errorf("%w: %v", ErrSplitFailed, err)
		}
		rep.OnProgress(100)
		s.log.WithField("output", final).Info("Container fits in one volume")
		return VolumeSet{final}, nil
	}

	return s.partition(containerPath, base, size, volumeSize, rep)
}

func (s *Splitter) partition(containerPath, base string, size, volumeSize uint64, rep progress.Reporter) (VolumeSet, error) {
	src, err := os.Open(containerPath)
	if err != nil {
		os.Remove(containerPath)
		return nil, fmt.Errorf("%w: %v", ErrSplitFailed, err)
	}
	defer func() {
		src.Close()
		if err := os.Remove(containerPath); err != nil {
			s.log.WithError(err).Warnf("Failed to remove temp container %s", containerPath)
		}
	}()

	total := VolumeCount(size, volumeSize)
	s.log.WithFields(logger.Fields{
		"container_size": humanize.IBytes(size),
		"volume_size":    humanize.IBytes(volumeSize),
		"volumes":        total,
	}).Info("Splitting container")

	volumes := make(VolumeSet, 0, total)
	for i := uint64(1); i <= total; i++ {
		name := VolumeName(base, i, total)
		n := min(volumeSize, size-(i-1)*volumeSize)

		if err := writeVolume(name, src, n); err != nil {
			return nil, fmt.Errorf("%w: volume %d of %d: %v", ErrSplitFailed, i, total, err)
		}
		volumes = append(volumes, name)
		rep.OnProgress(progress.Round1(BuildShare + float64(i)/float64(total)*(100-BuildShare)))
	}

	return volumes, nil
}

func writeVolume(name string, src io.Reader, n uint64) (err error) {
	dst, err := os.Create(name)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := dst.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
	}()

	written, err := io.CopyN(dst, src, int64(n))
	if err != nil {
		return fmt.Errorf("wrote %d of %d bytes: %w", written, n, err)
	}
	return nil
}
