// Package pathcompress turns a staging directory into a single portable
// snapshot archive. Snapshots exist so an offline bundle can be carried to an
// air-gapped machine as one file and unpacked there.
//
// Archives are written to a temp file in the output directory and renamed into
// place, so a crashed run never leaves a plausible-looking partial archive.
package pathcompress

import (
	"archive/tar"
	"bufio"
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/klauspost/pgzip"

	"github.com/piperlabs/piper-provision/pkg/metrics"
	"github.com/piperlabs/piper-provision/pkg/plog"
	"github.com/piperlabs/piper-provision/pkg/pool"
	"github.com/piperlabs/piper-provision/pkg/util"
)

// PathCompressor writes snapshot archives of a staging tree.
type PathCompressor struct {
	ioBufferPool *pool.FixedBufferPool
	ioBufferSize int64
}

// NewPathCompressor creates a new PathCompressor with the given I/O buffer size.
func NewPathCompressor(bufferSizeKB int) *PathCompressor {
	if bufferSizeKB < 4 {
		bufferSizeKB = 4
	}
	size := int64(bufferSizeKB) * 1024
	return &PathCompressor{
		ioBufferPool: pool.NewFixedBuffer(size),
		ioBufferSize: size,
	}
}

// ArchiveName builds the snapshot file name for a given prefix, timestamp and format.
func ArchiveName(prefix string, ts time.Time, format Format) string {
	return fmt.Sprintf("%s%s.%s", prefix, ts.UTC().Format("2006-01-02_15-04-05"), format)
}

// Compress archives srcDir into archivePath using the given format.
func (c *PathCompressor) Compress(ctx context.Context, srcDir, archivePath string, format Format, dryRun bool, mtr metrics.Metrics) (retErr error) {
	plog.Info("Creating snapshot", "source", srcDir, "archive", archivePath, "format", format.String())

	if dryRun {
		plog.Info("[DRY RUN] Would create snapshot", "archive", archivePath)
		return nil
	}

	tmpF, err := os.CreateTemp(filepath.Dir(archivePath), "piper-provision-*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp archive: %w", err)
	}
	tempTrgPath := tmpF.Name()

	defer func() {
		if retErr != nil {
			tmpF.Close()
			os.Remove(tempTrgPath)
		}
	}()

	if err := c.writeArchive(ctx, srcDir, tmpF, format, mtr); err != nil {
		return err
	}

	if err := tmpF.Close(); err != nil {
		return fmt.Errorf("failed to close temp archive: %w", err)
	}
	if err := os.Rename(tempTrgPath, archivePath); err != nil {
		return fmt.Errorf("failed to rename temp archive to final path: %w", err)
	}
	return nil
}

func (c *PathCompressor) writeArchive(ctx context.Context, srcDir string, trgF *os.File, format Format, mtr metrics.Metrics) (retErr error) {
	bufWriter := bufio.NewWriterSize(trgF, int(c.ioBufferSize))

	var compressedWriter io.WriteCloser
	switch format {
	case TarZst:
		zstdWriter, err := zstd.NewWriter(bufWriter, zstd.WithEncoderLevel(zstd.SpeedDefault))
		if err != nil {
			return fmt.Errorf("failed to create zstd writer: %w", err)
		}
		compressedWriter = zstdWriter
	case TarGz:
		pgzipWriter, err := pgzip.NewWriterLevel(bufWriter, pgzip.DefaultCompression)
		if err != nil {
			return fmt.Errorf("failed to create gzip writer: %w", err)
		}
		compressedWriter = pgzipWriter
	default:
		return fmt.Errorf("unsupported snapshot format: %s", format)
	}

	tarWriter := tar.NewWriter(compressedWriter)

	defer func() {
		if err := tarWriter.Close(); err != nil && retErr == nil {
			retErr = fmt.Errorf("tar writer close failed: %w", err)
		}
		if err := compressedWriter.Close(); err != nil && retErr == nil {
			retErr = fmt.Errorf("compressed writer close failed: %w", err)
		}
		if err := bufWriter.Flush(); err != nil && retErr == nil {
			retErr = fmt.Errorf("buffer flush failed: %w", err)
		}
	}()

	bufPtr := c.ioBufferPool.Get()
	defer c.ioBufferPool.Put(bufPtr)

	return filepath.WalkDir(srcDir, func(absSrcPath string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		info, err := d.Info()
		if err != nil {
			return fmt.Errorf("failed to get file info for %s: %w", absSrcPath, err)
		}

		relPathKey, err := filepath.Rel(srcDir, absSrcPath)
		if err != nil {
			return fmt.Errorf("failed to get relative path for %s: %w", absSrcPath, err)
		}
		relPathKey = util.NormalizePath(relPathKey)
		if relPathKey == "." {
			return nil
		}

		if info.Mode()&os.ModeSymlink != 0 {
			linkTarget, err := os.Readlink(absSrcPath)
			if err != nil {
				return fmt.Errorf("failed to read link %s: %w", absSrcPath, err)
			}
			header, err := tar.FileInfoHeader(info, linkTarget)
			if err != nil {
				return fmt.Errorf("failed to create tar header for %s: %w", relPathKey, err)
			}
			header.Name = relPathKey
			return tarWriter.WriteHeader(header)
		}

		header, err := tar.FileInfoHeader(info, "")
		if err != nil {
			return fmt.Errorf("failed to create tar header for %s: %w", relPathKey, err)
		}
		header.Name = relPathKey
		if d.IsDir() {
			header.Name += "/"
			return tarWriter.WriteHeader(header)
		}
		if !d.Type().IsRegular() {
			plog.Warn("Skipping non-regular file in snapshot", "path", absSrcPath)
			return nil
		}

		if err := tarWriter.WriteHeader(header); err != nil {
			return fmt.Errorf("failed to write tar header for %s: %w", relPathKey, err)
		}

		src, err := os.Open(absSrcPath)
		if err != nil {
			return fmt.Errorf("failed to open file %s: %w", absSrcPath, err)
		}
		written, err := io.CopyBuffer(tarWriter, src, *bufPtr)
		src.Close()
		if err != nil {
			return fmt.Errorf("failed to archive %s: %w", relPathKey, err)
		}

		mtr.AddFilesCopied(1)
		mtr.AddBytesCopied(written)
		return nil
	})
}
