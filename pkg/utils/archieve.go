package utils

import (
	"archive/zip"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"backupsync/internal/models"
)

// CreateArchive zips paths into outputPath. Files are stored under their base
// name and directories under their own name; clashing names get a numeric
// suffix so duplicate downloads keep separate entries.
func CreateArchive(paths []string, outputPath string) (*models.ArchiveInfo, error) {
	outFile, err := os.Create(outputPath)
	if err != nil {
		return nil, fmt.Errorf("failed to create archive file: %w", err)
	}
	defer outFile.Close()

	zipWriter := zip.NewWriter(outFile)
	defer zipWriter.Close()

	var originalSize int64
	seen := make(map[string]int)
	for _, p := range paths {
		root := uniqueEntryName(filepath.Base(p), seen)
		size, err := addToArchive(zipWriter, p, root)
		if err != nil {
			return nil, fmt.Errorf("failed to add %s to archive: %w", p, err)
		}
		originalSize += size
	}

	if err := zipWriter.Close(); err != nil {
		return nil, fmt.Errorf("failed to finalize archive: %w", err)
	}

	fileInfo, err := outFile.Stat()
	if err != nil {
		return nil, fmt.Errorf("failed to get archive info: %w", err)
	}
	compressedSize := fileInfo.Size()

	compressionRatio := 0.0
	if originalSize > 0 {
		compressionRatio = float64(compressedSize) / float64(originalSize)
	}

	return &models.ArchiveInfo{
		ArchivePath:      outputPath,
		OriginalPaths:    append([]string(nil), paths...),
		CompressedSize:   compressedSize,
		OriginalSize:     originalSize,
		CompressionRatio: compressionRatio,
		CreatedAt:        time.Now().UTC(),
	}, nil
}

// addToArchive writes sourcePath under entry root and returns the number of
// uncompressed bytes written.
func addToArchive(zipWriter *zip.Writer, sourcePath, root string) (int64, error) {
	var written int64
	err := filepath.Walk(sourcePath, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}

		rel, err := filepath.Rel(sourcePath, p)
		if err != nil {
			return err
		}
		header, err := zip.FileInfoHeader(info)
		if err != nil {
			return err
		}
		header.Name = root
		if rel != "." {
			header.Name = path.Join(root, filepath.ToSlash(rel))
		}
		header.Method = zip.Deflate

		writer, err := zipWriter.CreateHeader(header)
		if err != nil {
			return err
		}
		file, err := os.Open(p)
		if err != nil {
			return err
		}
		defer file.Close()

		n, err := io.Copy(writer, file)
		written += n
		return err
	})
	return written, err
}

func uniqueEntryName(name string, seen map[string]int) string {
	n := seen[name]
	seen[name] = n + 1
	if n == 0 {
		return name
	}
	ext := filepath.Ext(name)
	return fmt.Sprintf("%s_%d%s", strings.TrimSuffix(name, ext), n, ext)
}

// GenerateArchiveName names an archive after prefix and the instant at, so the
// same run always produces the same name.
func GenerateArchiveName(prefix string, at time.Time, extension string) string {
	if prefix == "" {
		prefix = "archive"
	}
	return fmt.Sprintf("%s_%s%s", prefix, at.UTC().Format("20060102_150405"), extension)
}

func ValidatePaths(paths []string) error {
	for _, p := range paths {
		if _, err := os.Stat(p); err != nil {
			if os.IsNotExist(err) {
				return fmt.Errorf("path does not exist: %s", p)
			}
			return fmt.Errorf("cannot access path %s: %w", p, err)
		}
	}
	return nil
}

func CleanupTempFile(path string) error {
	if path == "" {
		return nil
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to cleanup temporary file %s: %w", path, err)
	}
	return nil
}
