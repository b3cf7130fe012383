package archive

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/klauspost/compress/zstd"
	"github.com/sirupsen/logrus"

	"github.com/frostdev-ops/botpanel-monitor/internal/core/analytics"
)

const fileSuffix = ".jsonl.zst"

// RollupArchiver writes pruned rollups to zstd-compressed JSON lines files
type RollupArchiver struct {
	dir    string
	logger *logrus.Logger
}

// NewRollupArchiver creates an archiver writing into dir
func NewRollupArchiver(dir string, logger *logrus.Logger) (*RollupArchiver, error) {
	if dir == "" {
		return nil, fmt.Errorf("archive directory is required")
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create archive directory: %w", err)
	}
	return &RollupArchiver{dir: dir, logger: logger}, nil
}

// Dir returns the archive directory
func (a *RollupArchiver) Dir() string {
	return a.dir
}

// Archive writes records to a new archive file and returns its path.
// Nothing is written for an empty batch.
func (a *RollupArchiver) Archive(ctx context.Context, records []analytics.Record) (string, error) {
	if len(records) == 0 {
		return "", nil
	}

	name := fmt.Sprintf("rollups-%s-%s%s",
		time.Now().UTC().Format("20060102T150405"), uuid.New().String()[:8], fileSuffix)
	path := filepath.Join(a.dir, name)

	file, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("failed to create archive file: %w", err)
	}

	if err := writeRecords(ctx, file, records); err != nil {
		file.Close()
		os.Remove(path)
		return "", err
	}
	if err := file.Close(); err != nil {
		return "", fmt.Errorf("failed to close archive file: %w", err)
	}

	a.logger.WithFields(logrus.Fields{
		"path":    path,
		"records": len(records),
	}).Info("Archived pruned rollups")

	return path, nil
}

func writeRecords(ctx context.Context, w io.Writer, records []analytics.Record) error {
	zw, err := zstd.NewWriter(w)
	if err != nil {
		return fmt.Errorf("failed to create zstd writer: %w", err)
	}

	enc := json.NewEncoder(zw)
	for _, r := range records {
		if err := ctx.Err(); err != nil {
			zw.Close()
			return err
		}
		if err := enc.Encode(r); err != nil {
			zw.Close()
			return fmt.Errorf("failed to encode rollup: %w", err)
		}
	}

	if err := zw.Close(); err != nil {
		return fmt.Errorf("failed to flush zstd stream: %w", err)
	}
	return nil
}

// ReadFile decodes every record of an archive file
func ReadFile(path string) ([]analytics.Record, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open archive file: %w", err)
	}
	defer file.Close()

	zr, err := zstd.NewReader(file)
	if err != nil {
		return nil, fmt.Errorf("failed to create zstd reader: %w", err)
	}
	defer zr.Close()

	var records []analytics.Record
	scanner := bufio.NewScanner(zr)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var r analytics.Record
		if err := json.Unmarshal(line, &r); err != nil {
			return nil, fmt.Errorf("failed to decode rollup: %w", err)
		}
		records = append(records, r)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read archive file: %w", err)
	}
	return records, nil
}

// Files lists the archive files in the directory, oldest first
func (a *RollupArchiver) Files() ([]string, error) {
	entries, err := os.ReadDir(a.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to list archive directory: %w", err)
	}

	var files []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), fileSuffix) {
			continue
		}
		files = append(files, filepath.Join(a.dir, e.Name()))
	}
	sort.Strings(files)
	return files, nil
}
