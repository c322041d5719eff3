package knowledge

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/clinicflow/appointment-engine/pkg/logging"
)

// LoaderConfig controls startup ingestion of clinic documents.
type LoaderConfig struct {
	Dir          string
	ChunkSize    int
	ChunkOverlap int
}

// LoadDirectory reads every .txt and .md file under cfg.Dir, splits each
// into overlapping chunks and ingests them. A missing directory is not an
// error: the retriever simply answers with no passages.
func LoadDirectory(ctx context.Context, cfg LoaderConfig, ingestor Ingestor, logger *logging.Logger) error {
	if logger == nil {
		logger = logging.Default()
	}
	if cfg.Dir == "" {
		return nil
	}
	if _, err := os.Stat(cfg.Dir); os.IsNotExist(err) {
		logger.Warn("knowledge directory missing; retriever starts empty", "dir", cfg.Dir)
		return nil
	}

	var files int
	err := filepath.WalkDir(cfg.Dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		ext := strings.ToLower(filepath.Ext(path))
		if ext != ".txt" && ext != ".md" {
			return nil
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("knowledge: read %s: %w", path, err)
		}
		chunks := SplitText(string(data), cfg.ChunkSize, cfg.ChunkOverlap)
		if len(chunks) == 0 {
			return nil
		}
		rel, relErr := filepath.Rel(cfg.Dir, path)
		if relErr != nil {
			rel = filepath.Base(path)
		}
		if err := ingestor.AddDocuments(ctx, rel, chunks); err != nil {
			return fmt.Errorf("knowledge: ingest %s: %w", rel, err)
		}
		files++
		return nil
	})
	if err != nil {
		return err
	}
	logger.Info("knowledge base loaded", "dir", cfg.Dir, "files", files)
	return nil
}
