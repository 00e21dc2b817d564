package artifact

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
)

// Relocator moves resolved artifacts from scratch space into durable
// storage. Moves are rename-based so a reader never observes a partially
// written file at the final name.
type Relocator struct {
	dir string
	log *zap.Logger
}

func NewRelocator(dir string, log *zap.Logger) *Relocator {
	return &Relocator{dir: dir, log: log}
}

// Relocate moves sourcePath into the storage dir as suggestedName and
// returns the final name. Durable storage is namespaced by job id: a name
// that does not already carry the id (nested multi-file outputs resolve to
// bare inner names) gets it prefixed up front, which also keeps the serving
// boundary able to recover the owning job from any artifact name. On
// collision the name is retried with the id prefix; if even the prefixed
// name exists the entry is overwritten with a warning, since id-namespaced
// names make true collisions rare and non-fatal.
func (r *Relocator) Relocate(sourcePath, suggestedName, jobID string) (string, error) {
	if err := os.MkdirAll(r.dir, 0o755); err != nil {
		return "", fmt.Errorf("create storage dir: %w", err)
	}

	finalName := suggestedName
	if !strings.HasPrefix(finalName, jobID) {
		finalName = jobID + "_" + finalName
	}
	if _, err := os.Stat(filepath.Join(r.dir, finalName)); err == nil {
		if !strings.HasPrefix(finalName, jobID+"_") {
			finalName = jobID + "_" + finalName
		}
		if _, err := os.Stat(filepath.Join(r.dir, finalName)); err == nil {
			r.log.Warn("overwriting existing artifact",
				zap.String("job_id", jobID),
				zap.String("name", finalName))
		}
	}

	if err := move(sourcePath, filepath.Join(r.dir, finalName)); err != nil {
		return "", err
	}
	return finalName, nil
}

func move(src, dst string) error {
	if err := os.Rename(src, dst); err == nil {
		return nil
	}
	// Scratch and durable storage may live on different filesystems;
	// stage a copy next to the destination and rename it into place.
	tmp, err := os.CreateTemp(filepath.Dir(dst), ".relocate-*")
	if err != nil {
		return fmt.Errorf("stage artifact: %w", err)
	}
	defer os.Remove(tmp.Name())

	in, err := os.Open(src)
	if err != nil {
		tmp.Close()
		return fmt.Errorf("open artifact: %w", err)
	}
	_, copyErr := io.Copy(tmp, in)
	in.Close()
	if err := tmp.Close(); copyErr == nil {
		copyErr = err
	}
	if copyErr != nil {
		return fmt.Errorf("copy artifact: %w", copyErr)
	}

	if err := os.Rename(tmp.Name(), dst); err != nil {
		return fmt.Errorf("move artifact: %w", err)
	}
	return os.Remove(src)
}
