package artifact

import (
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/you/fetchd/internal/domain"
)

// Suffixes the tools leave behind that are never the final artifact:
// partial downloads, resume markers, sidecar metadata.
var skippedSuffixes = []string{".part", ".ytdl", ".temp", ".info.json"}

// Resolve locates the single real output file the fetch tool produced for
// jobID inside scratchDir. The output template embeds the job id, so every
// candidate is discovered by prefix rather than by parsing tool output.
//
// Some tools group multi-file results in a subdirectory named after the
// job id; Resolve recurses one level into such a directory and applies the
// same filtering. When several candidates survive, the lexically first one
// wins; only a single artifact is retained per job.
func Resolve(scratchDir, jobID string) (path, filename string, err error) {
	candidates, err := scan(scratchDir, jobID, true, true)
	if err != nil {
		return "", "", err
	}
	if len(candidates) == 0 {
		return "", "", domain.ErrNoArtifact
	}
	sort.Strings(candidates)
	return candidates[0], filepath.Base(candidates[0]), nil
}

func scan(dir, jobID string, requirePrefix, recurse bool) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	var out []string
	for _, e := range entries {
		name := e.Name()
		if requirePrefix && !strings.HasPrefix(name, jobID) {
			continue
		}
		if e.IsDir() {
			if recurse && name == jobID {
				nested, err := scan(filepath.Join(dir, name), jobID, false, false)
				if err != nil {
					return nil, err
				}
				out = append(out, nested...)
			}
			continue
		}
		if skipped(name) {
			continue
		}
		out = append(out, filepath.Join(dir, name))
	}
	return out, nil
}

func skipped(name string) bool {
	for _, s := range skippedSuffixes {
		if strings.HasSuffix(name, s) {
			return true
		}
	}
	return false
}
