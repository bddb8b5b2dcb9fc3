package plan

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// DirSource serves plan documents from a directory of JSON or YAML
// files named <planID>.<ext>, or <planID>@<version>.<ext> for
// versioned plans.
type DirSource struct {
	dir string
}

// NewDirSource creates a plan source over dir.
func NewDirSource(dir string) *DirSource {
	return &DirSource{dir: dir}
}

// GetPlan loads the named plan. A versioned lookup falls back to the
// unversioned file when no versioned one exists.
func (s *DirSource) GetPlan(ctx context.Context, planID, version string) (*Plan, error) {
	names := make([]string, 0, 2)
	if version != "" {
		names = append(names, planID+"@"+version)
	}
	names = append(names, planID)

	for _, name := range names {
		if strings.ContainsAny(name, `/\`) || strings.Contains(name, "..") {
			return nil, fmt.Errorf("invalid plan id %q", planID)
		}
		for _, ext := range []string{".json", ".yaml", ".yml"} {
			data, err := os.ReadFile(filepath.Join(s.dir, name+ext))
			if os.IsNotExist(err) {
				continue
			}
			if err != nil {
				return nil, fmt.Errorf("read plan %s: %w", planID, err)
			}
			if ext == ".json" {
				return LoadJSON(data)
			}
			return LoadYAML(data)
		}
	}
	return nil, fmt.Errorf("plan %s not found in %s", planID, s.dir)
}
