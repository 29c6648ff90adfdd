// Package catalog provides the file-backed item source used to enumerate
// library items. The catalog file is a YAML snapshot of the media server's
// libraries; enumeration order follows file order so a resumed job walks the
// same sequence as the interrupted one.
package catalog

import (
	"context"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	domain "github.com/metafix/metafix/internal/domain/scanning"
	"github.com/metafix/metafix/pkg/config"
)

// catalogFile mirrors the on-disk catalog layout.
type catalogFile struct {
	Libraries []catalogLibrary `yaml:"libraries"`
}

type catalogLibrary struct {
	ID    string        `yaml:"id"`
	Name  string        `yaml:"name"`
	Type  string        `yaml:"type"`
	Items []catalogItem `yaml:"items"`
}

type catalogItem struct {
	RatingKey string `yaml:"rating_key"`
	GUID      string `yaml:"guid,omitempty"`
	Title     string `yaml:"title"`
	Year      int    `yaml:"year,omitempty"`
	Edition   string `yaml:"edition,omitempty"`
}

// FileSource enumerates items from a YAML catalog file, restricted to the
// libraries the target configuration puts in scope.
type FileSource struct {
	path    string
	targets *config.Targets
}

var _ domain.ItemSource = (*FileSource)(nil)

// NewFileSource creates a FileSource. A nil targets configuration means no
// library filter.
func NewFileSource(path string, targets *config.Targets) *FileSource {
	if targets == nil {
		targets = &config.Targets{}
	}
	return &FileSource{path: path, targets: targets}
}

// Enumerate reads the catalog and returns the in-scope items in file order.
// The kind narrows media types: artwork scans cover every item, edition scans
// cover movies only since shows carry no edition string.
func (s *FileSource) Enumerate(ctx context.Context, kind domain.JobKind) ([]domain.ItemRef, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog file: %w", err)
	}

	var cat catalogFile
	if err := yaml.Unmarshal(data, &cat); err != nil {
		return nil, fmt.Errorf("failed to parse catalog file: %w", err)
	}

	inScope := scopeSet(s.targets)

	var items []domain.ItemRef
	for _, lib := range cat.Libraries {
		if inScope != nil {
			if _, ok := inScope[lib.Name]; !ok {
				continue
			}
		}
		if kind == domain.JobKindEdition && lib.Type != string(config.MediaTypeMovie) {
			continue
		}
		for _, it := range lib.Items {
			items = append(items, domain.ItemRef{
				RatingKey:    it.RatingKey,
				GUID:         it.GUID,
				Title:        it.Title,
				Year:         it.Year,
				MediaType:    lib.Type,
				LibraryID:    lib.ID,
				LibraryName:  lib.Name,
				EditionTitle: it.Edition,
			})
		}
	}
	return items, nil
}

// scopeSet returns the allowed library names, or nil when no filter applies.
func scopeSet(targets *config.Targets) map[string]struct{} {
	names := targets.LibraryNames()
	if len(names) == 0 {
		return nil
	}
	set := make(map[string]struct{}, len(names))
	for _, n := range names {
		set[n] = struct{}{}
	}
	return set
}
