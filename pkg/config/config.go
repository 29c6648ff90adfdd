// Package config holds the service settings and the scan-target
// configuration that selects which media libraries a scan covers.
package config

// MediaType enumerates the supported library media types.
type MediaType string

const (
	MediaTypeMovie MediaType = "movie"
	MediaTypeShow  MediaType = "show"
)

// LibrarySpec selects one media server library for scanning.
type LibrarySpec struct {
	Name string    `yaml:"name"`
	Type MediaType `yaml:"type"`

	// Exclude removes the library from enumeration even when it matches.
	Exclude bool `yaml:"exclude,omitempty"`
}

// EditionRule maps a filename or metadata pattern to the edition string a
// scan applies when the pattern matches.
type EditionRule struct {
	Match   string `yaml:"match"`
	Edition string `yaml:"edition"`
}

// Targets is the top-level scan-target configuration. An empty Libraries
// list means every library on the server is in scope.
type Targets struct {
	Libraries []LibrarySpec `yaml:"libraries,omitempty"`
	Editions  []EditionRule `yaml:"editions,omitempty"`
}

// LibraryNames returns the names of the libraries in scope, skipping the
// excluded ones. An empty result with no Libraries entries means no filter.
func (t *Targets) LibraryNames() []string {
	var names []string
	for _, lib := range t.Libraries {
		if !lib.Exclude {
			names = append(names, lib.Name)
		}
	}
	return names
}
