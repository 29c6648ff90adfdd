package scanning

import "fmt"

// JobKind determines which per-item step functions run during a scan.
type JobKind string

const (
	// JobKindArtwork runs only the artwork issue detection step.
	JobKindArtwork JobKind = "artwork"

	// JobKindEdition runs only the edition generation step.
	JobKindEdition JobKind = "edition"

	// JobKindCombined runs both the artwork and edition steps per item.
	JobKindCombined JobKind = "combined"
)

func (k JobKind) String() string { return string(k) }

// IncludesArtwork reports whether jobs of this kind run the artwork step.
func (k JobKind) IncludesArtwork() bool {
	return k == JobKindArtwork || k == JobKindCombined
}

// IncludesEdition reports whether jobs of this kind run the edition step.
func (k JobKind) IncludesEdition() bool {
	return k == JobKindEdition || k == JobKindCombined
}

// ParseJobKind converts a string to a JobKind.
func ParseJobKind(s string) (JobKind, error) {
	switch s {
	case "artwork":
		return JobKindArtwork, nil
	case "edition":
		return JobKindEdition, nil
	case "combined", "both":
		return JobKindCombined, nil
	default:
		return "", fmt.Errorf("unknown job kind: %q", s)
	}
}
