package scanning

// TriggerSource records what initiated a scan job. Informational only; it has
// no effect on execution.
type TriggerSource string

const (
	// TriggerSourceManual indicates the job was started by a user request.
	TriggerSourceManual TriggerSource = "manual"

	// TriggerSourceSchedule indicates the job was started by a scheduled
	// trigger.
	TriggerSourceSchedule TriggerSource = "schedule"
)

func (t TriggerSource) String() string { return string(t) }

// ParseTriggerSource converts a string to a TriggerSource, defaulting to
// manual for unknown values.
func ParseTriggerSource(s string) TriggerSource {
	if s == "schedule" {
		return TriggerSourceSchedule
	}
	return TriggerSourceManual
}
