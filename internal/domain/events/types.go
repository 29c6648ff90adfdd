package events

// EventType identifies the category of an event for routing and handling.
// Values are wire-stable: they appear verbatim in the streaming API and must
// not change between releases.
type EventType string
