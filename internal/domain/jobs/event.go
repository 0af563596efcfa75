package jobs

type Event string

const (
	EventJobProgress Event = "JobProgress"
	EventJobYielded  Event = "JobYielded"
	EventJobFailed   Event = "JobFailed"
	EventJobDone     Event = "JobDone"
)

// Message is one lifecycle event as published on the progress bus. Channel
// is the book version the job writes to, so a watcher can follow a version.
type Message struct {
	Channel string         `json:"channel"`
	Event   Event          `json:"event"`
	Data    map[string]any `json:"data,omitempty"`
}
