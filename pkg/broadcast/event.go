package broadcast

// EventType identifies what an Event reports
type EventType string

const (
	EventInstanceListChanged  EventType = "instance_list_changed"
	EventProvisioningProgress EventType = "provisioning_progress"
	EventProcessStarted       EventType = "process_started"
	EventProcessStopped       EventType = "process_stopped"
	EventOutputChunk          EventType = "output_chunk"
)

// Stream tags the origin of an output chunk
type Stream string

const (
	StreamStdout Stream = "stdout"
	StreamStderr Stream = "stderr"
	StreamSystem Stream = "system"
)

// Event is an immutable notification flowing from the supervisor, the
// provisioner or the gateway to observers. It is never persisted by the
// broadcaster itself.
type Event struct {
	Type      EventType `json:"type"`
	Instance  string    `json:"instance,omitempty"`
	Stream    Stream    `json:"stream,omitempty"`
	Text      string    `json:"text,omitempty"`
	Instances []string  `json:"instances,omitempty"`
}

func OutputEvent(stream Stream, text string) Event {
	return Event{Type: EventOutputChunk, Stream: stream, Text: text}
}

func SystemOutput(text string) Event {
	return OutputEvent(StreamSystem, text)
}

func StartedEvent(instance string) Event {
	return Event{Type: EventProcessStarted, Instance: instance}
}

func StoppedEvent(instance string) Event {
	return Event{Type: EventProcessStopped, Instance: instance}
}

func ProgressEvent(instance, text string) Event {
	return Event{Type: EventProvisioningProgress, Instance: instance, Text: text}
}

func InstanceListEvent(instances []string) Event {
	list := make([]string, len(instances))
	copy(list, instances)
	return Event{Type: EventInstanceListChanged, Instances: list}
}

// IsLifecycle reports whether the event changes run or instance state,
// as opposed to console or progress text.
func (e Event) IsLifecycle() bool {
	switch e.Type {
	case EventProcessStarted, EventProcessStopped, EventInstanceListChanged:
		return true
	}
	return false
}
