// Package messages names the NATS subjects engine events are published on.
package messages

const (
	EventSubjectPrefix = "BPMN."     // EventSubjectPrefix starts the subject of every engine event.
	EventAll           = "BPMN.>"    // EventAll is the wildcard subject for all engine events.
	LogSubjectPrefix   = "BPMNLog."  // LogSubjectPrefix starts the subject of every published log record.
	LogAll             = "BPMNLog.>" // LogAll is the wildcard subject for all published log records.
)

// Message headers set on published events.
const (
	HeaderEventType         = "Bpmnrt-Event-Type"
	HeaderProcessInstanceID = "Bpmnrt-Process-Instance-Id"
	HeaderProcessKey        = "Bpmnrt-Process-Key"
)

// EventSubject returns the subject an event type is published on.
func EventSubject(eventType string) string {
	return EventSubjectPrefix + eventType
}

// LogSubject returns the subject log records of a level are published on, such as BPMNLog.WARN.
func LogSubject(level string) string {
	return LogSubjectPrefix + level
}
