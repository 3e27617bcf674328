package event

import "time"

// Event is the interface that all events must implement.
type Event interface {
	// EventType returns "category.action", e.g. "record.status_changed".
	EventType() string
	Timestamp() time.Time
}

// baseEvent provides common fields for all events.
// Embed this in concrete event types to satisfy the Event interface.
type baseEvent struct {
	eventType string
	timestamp time.Time
}

func (e baseEvent) EventType() string    { return e.eventType }
func (e baseEvent) Timestamp() time.Time { return e.timestamp }

func newBaseEvent(eventType string) baseEvent {
	return baseEvent{eventType: eventType, timestamp: time.Now()}
}

// Event type names.
const (
	TypeLog               = "log.record"
	TypeEngineState       = "engine.state"
	TypeCounters          = "engine.counters"
	TypeStatusChanged     = "record.status_changed"
	TypeWelcomeDelivered  = "welcome.delivered"
	TypeContactReconciled = "contact.reconciled"
	TypeStepsReloaded     = "welcome.steps_reloaded"
)

// -----------------------------------------------------------------------------
// Log stream
// -----------------------------------------------------------------------------

// LogEvent carries one log line to front-ends.
type LogEvent struct {
	baseEvent
	Level   string         `json:"level"`
	Message string         `json:"message"`
	Attrs   map[string]any `json:"attrs,omitempty"`
}

// NewLogEvent creates a LogEvent stamped with at.
func NewLogEvent(at time.Time, level, message string, attrs map[string]any) LogEvent {
	base := newBaseEvent(TypeLog)
	if !at.IsZero() {
		base.timestamp = at
	}
	return LogEvent{baseEvent: base, Level: level, Message: message, Attrs: attrs}
}

// -----------------------------------------------------------------------------
// Engine lifecycle
// -----------------------------------------------------------------------------

// Engine states reported in EngineStateEvent.
const (
	StateStarted = "started"
	StatePaused  = "paused"
	StateResumed = "resumed"
	StateStopped = "stopped"
)

// EngineStateEvent is emitted on start, pause, resume and stop.
type EngineStateEvent struct {
	baseEvent
	State string `json:"state"`
	RunID string `json:"run_id"`
}

// NewEngineStateEvent creates an EngineStateEvent.
func NewEngineStateEvent(state, runID string) EngineStateEvent {
	return EngineStateEvent{baseEvent: newBaseEvent(TypeEngineState), State: state, RunID: runID}
}

// CountersEvent reports the engine counters after they change.
type CountersEvent struct {
	baseEvent
	Applied  int64 `json:"applied"`
	Welcomed int64 `json:"welcomed"`
	Failed   int64 `json:"failed"`
}

// NewCountersEvent creates a CountersEvent.
func NewCountersEvent(applied, welcomed, failed int64) CountersEvent {
	return CountersEvent{
		baseEvent: newBaseEvent(TypeCounters),
		Applied:   applied,
		Welcomed:  welcomed,
		Failed:    failed,
	}
}

// -----------------------------------------------------------------------------
// Records and contacts
// -----------------------------------------------------------------------------

// StatusChangedEvent is emitted after a binding status write succeeds.
type StatusChangedEvent struct {
	baseEvent
	RecordID   string `json:"record_id"`
	ContactKey string `json:"contact_key"`
	From       string `json:"from"`
	To         string `json:"to"`
	Reason     string `json:"reason,omitempty"`
}

// NewStatusChangedEvent creates a StatusChangedEvent.
func NewStatusChangedEvent(recordID, contactKey, from, to, reason string) StatusChangedEvent {
	return StatusChangedEvent{
		baseEvent:  newBaseEvent(TypeStatusChanged),
		RecordID:   recordID,
		ContactKey: contactKey,
		From:       from,
		To:         to,
		Reason:     reason,
	}
}

// WelcomeDeliveredEvent reports the outcome of one welcome invocation.
type WelcomeDeliveredEvent struct {
	baseEvent
	Target    string `json:"target"`
	Steps     int    `json:"steps"`
	Delivered int    `json:"delivered"`
	OK        bool   `json:"ok"`
}

// NewWelcomeDeliveredEvent creates a WelcomeDeliveredEvent.
func NewWelcomeDeliveredEvent(target string, steps, delivered int, ok bool) WelcomeDeliveredEvent {
	return WelcomeDeliveredEvent{
		baseEvent: newBaseEvent(TypeWelcomeDelivered),
		Target:    target,
		Steps:     steps,
		Delivered: delivered,
		OK:        ok,
	}
}

// ContactReconciledEvent is emitted when passive discovery writes a contact
// back to the task store.
type ContactReconciledEvent struct {
	baseEvent
	WechatID string `json:"wechat_id"`
	Nickname string `json:"nickname"`
	RecordID string `json:"record_id"`
	Created  bool   `json:"created"`
}

// NewContactReconciledEvent creates a ContactReconciledEvent.
func NewContactReconciledEvent(wechatID, nickname, recordID string, created bool) ContactReconciledEvent {
	return ContactReconciledEvent{
		baseEvent: newBaseEvent(TypeContactReconciled),
		WechatID:  wechatID,
		Nickname:  nickname,
		RecordID:  recordID,
		Created:   created,
	}
}

// StepsReloadedEvent is emitted when the welcome step list is replaced.
type StepsReloadedEvent struct {
	baseEvent
	Source string `json:"source"`
	Count  int    `json:"count"`
}

// NewStepsReloadedEvent creates a StepsReloadedEvent.
func NewStepsReloadedEvent(source string, count int) StepsReloadedEvent {
	return StepsReloadedEvent{baseEvent: newBaseEvent(TypeStepsReloaded), Source: source, Count: count}
}
