package event

import (
	"time"

	"trade_sim/internal/domain"
)

// Type defines the type of event.
type Type uint16

const (
	EvMetric Type = iota + 1
	EvStatus
)

// Event is the interface for everything the simulator emits to its consumer.
type Event interface {
	GetSeq() uint64
	GetTs() time.Time
	GetType() Type
}

// BaseEvent contains common fields for all events.
type BaseEvent struct {
	Seq uint64    `json:"seq"`
	Ts  time.Time `json:"ts"`
}

func (e BaseEvent) GetSeq() uint64   { return e.Seq }
func (e BaseEvent) GetTs() time.Time { return e.Ts }

// MetricEvent carries one tick's MetricRecord.
type MetricEvent struct {
	BaseEvent
	Record domain.MetricRecord `json:"record"`
}

func (e MetricEvent) GetType() Type { return EvMetric }

// State mirrors the simulator lifecycle for status reporting.
type State string

const (
	StateIdle     State = "idle"
	StateStarting State = "starting"
	StateRunning  State = "running"
	StateStopping State = "stopping"
)

// StatusEvent is a human-readable state transition or error notice.
type StatusEvent struct {
	BaseEvent
	State   State            `json:"state"`
	Message string           `json:"message"`
	Kind    domain.ErrorKind `json:"kind,omitempty"`
	Err     error            `json:"-"`
}

func (e StatusEvent) GetType() Type { return EvStatus }

// IsError reports whether the status describes a failure.
func (e StatusEvent) IsError() bool { return e.Err != nil }

// IsFatal reports whether the status ended the run.
func (e StatusEvent) IsFatal() bool { return e.Kind == domain.KindFatal }
