package escrow

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

type EventKind string

const (
	KindTaskCreated   EventKind = "TaskCreated"
	KindTaskClaimed   EventKind = "TaskClaimed"
	KindWorkSubmitted EventKind = "WorkSubmitted"
	KindTaskCompleted EventKind = "TaskCompleted"
	KindTaskCancelled EventKind = "TaskCancelled"
)

// Event is a notification emitted by a successful transition.
type Event interface {
	Kind() EventKind
	Task() TaskID
}

type TaskCreated struct {
	TaskID       TaskID `json:"task_id"`
	Authority    Pubkey `json:"authority"`
	BountyAmount uint64 `json:"bounty_amount"`
	TaskHash     Hash   `json:"task_hash"`
}

type TaskClaimed struct {
	TaskID TaskID `json:"task_id"`
	Agent  Pubkey `json:"agent"`
}

type WorkSubmitted struct {
	TaskID   TaskID `json:"task_id"`
	Agent    Pubkey `json:"agent"`
	WorkHash Hash   `json:"work_hash"`
}

type TaskCompleted struct {
	TaskID       TaskID `json:"task_id"`
	Agent        Pubkey `json:"agent"`
	BountyAmount uint64 `json:"bounty_amount"`
	PlatformFee  uint64 `json:"platform_fee"`
}

type TaskCancelled struct {
	TaskID TaskID `json:"task_id"`
}

func (TaskCreated) Kind() EventKind   { return KindTaskCreated }
func (TaskClaimed) Kind() EventKind   { return KindTaskClaimed }
func (WorkSubmitted) Kind() EventKind { return KindWorkSubmitted }
func (TaskCompleted) Kind() EventKind { return KindTaskCompleted }
func (TaskCancelled) Kind() EventKind { return KindTaskCancelled }

func (e TaskCreated) Task() TaskID   { return e.TaskID }
func (e TaskClaimed) Task() TaskID   { return e.TaskID }
func (e WorkSubmitted) Task() TaskID { return e.TaskID }
func (e TaskCompleted) Task() TaskID { return e.TaskID }
func (e TaskCancelled) Task() TaskID { return e.TaskID }

// DecodeEvent rebuilds a typed event from its kind and JSON payload.
func DecodeEvent(kind EventKind, payload []byte) (Event, error) {
	var ev Event
	var err error
	switch kind {
	case KindTaskCreated:
		var v TaskCreated
		err = json.Unmarshal(payload, &v)
		ev = v
	case KindTaskClaimed:
		var v TaskClaimed
		err = json.Unmarshal(payload, &v)
		ev = v
	case KindWorkSubmitted:
		var v WorkSubmitted
		err = json.Unmarshal(payload, &v)
		ev = v
	case KindTaskCompleted:
		var v TaskCompleted
		err = json.Unmarshal(payload, &v)
		ev = v
	case KindTaskCancelled:
		var v TaskCancelled
		err = json.Unmarshal(payload, &v)
		ev = v
	default:
		return nil, fmt.Errorf("unknown event kind %q", kind)
	}
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", kind, err)
	}
	return ev, nil
}

// EventRecord is a committed event as it appears in the log.
type EventRecord struct {
	ID     uuid.UUID `json:"id"`
	Seq    uint64    `json:"seq"`
	Kind   EventKind `json:"kind"`
	TaskID TaskID    `json:"task_id"`
	Time   time.Time `json:"time"`
	Event  Event     `json:"event"`
}

// NewEventRecord stamps an event at commit time.
func NewEventRecord(seq uint64, at time.Time, ev Event) EventRecord {
	return EventRecord{
		ID:     uuid.New(),
		Seq:    seq,
		Kind:   ev.Kind(),
		TaskID: ev.Task(),
		Time:   at.UTC(),
		Event:  ev,
	}
}

func (r *EventRecord) UnmarshalJSON(data []byte) error {
	var raw struct {
		ID     uuid.UUID       `json:"id"`
		Seq    uint64          `json:"seq"`
		Kind   EventKind       `json:"kind"`
		TaskID TaskID          `json:"task_id"`
		Time   time.Time       `json:"time"`
		Event  json.RawMessage `json:"event"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	ev, err := DecodeEvent(raw.Kind, raw.Event)
	if err != nil {
		return err
	}
	*r = EventRecord{ID: raw.ID, Seq: raw.Seq, Kind: raw.Kind, TaskID: raw.TaskID, Time: raw.Time, Event: ev}
	return nil
}
