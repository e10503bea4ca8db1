package visitor

import (
	"encoding/hex"
	"fmt"
	"strconv"

	"github.com/anirudhraja/protoevent/schema"
)

// EventKind identifies a recorded event.
type EventKind uint8

const (
	EventInit EventKind = iota
	EventDestroy
	EventVarint32
	EventVarint64
	EventI32
	EventI64
	EventString
	EventBytes
	EventEnter
	EventLeave
	EventEnterPacked
	EventLeavePacked
	EventInt32
	EventSInt32
	EventUInt32
	EventEnum
	EventBool
	EventFixed32
	EventSFixed32
	EventFloat
	EventInt64
	EventSInt64
	EventUInt64
	EventFixed64
	EventSFixed64
	EventDouble
)

var eventNames = [...]string{
	EventInit:        "Init",
	EventDestroy:     "Destroy",
	EventVarint32:    "Varint32",
	EventVarint64:    "Varint64",
	EventI32:         "I32",
	EventI64:         "I64",
	EventString:      "String",
	EventBytes:       "Bytes",
	EventEnter:       "Enter",
	EventLeave:       "Leave",
	EventEnterPacked: "EnterPacked",
	EventLeavePacked: "LeavePacked",
	EventInt32:       "Int32",
	EventSInt32:      "SInt32",
	EventUInt32:      "UInt32",
	EventEnum:        "Enum",
	EventBool:        "Bool",
	EventFixed32:     "Fixed32",
	EventSFixed32:    "SFixed32",
	EventFloat:       "Float",
	EventInt64:       "Int64",
	EventSInt64:      "SInt64",
	EventUInt64:      "UInt64",
	EventFixed64:     "Fixed64",
	EventSFixed64:    "SFixed64",
	EventDouble:      "Double",
}

func (k EventKind) String() string {
	if int(k) < len(eventNames) {
		return eventNames[k]
	}
	return "EventKind(" + strconv.Itoa(int(k)) + ")"
}

// Event is one recorded visit.
type Event struct {
	Kind    EventKind
	Message *schema.MessageType // EventInit only
	Field   *schema.Field
	Value   interface{}
}

// String renders the event compactly, e.g. `Int32(id=5)` or `Enter(address)`.
func (e Event) String() string {
	switch e.Kind {
	case EventInit:
		return fmt.Sprintf("Init(%s)", e.Message.FullName())
	case EventDestroy:
		return "Destroy()"
	case EventEnter, EventLeave, EventEnterPacked, EventLeavePacked:
		return fmt.Sprintf("%v(%s)", e.Kind, e.Field.DisplayName())
	case EventString:
		return fmt.Sprintf("%v(%s=%q)", e.Kind, e.Field.DisplayName(), e.Value)
	case EventBytes:
		return fmt.Sprintf("%v(%s=%s)", e.Kind, e.Field.DisplayName(), hex.EncodeToString(e.Value.([]byte)))
	default:
		return fmt.Sprintf("%v(%s=%v)", e.Kind, e.Field.DisplayName(), e.Value)
	}
}

// Recorder is a ScalarVisitor that keeps every event it receives.
type Recorder struct {
	Events []Event
}

var _ ScalarVisitor = (*Recorder)(nil)

// Strings renders all recorded events.
func (r *Recorder) Strings() []string {
	out := make([]string, len(r.Events))
	for i, e := range r.Events {
		out[i] = e.String()
	}
	return out
}

// Reset drops all recorded events.
func (r *Recorder) Reset() { r.Events = r.Events[:0] }

func (r *Recorder) add(kind EventKind, f *schema.Field, v interface{}) error {
	r.Events = append(r.Events, Event{Kind: kind, Field: f, Value: v})
	return nil
}

func (r *Recorder) Init(msg *schema.MessageType) error {
	r.Events = append(r.Events, Event{Kind: EventInit, Message: msg})
	return nil
}

func (r *Recorder) Destroy() error { return r.add(EventDestroy, nil, nil) }

func (r *Recorder) VisitVarint32(f *schema.Field, v uint32) error { return r.add(EventVarint32, f, v) }
func (r *Recorder) VisitVarint64(f *schema.Field, v uint64) error { return r.add(EventVarint64, f, v) }
func (r *Recorder) VisitI32(f *schema.Field, v uint32) error      { return r.add(EventI32, f, v) }
func (r *Recorder) VisitI64(f *schema.Field, v uint64) error      { return r.add(EventI64, f, v) }
func (r *Recorder) VisitString(f *schema.Field, v string) error   { return r.add(EventString, f, v) }

func (r *Recorder) VisitBytes(f *schema.Field, v []byte) error {
	return r.add(EventBytes, f, append([]byte(nil), v...))
}

func (r *Recorder) Enter(f *schema.Field) error       { return r.add(EventEnter, f, nil) }
func (r *Recorder) Leave(f *schema.Field) error       { return r.add(EventLeave, f, nil) }
func (r *Recorder) EnterPacked(f *schema.Field) error { return r.add(EventEnterPacked, f, nil) }
func (r *Recorder) LeavePacked(f *schema.Field) error { return r.add(EventLeavePacked, f, nil) }

func (r *Recorder) VisitInt32(f *schema.Field, v int32) error    { return r.add(EventInt32, f, v) }
func (r *Recorder) VisitSInt32(f *schema.Field, v int32) error   { return r.add(EventSInt32, f, v) }
func (r *Recorder) VisitUInt32(f *schema.Field, v uint32) error  { return r.add(EventUInt32, f, v) }
func (r *Recorder) VisitEnum(f *schema.Field, v int32) error     { return r.add(EventEnum, f, v) }
func (r *Recorder) VisitBool(f *schema.Field, v bool) error      { return r.add(EventBool, f, v) }
func (r *Recorder) VisitFixed32(f *schema.Field, v uint32) error { return r.add(EventFixed32, f, v) }
func (r *Recorder) VisitSFixed32(f *schema.Field, v int32) error { return r.add(EventSFixed32, f, v) }
func (r *Recorder) VisitFloat(f *schema.Field, v float32) error  { return r.add(EventFloat, f, v) }
func (r *Recorder) VisitInt64(f *schema.Field, v int64) error    { return r.add(EventInt64, f, v) }
func (r *Recorder) VisitSInt64(f *schema.Field, v int64) error   { return r.add(EventSInt64, f, v) }
func (r *Recorder) VisitUInt64(f *schema.Field, v uint64) error  { return r.add(EventUInt64, f, v) }
func (r *Recorder) VisitFixed64(f *schema.Field, v uint64) error { return r.add(EventFixed64, f, v) }
func (r *Recorder) VisitSFixed64(f *schema.Field, v int64) error { return r.add(EventSFixed64, f, v) }
func (r *Recorder) VisitDouble(f *schema.Field, v float64) error { return r.add(EventDouble, f, v) }

// Replay sends the recorded field events to v in order. Init and Destroy are
// skipped so a Recorder can serve as an encoder producer.
func (r *Recorder) Replay(v ScalarVisitor) error {
	for _, e := range r.Events {
		if err := replay(v, e); err != nil {
			return err
		}
	}
	return nil
}

func replay(v ScalarVisitor, e Event) error {
	f := e.Field
	switch e.Kind {
	case EventInit, EventDestroy:
		return nil
	case EventVarint32:
		return v.VisitVarint32(f, e.Value.(uint32))
	case EventVarint64:
		return v.VisitVarint64(f, e.Value.(uint64))
	case EventI32:
		return v.VisitI32(f, e.Value.(uint32))
	case EventI64:
		return v.VisitI64(f, e.Value.(uint64))
	case EventString:
		return v.VisitString(f, e.Value.(string))
	case EventBytes:
		return v.VisitBytes(f, e.Value.([]byte))
	case EventEnter:
		return v.Enter(f)
	case EventLeave:
		return v.Leave(f)
	case EventEnterPacked:
		return v.EnterPacked(f)
	case EventLeavePacked:
		return v.LeavePacked(f)
	case EventInt32:
		return v.VisitInt32(f, e.Value.(int32))
	case EventSInt32:
		return v.VisitSInt32(f, e.Value.(int32))
	case EventUInt32:
		return v.VisitUInt32(f, e.Value.(uint32))
	case EventEnum:
		return v.VisitEnum(f, e.Value.(int32))
	case EventBool:
		return v.VisitBool(f, e.Value.(bool))
	case EventFixed32:
		return v.VisitFixed32(f, e.Value.(uint32))
	case EventSFixed32:
		return v.VisitSFixed32(f, e.Value.(int32))
	case EventFloat:
		return v.VisitFloat(f, e.Value.(float32))
	case EventInt64:
		return v.VisitInt64(f, e.Value.(int64))
	case EventSInt64:
		return v.VisitSInt64(f, e.Value.(int64))
	case EventUInt64:
		return v.VisitUInt64(f, e.Value.(uint64))
	case EventFixed64:
		return v.VisitFixed64(f, e.Value.(uint64))
	case EventSFixed64:
		return v.VisitSFixed64(f, e.Value.(int64))
	case EventDouble:
		return v.VisitDouble(f, e.Value.(float64))
	default:
		return fmt.Errorf("unknown event kind %v", e.Kind)
	}
}

type discard struct{}

// Discard is a ScalarVisitor that ignores every event.
var Discard ScalarVisitor = discard{}

func (discard) Init(*schema.MessageType) error            { return nil }
func (discard) Destroy() error                            { return nil }
func (discard) VisitVarint32(*schema.Field, uint32) error { return nil }
func (discard) VisitVarint64(*schema.Field, uint64) error { return nil }
func (discard) VisitI32(*schema.Field, uint32) error      { return nil }
func (discard) VisitI64(*schema.Field, uint64) error      { return nil }
func (discard) VisitString(*schema.Field, string) error   { return nil }
func (discard) VisitBytes(*schema.Field, []byte) error    { return nil }
func (discard) Enter(*schema.Field) error                 { return nil }
func (discard) Leave(*schema.Field) error                 { return nil }
func (discard) EnterPacked(*schema.Field) error           { return nil }
func (discard) LeavePacked(*schema.Field) error           { return nil }
func (discard) VisitInt32(*schema.Field, int32) error     { return nil }
func (discard) VisitSInt32(*schema.Field, int32) error    { return nil }
func (discard) VisitUInt32(*schema.Field, uint32) error   { return nil }
func (discard) VisitEnum(*schema.Field, int32) error      { return nil }
func (discard) VisitBool(*schema.Field, bool) error       { return nil }
func (discard) VisitFixed32(*schema.Field, uint32) error  { return nil }
func (discard) VisitSFixed32(*schema.Field, int32) error  { return nil }
func (discard) VisitFloat(*schema.Field, float32) error   { return nil }
func (discard) VisitInt64(*schema.Field, int64) error     { return nil }
func (discard) VisitSInt64(*schema.Field, int64) error    { return nil }
func (discard) VisitUInt64(*schema.Field, uint64) error   { return nil }
func (discard) VisitFixed64(*schema.Field, uint64) error  { return nil }
func (discard) VisitSFixed64(*schema.Field, int64) error  { return nil }
func (discard) VisitDouble(*schema.Field, float64) error  { return nil }
