// Package visitor defines the event protocol shared by the decode driver,
// the encode driver and every consumer or producer of field events.
//
// A decode emits, for one message:
//
//	Init(msg) { field event } Destroy()
//
// where a field event is a scalar visit, Enter(f) { field event } Leave(f)
// for an embedded message, or EnterPacked(f) { scalar visit } LeavePacked(f)
// for a packed run. Producers handed to the encoder emit the same grammar
// without Init and Destroy.
package visitor

import (
	"github.com/anirudhraja/protoevent/schema"
)

// Visitor receives low-level events keyed by wire representation.
type Visitor interface {
	Init(msg *schema.MessageType) error
	Destroy() error

	VisitVarint32(f *schema.Field, v uint32) error
	VisitVarint64(f *schema.Field, v uint64) error
	VisitI32(f *schema.Field, v uint32) error
	VisitI64(f *schema.Field, v uint64) error
	VisitString(f *schema.Field, v string) error
	VisitBytes(f *schema.Field, v []byte) error

	// Enter and Leave bracket the fields of an embedded message.
	Enter(f *schema.Field) error
	Leave(f *schema.Field) error
	// EnterPacked and LeavePacked bracket the values of a packed run.
	EnterPacked(f *schema.Field) error
	LeavePacked(f *schema.Field) error
}

// ScalarVisitor additionally receives one event per declared scalar type.
type ScalarVisitor interface {
	Visitor

	VisitInt32(f *schema.Field, v int32) error
	VisitSInt32(f *schema.Field, v int32) error
	VisitUInt32(f *schema.Field, v uint32) error
	VisitEnum(f *schema.Field, v int32) error
	VisitBool(f *schema.Field, v bool) error
	VisitFixed32(f *schema.Field, v uint32) error
	VisitSFixed32(f *schema.Field, v int32) error
	VisitFloat(f *schema.Field, v float32) error

	VisitInt64(f *schema.Field, v int64) error
	VisitSInt64(f *schema.Field, v int64) error
	VisitUInt64(f *schema.Field, v uint64) error
	VisitFixed64(f *schema.Field, v uint64) error
	VisitSFixed64(f *schema.Field, v int64) error
	VisitDouble(f *schema.Field, v float64) error
}
