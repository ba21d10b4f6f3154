package inter

import (
	"errors"
	"fmt"

	"github.com/Fantom-foundation/lachesis-base/hash"

	"github.com/rony4d/ledger-txbuilder/utils/scale"
)

// ErrUnknownEvent is returned when the event log carries an event the network
// rules have no layout for. Without a layout the rest of the log cannot be
// split, so the whole log is unusable.
var ErrUnknownEvent = errors.New("unknown event")

type PhaseKind uint8

const (
	PhaseApplyExtrinsic PhaseKind = iota
	PhaseFinalization
	PhaseInitialization
)

// Phase is the block execution phase an event was emitted in.
type Phase struct {
	Kind PhaseKind
	// Index is the extrinsic position, meaningful for PhaseApplyExtrinsic only.
	Index uint32
}

// ApplyExtrinsic is the phase of events emitted by extrinsic i.
func ApplyExtrinsic(i uint32) Phase {
	return Phase{Kind: PhaseApplyExtrinsic, Index: i}
}

func (p Phase) String() string {
	switch p.Kind {
	case PhaseApplyExtrinsic:
		return fmt.Sprintf("apply_extrinsic(%d)", p.Index)
	case PhaseFinalization:
		return "finalization"
	case PhaseInitialization:
		return "initialization"
	}
	return "unknown"
}

// EventID addresses an event by pallet and variant position.
type EventID struct {
	Pallet  uint8
	Variant uint8
}

func (id EventID) String() string {
	return fmt.Sprintf("%d.%d", id.Pallet, id.Variant)
}

// FieldKind is the wire shape of one event field.
type FieldKind uint8

const (
	FieldU8 FieldKind = iota
	FieldU16
	FieldU32
	FieldU64
	FieldU128
	FieldBool
	FieldCompact
	FieldBytes
	FieldH256
	FieldDispatchInfo
	FieldDispatchError
)

// EventLayouts lists the field shapes of every event a runtime may emit.
type EventLayouts map[EventID][]FieldKind

// EventRecord is one entry of the block event log. Fields hold the raw
// encoding of every field so that records can be re-encoded byte for byte.
type EventRecord struct {
	Phase  Phase
	ID     EventID
	Fields [][]byte
	Topics []hash.Hash
}

func (ev *EventRecord) EstimateSize() int {
	size := 1 + 4 + 2 + 32*len(ev.Topics)
	for _, f := range ev.Fields {
		size += len(f)
	}
	return size
}

// BytesField decodes field i as a Vec<u8>.
func (ev *EventRecord) BytesField(i int) ([]byte, error) {
	if i >= len(ev.Fields) {
		return nil, fmt.Errorf("event %s has no field %d", ev.ID, i)
	}
	r := scale.NewReader(ev.Fields[i])
	b := r.Vec()
	return b, r.Err()
}

// DispatchError is the decoded reason of a failed extrinsic.
type DispatchError struct {
	Kind uint8
	// Module and ModuleError are set for module errors, Detail for the token,
	// arithmetic and transactional kinds.
	Module      uint8
	ModuleError [4]byte
	Detail      uint8
}

const (
	dispatchErrorModule        = 3
	dispatchErrorToken         = 7
	dispatchErrorArithmetic    = 8
	dispatchErrorTransactional = 9
)

var dispatchErrorNames = []string{
	"Other", "CannotLookup", "BadOrigin", "Module", "ConsumerRemaining",
	"NoProviders", "TooManyConsumers", "Token", "Arithmetic", "Transactional",
	"Exhausted", "Corruption", "Unavailable", "RootNotAllowed",
}

func (e DispatchError) Error() string {
	name := "Unknown"
	if int(e.Kind) < len(dispatchErrorNames) {
		name = dispatchErrorNames[e.Kind]
	}
	switch e.Kind {
	case dispatchErrorModule:
		return fmt.Sprintf("dispatch error: Module{index: %d, error: %x}", e.Module, e.ModuleError)
	case dispatchErrorToken, dispatchErrorArithmetic, dispatchErrorTransactional:
		return fmt.Sprintf("dispatch error: %s(%d)", name, e.Detail)
	}
	return "dispatch error: " + name
}

// DispatchErrorField decodes field i as a DispatchError.
func (ev *EventRecord) DispatchErrorField(i int) (DispatchError, error) {
	if i >= len(ev.Fields) {
		return DispatchError{}, fmt.Errorf("event %s has no field %d", ev.ID, i)
	}
	r := scale.NewReader(ev.Fields[i])
	var de DispatchError
	de.Kind = r.U8()
	switch de.Kind {
	case dispatchErrorModule:
		de.Module = r.U8()
		copy(de.ModuleError[:], r.Fixed(4))
	case dispatchErrorToken, dispatchErrorArithmetic, dispatchErrorTransactional:
		de.Detail = r.U8()
	}
	return de, r.Err()
}

// EncodeDispatchError returns the field encoding of de.
func EncodeDispatchError(de DispatchError) []byte {
	w := scale.NewWriter()
	w.U8(de.Kind)
	switch de.Kind {
	case dispatchErrorModule:
		w.U8(de.Module)
		w.Fixed(de.ModuleError[:])
	case dispatchErrorToken, dispatchErrorArithmetic, dispatchErrorTransactional:
		w.U8(de.Detail)
	}
	return w.Bytes()
}

// ModuleDispatchError builds a module error raised by pallet with the given code.
func ModuleDispatchError(pallet uint8, code uint8) DispatchError {
	return DispatchError{Kind: dispatchErrorModule, Module: pallet, ModuleError: [4]byte{code}}
}

// EncodeDispatchInfo returns the field encoding of a dispatch info with the
// given weight, normal class, fee paid.
func EncodeDispatchInfo(refTime, proofSize uint64) []byte {
	w := scale.NewWriter()
	w.Compact(refTime)
	w.Compact(proofSize)
	w.U8(0)
	w.U8(0)
	return w.Bytes()
}

// readField consumes one field of the given kind and returns its raw bytes.
func readField(r *scale.Reader, raw []byte, kind FieldKind) []byte {
	start := r.Position()
	switch kind {
	case FieldU8:
		r.U8()
	case FieldU16:
		r.U16()
	case FieldU32:
		r.U32()
	case FieldU64:
		r.U64()
	case FieldU128:
		r.Fixed(16)
	case FieldBool:
		r.Bool()
	case FieldCompact:
		r.Compact()
	case FieldBytes:
		r.Vec()
	case FieldH256:
		r.Fixed(32)
	case FieldDispatchInfo:
		r.Compact() // ref_time
		r.Compact() // proof_size
		r.U8()      // class
		r.U8()      // pays_fee
	case FieldDispatchError:
		switch r.U8() {
		case dispatchErrorModule:
			r.Fixed(5)
		case dispatchErrorToken, dispatchErrorArithmetic, dispatchErrorTransactional:
			r.U8()
		}
	}
	if r.Err() != nil {
		return nil
	}
	return raw[start:r.Position()]
}

// DecodeEvents splits a System.Events storage value into records. Records are
// not length-prefixed, so an event without a layout leaves the rest of the
// log unreadable and fails the whole block with ErrUnknownEvent.
func DecodeEvents(raw []byte, layouts EventLayouts) ([]EventRecord, error) {
	r := scale.NewReader(raw)
	n := r.Compact()
	if r.Err() != nil {
		return nil, fmt.Errorf("event count: %w", r.Err())
	}
	if n > uint64(len(raw)) {
		return nil, fmt.Errorf("event count %d exceeds input", n)
	}

	records := make([]EventRecord, 0, n)
	for i := uint64(0); i < n; i++ {
		var ev EventRecord
		switch PhaseKind(r.U8()) {
		case PhaseApplyExtrinsic:
			ev.Phase = ApplyExtrinsic(r.U32())
		case PhaseFinalization:
			ev.Phase.Kind = PhaseFinalization
		case PhaseInitialization:
			ev.Phase.Kind = PhaseInitialization
		default:
			return nil, fmt.Errorf("event %d: invalid phase", i)
		}
		ev.ID = EventID{Pallet: r.U8(), Variant: r.U8()}
		if r.Err() != nil {
			return nil, fmt.Errorf("event %d: %w", i, r.Err())
		}

		layout, ok := layouts[ev.ID]
		if !ok {
			return nil, fmt.Errorf("event %d: %w %s", i, ErrUnknownEvent, ev.ID)
		}
		for _, kind := range layout {
			f := readField(r, raw, kind)
			if f == nil {
				return nil, fmt.Errorf("event %d (%s): %w", i, ev.ID, r.Err())
			}
			ev.Fields = append(ev.Fields, append([]byte(nil), f...))
		}

		topics := r.Compact()
		if r.Err() == nil && topics > uint64(r.Remaining()/32) {
			return nil, fmt.Errorf("event %d: topic count %d exceeds input", i, topics)
		}
		for j := uint64(0); j < topics; j++ {
			ev.Topics = append(ev.Topics, hash.BytesToHash(r.Fixed(32)))
		}
		if r.Err() != nil {
			return nil, fmt.Errorf("event %d topics: %w", i, r.Err())
		}
		records = append(records, ev)
	}
	if r.Remaining() != 0 {
		return nil, fmt.Errorf("%d trailing bytes after event log", r.Remaining())
	}
	return records, nil
}

// EncodeEvents is the inverse of DecodeEvents.
func EncodeEvents(records []EventRecord) []byte {
	w := scale.NewWriter()
	w.Compact(uint64(len(records)))
	for _, ev := range records {
		w.U8(uint8(ev.Phase.Kind))
		if ev.Phase.Kind == PhaseApplyExtrinsic {
			w.U32(ev.Phase.Index)
		}
		w.U8(ev.ID.Pallet)
		w.U8(ev.ID.Variant)
		for _, f := range ev.Fields {
			w.Fixed(f)
		}
		w.Compact(uint64(len(ev.Topics)))
		for _, t := range ev.Topics {
			w.Fixed(t.Bytes())
		}
	}
	return w.Bytes()
}
