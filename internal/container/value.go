// Package container implements the two collections the run context and
// the shared configuration snapshot are built on: an ordered, optionally
// thread-safe double-ended queue (Deque, in deque.go) and an adaptive
// radix tree keyed by byte strings (Tree, in art.go). Both store Value,
// a tagged union that owns its payload either via a destructor callback
// or via a length-prefixed copy for strings — mirroring the tagged-value
// container the original pgmoneta keeps in its ART (see
// _examples/original_source for the C original this is ported from).
package container

// Kind discriminates the payload carried by a Value.
type Kind int

const (
	KindNone Kind = iota
	KindI8
	KindI16
	KindI32
	KindI64
	KindU8
	KindU16
	KindU32
	KindU64
	KindFloat
	KindDouble
	KindBool
	KindString
	KindMemOwned // opaque byte slice owned by this Value
	KindRef      // unowned pointer, no destructor
	KindObject   // object with a destructor/to-string callback pair
	KindDeque    // nested Deque
	KindTree     // nested Tree
	KindFloatArray
	KindStringArray
)

// Destructor is called exactly once when a Value owning it is deleted,
// overwritten, or swept by a bulk clear.
type Destructor func(payload any)

// ToString renders a Value's payload for diagnostics; optional.
type ToStringFunc func(payload any) string

// Value is a tagged union. Exactly one of the typed fields is meaningful
// for a given Kind; Payload carries everything else (object callbacks,
// nested containers, arrays).
type Value struct {
	Kind    Kind
	I64     int64
	U64     uint64
	F64     float64
	Bool    bool
	Str     string
	Payload any

	destructor Destructor
	toString   ToStringFunc
	destroyed  bool
}

// NewString builds a length-prefixed-copy string Value (the container
// owns its own copy, : "a length-prefixed copy for
// strings").
func NewString(s string) Value {
	cp := make([]byte, len(s))
	copy(cp, s)
	return Value{Kind: KindString, Str: string(cp)}
}

func NewI64(v int64) Value   { return Value{Kind: KindI64, I64: v} }
func NewU64(v uint64) Value  { return Value{Kind: KindU64, U64: v} }
func NewFloat(v float64) Value { return Value{Kind: KindFloat, F64: v} }
func NewBool(v bool) Value   { return Value{Kind: KindBool, Bool: v} }

// NewObject builds a Value that owns payload via destructor, optionally
// rendered by toString. destructor may be nil for payloads needing no
// cleanup (e.g. immutable shared data).
func NewObject(payload any, destructor Destructor, toString ToStringFunc) Value {
	return Value{Kind: KindObject, Payload: payload, destructor: destructor, toString: toString}
}

// NewRef wraps a pointer the container does not own; Destroy is a no-op.
func NewRef(payload any) Value {
	return Value{Kind: KindRef, Payload: payload}
}

// String renders the value for diagnostics.
func (v Value) String() string {
	if v.toString != nil {
		return v.toString(v.Payload)
	}
	switch v.Kind {
	case KindString:
		return v.Str
	case KindI64:
		return itoa(v.I64)
	case KindU64:
		return uitoa(v.U64)
	case KindBool:
		if v.Bool {
			return "true"
		}
		return "false"
	default:
		return ""
	}
}

// Destroy invokes the destructor callback exactly once. Calling Destroy
// more than once on the same Value is a no-op on the second and later
// calls — this is what makes bulk-clear-then-reinsert-at-same-key safe
// (the design: "Deletion must call the destructor exactly once").
func (v *Value) Destroy() {
	if v.destroyed {
		return
	}
	v.destroyed = true
	if v.destructor != nil {
		v.destructor(v.Payload)
	}
}

func itoa(v int64) string {
	if v == 0 {
		return "0"
	}
	neg := v < 0
	if neg {
		v = -v
	}
	var buf [20]byte
	i := len(buf)
	for v > 0 {
		i--
		buf[i] = byte('0' + v%10)
		v /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

func uitoa(v uint64) string {
	if v == 0 {
		return "0"
	}
	var buf [20]byte
	i := len(buf)
	for v > 0 {
		i--
		buf[i] = byte('0' + v%10)
		v /= 10
	}
	return string(buf[i:])
}
