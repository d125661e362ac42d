package watch

import "strings"

// Kind is one of the three readiness conditions a handler can be interested in.
type Kind uint8

const (
	Readable Kind = iota
	Writable
	ExceptionPending
)

// Kinds lists every Kind in dispatch order.
var Kinds = [...]Kind{Readable, Writable, ExceptionPending}

func (k Kind) String() string {
	switch k {
	case Readable:
		return "readable"
	case Writable:
		return "writable"
	case ExceptionPending:
		return "exception"
	}
	return "unknown"
}

// Interest is a set of Kinds.
type Interest uint8

const (
	InterestRead Interest = 1 << iota
	InterestWrite
	InterestException

	InterestNone Interest = 0
	InterestAll           = InterestRead | InterestWrite | InterestException
)

// Of returns the single-kind set for k.
func Of(k Kind) Interest {
	return 1 << k
}

func (i Interest) Has(k Kind) bool {
	return i&Of(k) != 0
}

func (i Interest) With(k Kind, on bool) Interest {
	if on {
		return i | Of(k)
	}
	return i &^ Of(k)
}

func (i Interest) String() string {
	if i == InterestNone {
		return "none"
	}
	var parts []string
	for _, k := range Kinds {
		if i.Has(k) {
			parts = append(parts, k.String())
		}
	}
	return strings.Join(parts, "|")
}
