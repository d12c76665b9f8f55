// Package derrors defines the error values reported by the class-file codec.
//
// Every failure returned by the codec wraps one of these values, so callers
// can classify it with errors.Is.
package derrors

import (
	"errors"
	"fmt"
)

//lint:file-ignore ST1012 prefixing error values with Err would stutter

var (
	// MalformedHeader indicates that the stream does not start with the
	// class-file magic number, or that the container structure around the
	// pool and attributes (header fields, member tables, attribute framing)
	// is truncated or followed by trailing bytes.
	MalformedHeader = errors.New("malformed header")
	// MalformedPool indicates a bad constant pool index, a reference to the
	// unaddressable slot after a wide entry, or an entry of the wrong kind.
	MalformedPool = errors.New("malformed constant pool")
	// MalformedCode indicates structurally invalid bytecode: an unknown
	// opcode, a truncated operand, or switch bounds that disagree.
	MalformedCode = errors.New("malformed code")
	// MalformedAttribute indicates that a recognized attribute's payload does
	// not match its layout.
	MalformedAttribute = errors.New("malformed attribute")
	// MalformedDescriptor indicates a field or method descriptor that does
	// not follow the descriptor grammar.
	MalformedDescriptor = errors.New("malformed descriptor")

	// InvalidOpcodeForShape indicates that an instruction was constructed
	// with an opcode its shape cannot carry.
	InvalidOpcodeForShape = errors.New("invalid opcode for instruction shape")
	// InvalidOperand indicates an immediate operand outside the range its
	// encoding allows.
	InvalidOperand = errors.New("invalid operand")

	// MisalignedLabel indicates a branch, exception-range or table offset
	// that does not fall on an instruction boundary, or a label that was
	// never placed in the method body being encoded.
	MisalignedLabel = errors.New("misaligned label")
	// BranchOffsetOverflow indicates a branch whose distance does not fit
	// the width of its operand.
	BranchOffsetOverflow = errors.New("branch offset overflow")

	// AttributeTooLarge indicates an attribute (or code array) whose length
	// does not fit its length field.
	AttributeTooLarge = errors.New("attribute too large")
	// TooManyEntries indicates a count that does not fit its u2 field, or an
	// exhausted constant pool.
	TooManyEntries = errors.New("too many entries")

	// NotFound indicates that a class is not present in a class source.
	NotFound = errors.New("not found")
	// InvalidArgument indicates that a class source or command argument is
	// not in a form that can be used.
	InvalidArgument = errors.New("invalid argument")

	// Internal indicates a broken invariant inside the codec itself.
	Internal = errors.New("internal error")
)

// Add adds context to the error.
// The result cannot be unwrapped to recover the original error.
// It does nothing when *errp == nil.
//
// Example:
//
//	defer derrors.Add(&err, "parseMethod(%s)", name)
//
// See Wrap for an equivalent function that allows
// the result to be unwrapped.
func Add(errp *error, format string, args ...any) {
	if *errp != nil {
		*errp = fmt.Errorf("%s: %v", fmt.Sprintf(format, args...), *errp)
	}
}

// Wrap adds context to the error and allows
// unwrapping the result to recover the original error.
//
// Example:
//
//	defer derrors.Wrap(&err, "parseMethod(%s)", name)
//
// See Add for an equivalent function that does not allow
// the result to be unwrapped.
func Wrap(errp *error, format string, args ...any) {
	if *errp != nil {
		*errp = fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), *errp)
	}
}

// Errorf returns an error that wraps kind with a formatted message, so that
// errors.Is(err, kind) holds.
func Errorf(kind error, format string, args ...any) error {
	return fmt.Errorf("%w: %s", kind, fmt.Sprintf(format, args...))
}
