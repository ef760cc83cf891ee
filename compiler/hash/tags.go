package hash

// ---------------------------------------------------------------------------
// Frozen tag bytes for the script AST serialization format.
//
// IMPORTANT: These tags are FROZEN. Once assigned, a tag byte must never
// change meaning. Adding new tags is fine; changing existing ones breaks
// all previously computed content hashes.
// ---------------------------------------------------------------------------

// HashVersion is the version prefix for the serialization format.
// Bumping this invalidates all existing content hashes.
const HashVersion byte = 1

// AST node tags.
const (
	TagReservedZero byte = 0x00 // version prefix / reserved

	// Literals
	TagNull   byte = 0x01
	TagBool   byte = 0x02
	TagNumber byte = 0x03
	TagString byte = 0x04

	// Expressions
	TagExpr     byte = 0x10 // opcode head + arguments
	TagSequence byte = 0x11 // bare sequence without an opcode head

	// Host values carried by evaluated nodes
	TagOpaque byte = 0x20
)

// allTags lists every defined tag for uniqueness verification in tests.
var allTags = []byte{
	TagReservedZero,
	TagNull, TagBool, TagNumber, TagString,
	TagExpr, TagSequence,
	TagOpaque,
}
