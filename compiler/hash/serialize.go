package hash

import (
	"encoding/binary"
	"math"

	"github.com/viwo/viwo/vm"
)

// ---------------------------------------------------------------------------
// Deterministic binary serialization of script ASTs.
//
// Encoding conventions:
//   - First byte: HashVersion (0x01)
//   - Numbers: IEEE 754 big-endian 8B; -0 is written as 0 and every NaN
//     with the same bits
//   - Strings: uint32 big-endian length + UTF-8 bytes
//   - Booleans: single byte (0/1)
//   - Child nodes: serialized inline (flat), preceded by a uint32 count
// ---------------------------------------------------------------------------

// Serialize produces a deterministic byte serialization of node.
// The returned bytes are suitable for hashing with SHA-256.
func Serialize(node vm.Node) []byte {
	s := &serializer{buf: make([]byte, 0, 256)}
	s.writeByte(HashVersion)
	s.serializeNode(node)
	return s.buf
}

type serializer struct {
	buf []byte
}

func (s *serializer) writeByte(b byte) {
	s.buf = append(s.buf, b)
}

func (s *serializer) writeUint32(v uint32) {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	s.buf = append(s.buf, b[:]...)
}

func (s *serializer) writeFloat64(v float64) {
	switch {
	case v == 0:
		v = 0
	case math.IsNaN(v):
		v = math.NaN()
	}
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], math.Float64bits(v))
	s.buf = append(s.buf, b[:]...)
}

func (s *serializer) writeString(v string) {
	s.writeUint32(uint32(len(v)))
	s.buf = append(s.buf, v...)
}

func (s *serializer) serializeNode(node vm.Node) {
	switch n := node.(type) {
	case vm.Literal:
		s.serializeValue(n.Value)

	case vm.Evaluated:
		s.serializeValue(n.Value)

	case *vm.Expr:
		if n.Op == "" {
			s.writeByte(TagSequence)
		} else {
			s.writeByte(TagExpr)
			s.writeString(n.Op)
		}
		s.writeUint32(uint32(len(n.Args)))
		for _, arg := range n.Args {
			s.serializeNode(arg)
		}

	default:
		s.writeByte(TagNull)
	}
}

func (s *serializer) serializeValue(v any) {
	switch v := v.(type) {
	case nil:
		s.writeByte(TagNull)

	case bool:
		s.writeByte(TagBool)
		if v {
			s.writeByte(1)
		} else {
			s.writeByte(0)
		}

	case float64:
		s.writeByte(TagNumber)
		s.writeFloat64(v)

	case string:
		s.writeByte(TagString)
		s.writeString(v)

	default:
		// Host values have no stable encoding; their type is all that is
		// recorded.
		s.writeByte(TagOpaque)
		s.writeString(vm.TypeName(v))
	}
}
