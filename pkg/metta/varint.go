package metta

import (
	"encoding/binary"
	"math"
)

// Fallback varint encoding for arity >= 64 terms. Used only by Space's
// fallback map — the primary trie's arity tag tops out at 63.

const (
	vtSExpr       = 0x01
	vtAtom        = 0x02
	vtLong        = 0x03
	vtFloat       = 0x04
	vtBoolTrue    = 0x05
	vtBoolFalse   = 0x06
	vtString      = 0x07
	vtNil         = 0x08
	vtUnit        = 0x09
	vtError       = 0x0A
	vtType        = 0x0B
	vtConjunction = 0x0C
	vtSpaceHandle = 0x0D
	vtState       = 0x0E
	vtMemoHandle  = 0x0F
	vtEmpty       = 0x10
)

// EncodeVarint writes n as an unsigned LEB128 varint: 7 bits per byte,
// high bit set on continuation, little-endian value order. Unbounded.
func EncodeVarint(n uint64) []byte {
	var out []byte
	for {
		b := byte(n & 0x7F)
		n >>= 7
		if n != 0 {
			out = append(out, b|0x80)
		} else {
			out = append(out, b)
			break
		}
	}
	return out
}

// DecodeVarint reads an unsigned LEB128 varint. Returns the value and the
// number of bytes consumed.
func DecodeVarint(b []byte) (uint64, int) {
	var result uint64
	var shift uint
	for i, by := range b {
		result |= uint64(by&0x7F) << shift
		if by&0x80 == 0 {
			return result, i + 1
		}
		shift += 7
	}
	return result, len(b)
}

// EncodeFallback serializes t using the tagged varint encoding, for
// storage in Space's arity-overflow fallback map.
func EncodeFallback(t Term) []byte {
	var out []byte
	appendFallback(t, &out)
	return out
}

func appendFallback(t Term, out *[]byte) {
	switch v := t.(type) {
	case Expression:
		*out = append(*out, vtSExpr)
		*out = append(*out, EncodeVarint(uint64(len(v.Items)))...)
		for _, it := range v.Items {
			appendFallback(it, out)
		}
	case Symbol:
		appendFallbackString(vtAtom, v.Name, out)
	case Variable:
		// Variables inside a fallback-stored term are encoded as atoms
		// prefixed with "$" so decode can round-trip them without a
		// dedicated tag.
		appendFallbackString(vtAtom, "$"+v.Name, out)
	case Integer:
		*out = append(*out, vtLong)
		var buf [8]byte
		binary.LittleEndian.PutUint64(buf[:], uint64(v.Value))
		*out = append(*out, buf[:]...)
	case Float:
		*out = append(*out, vtFloat)
		var buf [8]byte
		binary.LittleEndian.PutUint64(buf[:], math.Float64bits(v.Value))
		*out = append(*out, buf[:]...)
	case Bool:
		if v.Value {
			*out = append(*out, vtBoolTrue)
		} else {
			*out = append(*out, vtBoolFalse)
		}
	case String:
		appendFallbackString(vtString, v.Value, out)
	case Nil:
		*out = append(*out, vtNil)
	case Unit:
		*out = append(*out, vtUnit)
	case Empty:
		*out = append(*out, vtEmpty)
	case ErrorTerm:
		*out = append(*out, vtError)
		*out = append(*out, EncodeVarint(uint64(len(v.Message)))...)
		*out = append(*out, []byte(v.Message)...)
		appendFallback(v.Payload, out)
	case TypeTerm:
		*out = append(*out, vtType)
		appendFallback(v.Inner, out)
	case Conjunction:
		*out = append(*out, vtConjunction)
		*out = append(*out, EncodeVarint(uint64(len(v.Items)))...)
		for _, it := range v.Items {
			appendFallback(it, out)
		}
	case SpaceHandle:
		*out = append(*out, vtSpaceHandle)
		*out = append(*out, EncodeVarint(v.ID)...)
		*out = append(*out, EncodeVarint(uint64(len(v.Name)))...)
		*out = append(*out, []byte(v.Name)...)
	case StateHandle:
		*out = append(*out, vtState)
		*out = append(*out, EncodeVarint(v.ID)...)
	case MemoHandle:
		*out = append(*out, vtMemoHandle)
		*out = append(*out, EncodeVarint(v.ID)...)
		*out = append(*out, EncodeVarint(uint64(len(v.Name)))...)
		*out = append(*out, []byte(v.Name)...)
	default:
		appendFallbackString(vtAtom, t.String(), out)
	}
}

func appendFallbackString(tag byte, s string, out *[]byte) {
	*out = append(*out, tag)
	*out = append(*out, EncodeVarint(uint64(len(s)))...)
	*out = append(*out, []byte(s)...)
}

// DecodeFallback reconstructs a term from the tagged varint encoding.
// Returns the term and bytes consumed; consuming fewer bytes than len(b)
// is acceptable when the tail holds another term.
func DecodeFallback(b []byte) (Term, int) {
	if len(b) == 0 {
		return Nil{}, 0
	}
	tag := b[0]
	pos := 1
	switch tag {
	case vtSExpr:
		count, n := DecodeVarint(b[pos:])
		pos += n
		items := make([]Term, count)
		for i := range items {
			it, n := DecodeFallback(b[pos:])
			items[i] = it
			pos += n
		}
		return Expression{Items: items}, pos
	case vtAtom:
		s, n := decodeFallbackString(b[pos:])
		pos += n
		if len(s) > 0 && s[0] == '$' {
			return Variable{Name: s[1:]}, pos
		}
		return NewSymbol(s), pos
	case vtLong:
		v := int64(binary.LittleEndian.Uint64(b[pos : pos+8]))
		return NewInteger(v), pos + 8
	case vtFloat:
		v := math.Float64frombits(binary.LittleEndian.Uint64(b[pos : pos+8]))
		return NewFloat(v), pos + 8
	case vtBoolTrue:
		return NewBool(true), pos
	case vtBoolFalse:
		return NewBool(false), pos
	case vtString:
		s, n := decodeFallbackString(b[pos:])
		return NewString(s), pos + n
	case vtNil:
		return Nil{}, pos
	case vtUnit:
		return Unit{}, pos
	case vtEmpty:
		return Empty{}, pos
	case vtError:
		msgLen, n := DecodeVarint(b[pos:])
		pos += n
		msg := string(b[pos : pos+int(msgLen)])
		pos += int(msgLen)
		payload, n := DecodeFallback(b[pos:])
		pos += n
		return ErrorTerm{Message: msg, Payload: payload}, pos
	case vtType:
		inner, n := DecodeFallback(b[pos:])
		return TypeTerm{Inner: inner}, pos + n
	case vtConjunction:
		count, n := DecodeVarint(b[pos:])
		pos += n
		items := make([]Term, count)
		for i := range items {
			it, n := DecodeFallback(b[pos:])
			items[i] = it
			pos += n
		}
		return Conjunction{Items: items}, pos
	case vtSpaceHandle:
		id, n := DecodeVarint(b[pos:])
		pos += n
		name, n := decodeFallbackString(b[pos:])
		pos += n
		return SpaceHandle{ID: id, Name: name}, pos
	case vtState:
		id, n := DecodeVarint(b[pos:])
		return StateHandle{ID: id}, pos + n
	case vtMemoHandle:
		id, n := DecodeVarint(b[pos:])
		pos += n
		name, n := decodeFallbackString(b[pos:])
		pos += n
		return MemoHandle{ID: id, Name: name}, pos
	default:
		return Nil{}, pos
	}
}

func decodeFallbackString(b []byte) (string, int) {
	length, n := DecodeVarint(b)
	start := n
	end := start + int(length)
	if end > len(b) {
		end = len(b)
	}
	return string(b[start:end]), end
}

// FallbackKey is the map key type for Space's arity-overflow fallback
// store: the raw varint encoding, which is unique per distinct term, the
// same determinism invariant the primary trie encoding gives extended to
// the fallback form.
type FallbackKey string

func NewFallbackKey(t Term) FallbackKey { return FallbackKey(EncodeFallback(t)) }
