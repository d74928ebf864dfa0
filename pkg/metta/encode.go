package metta

import (
	"strconv"
	"strings"
)

// Byte-exact primary trie encoding.
//
// Tag classes (one byte each):
//   0x00..0x3F  arity tag: arity of an S-expression (0-63); children follow.
//   0x40        wildcard: `_`, never shares a de-Bruijn index with any
//               named variable and never collapses with another wildcard.
//   0xC1..0xFF  symbol-size tag: 0xC0 | length, length in 1..63; symbol
//               bytes follow inline.
//   0xC0        new variable (de-Bruijn introduction, implicit next index).
//   0x80..0xBF  variable reference: 0x80 | index, index in 0..63.
//
// Decoding produces back the original term up to alpha-renaming:
// alpha-equivalent terms collapse to identical bytes. Arity tag 0 decodes
// as Nil, so a one-element expression such as (f), which also encodes
// with arity tag 0, does not decode back to itself.

const (
	tagArityMin   = 0x00
	tagArityMax   = 0x3F
	tagWildcard   = 0x40
	tagNewVar     = 0xC0
	tagVarRefMin  = 0x80
	tagVarRefMax  = 0xBF
	tagSymSizeMin = 0xC1
	tagSymSizeMax = 0xFF

	maxPrimaryArity = 63 // arity ceiling for the primary trie; above this falls back
	maxVarRefs      = 64 // de-Bruijn indices 0..63
	maxSymbolLen    = 63
)

// encoder tracks the de-Bruijn variable numbering for one top-level encode
// call. A fresh encoder must be used per term so numbering always starts
// at 0 — this is what makes alpha-equivalent terms collapse to identical
// bytes (invariant 3).
type encoder struct {
	names []string // names[i] is the source name of de-Bruijn variable i
}

func newEncoder() *encoder { return &encoder{} }

// indexOf returns the de-Bruijn index for name, allocating the next index
// on first sight.
func (e *encoder) indexOf(name string) (idx int, isNew bool) {
	for i, n := range e.names {
		if n == name {
			return i, false
		}
	}
	e.names = append(e.names, name)
	return len(e.names) - 1, true
}

// HasOverflowArity reports whether t (or any sub-expression) has arity
// above maxPrimaryArity (64 or more), which routes the whole top-level
// term to the varint-tagged fallback encoding instead of the primary trie
// encoding.
func HasOverflowArity(t Term) bool {
	expr, ok := t.(Expression)
	if !ok {
		return false
	}
	if expr.Arity() > maxPrimaryArity {
		return true
	}
	for _, it := range expr.Items {
		if HasOverflowArity(it) {
			return true
		}
	}
	return false
}

// EncodeTerm serializes t to its canonical primary-trie byte path. It
// must only be called on terms for which HasOverflowArity is false.
func EncodeTerm(t Term) []byte {
	e := newEncoder()
	var out []byte
	e.encode(t, &out)
	return out
}

func (e *encoder) encode(t Term, out *[]byte) {
	switch v := t.(type) {
	case Nil:
		*out = append(*out, 0x00)
	case Expression:
		arity := v.Arity()
		if arity < 0 {
			arity = 0
		}
		*out = append(*out, byte(arity))
		for _, it := range v.Items {
			e.encode(it, out)
		}
	case Variable:
		if v.IsWildcard() {
			// Wildcards never unify with bindings and must never collapse
			// with a named variable or with each other; a dedicated tag
			// keeps them out of the de-Bruijn numbering entirely so they
			// never shift the index assigned to a later named variable.
			*out = append(*out, tagWildcard)
			return
		}
		idx, isNew := e.indexOf(v.Name)
		if isNew {
			*out = append(*out, tagNewVar)
			return
		}
		*out = append(*out, byte(tagVarRefMin|idx))
	case Symbol:
		encodeSymbolBytes(v.Name, out)
	case Integer:
		encodeSymbolBytes(strconv.FormatInt(v.Value, 10), out)
	case Float:
		encodeSymbolBytes(strconv.FormatFloat(v.Value, 'g', -1, 64), out)
	case Bool:
		if v.Value {
			encodeSymbolBytes("true", out)
		} else {
			encodeSymbolBytes("false", out)
		}
	case String:
		encodeSymbolBytes(strconv.Quote(v.Value), out)
	case Unit:
		encodeSymbolBytes("Unit", out)
	case Empty:
		encodeSymbolBytes("Empty", out)
	default:
		// Error/Type/handles and any other non-storable variant encode by
		// their textual form; they are never expected inside a stored
		// rule but must not panic the encoder.
		encodeSymbolBytes(t.String(), out)
	}
}

func encodeSymbolBytes(s string, out *[]byte) {
	b := []byte(s)
	for len(b) > maxSymbolLen {
		chunk := b[:maxSymbolLen]
		*out = append(*out, byte(tagSymSizeMin|len(chunk)))
		*out = append(*out, chunk...)
		b = b[maxSymbolLen:]
	}
	*out = append(*out, byte(tagSymSizeMin|len(b)))
	*out = append(*out, b...)
}

// decoder mirrors encoder's de-Bruijn numbering on the way back out.
type decoder struct {
	names []string
}

func newDecoder() *decoder { return &decoder{} }

func nameForIndex(i int) string {
	// Fixed name table: $a..$j then x10, x11, ...
	if i < 10 {
		return string(rune('a' + i))
	}
	return "x" + strconv.Itoa(i)
}

// DecodeTerm reconstructs a term from its primary-trie byte encoding.
// Returns the term and the number of bytes consumed; decoding fewer bytes
// than len(b) is acceptable when b's tail holds another term (the trie
// never asks for that here, but the contract matches the varint decoder's
// for symmetry).
func DecodeTerm(b []byte) (Term, int) {
	d := newDecoder()
	t, n := d.decode(b)
	return t, n
}

func (d *decoder) decode(b []byte) (Term, int) {
	if len(b) == 0 {
		return Nil{}, 0
	}
	tag := b[0]
	switch {
	case tag >= tagArityMin && tag <= tagArityMax:
		arity := int(tag)
		pos := 1
		if arity == 0 {
			return Nil{}, pos
		}
		items := make([]Term, arity+1)
		for i := 0; i <= arity; i++ {
			it, n := d.decode(b[pos:])
			items[i] = it
			pos += n
		}
		return Expression{Items: items}, pos
	case tag == tagWildcard:
		return Variable{Name: AnonymousVar}, 1
	case tag == tagNewVar:
		name := nameForIndex(len(d.names))
		d.names = append(d.names, name)
		return Variable{Name: name}, 1
	case tag >= tagVarRefMin && tag <= tagVarRefMax:
		idx := int(tag &^ tagVarRefMin)
		if idx >= len(d.names) {
			return Variable{Name: nameForIndex(idx)}, 1
		}
		return Variable{Name: d.names[idx]}, 1
	case tag >= tagSymSizeMin && tag <= tagSymSizeMax:
		length := int(tag &^ 0xC0)
		pos := 1 + length
		if pos > len(b) {
			pos = len(b)
		}
		s := string(b[1:pos])
		return decodeSymbolHeuristic(s), pos
	default:
		return Nil{}, 1
	}
}

// decodeSymbolHeuristic parses leading-digit / quote forms back into
// Integer/Float/Bool/String; everything else stays a
// Symbol. This is lossy for a Symbol that happens to look like a number —
// this accepts that tradeoff (matches the original Rust encoder).
func decodeSymbolHeuristic(s string) Term {
	switch s {
	case "true":
		return NewBool(true)
	case "false":
		return NewBool(false)
	case "Unit":
		return Unit{}
	case "Empty":
		return Empty{}
	}
	if strings.HasPrefix(s, `"`) && strings.HasSuffix(s, `"`) && len(s) >= 2 {
		if unquoted, err := strconv.Unquote(s); err == nil {
			return NewString(unquoted)
		}
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return NewInteger(n)
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return NewFloat(f)
	}
	return NewSymbol(s)
}
