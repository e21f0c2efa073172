package websocket

// UTF-8 validation as a byte-class automaton (RFC 3629 Section 4).
//
// Every input byte is mapped to a class, and (state, byte) is looked up in a
// flattened transition table. utf8Reject is sticky, and a buffer is valid only
// when the walk ends in utf8Accept, so a truncated sequence at the end fails.

const (
	utf8Accept uint8 = iota // between sequences
	utf8Tail1               // one continuation byte 80..BF missing
	utf8Tail2               // two continuation bytes missing
	utf8AfterE0             // next byte must be A0..BF (no overlong 3-byte form)
	utf8AfterED             // next byte must be 80..9F (no surrogates)
	utf8Tail3               // three continuation bytes missing
	utf8AfterF0             // next byte must be 90..BF (no overlong 4-byte form)
	utf8AfterF4             // next byte must be 80..8F (max U+10FFFF)
	utf8Reject

	utf8States
)

// Byte classes.
const (
	classASCII   = iota // 00..7F
	classCont80         // 80..8F
	classCont90         // 90..9F
	classContA0         // A0..BF
	classLead2          // C2..DF
	classE0             // E0
	classLead3          // E1..EC, EE..EF
	classED             // ED
	classF0             // F0
	classLead4          // F1..F3
	classF4             // F4
	classInvalid        // C0, C1, F5..FF

	utf8Classes
)

var utf8Table = buildUTF8Table()

func utf8ByteClass(b byte) int {
	switch {
	case b <= 0x7F:
		return classASCII
	case b <= 0x8F:
		return classCont80
	case b <= 0x9F:
		return classCont90
	case b <= 0xBF:
		return classContA0
	case b <= 0xC1:
		return classInvalid
	case b <= 0xDF:
		return classLead2
	case b == 0xE0:
		return classE0
	case b == 0xED:
		return classED
	case b <= 0xEF:
		return classLead3
	case b == 0xF0:
		return classF0
	case b <= 0xF3:
		return classLead4
	case b == 0xF4:
		return classF4
	default:
		return classInvalid
	}
}

func buildUTF8Table() *[utf8States][256]uint8 {
	var next [utf8States][utf8Classes]uint8
	for s := range next {
		for c := range next[s] {
			next[s][c] = utf8Reject
		}
	}

	next[utf8Accept][classASCII] = utf8Accept
	next[utf8Accept][classLead2] = utf8Tail1
	next[utf8Accept][classE0] = utf8AfterE0
	next[utf8Accept][classLead3] = utf8Tail2
	next[utf8Accept][classED] = utf8AfterED
	next[utf8Accept][classF0] = utf8AfterF0
	next[utf8Accept][classLead4] = utf8Tail3
	next[utf8Accept][classF4] = utf8AfterF4

	for _, c := range []int{classCont80, classCont90, classContA0} {
		next[utf8Tail1][c] = utf8Accept
		next[utf8Tail2][c] = utf8Tail1
		next[utf8Tail3][c] = utf8Tail2
	}
	next[utf8AfterE0][classContA0] = utf8Tail1
	next[utf8AfterED][classCont80] = utf8Tail1
	next[utf8AfterED][classCont90] = utf8Tail1
	next[utf8AfterF0][classCont90] = utf8Tail2
	next[utf8AfterF0][classContA0] = utf8Tail2
	next[utf8AfterF4][classCont80] = utf8Tail2

	table := new([utf8States][256]uint8)
	for s := range table {
		for b := range 256 {
			table[s][b] = next[s][utf8ByteClass(byte(b))]
		}
	}
	return table
}

// ValidUTF8 reports whether data is well-formed UTF-8.
//
// Overlong forms, surrogates (U+D800..U+DFFF), code points above U+10FFFF and
// truncated sequences are rejected.
func ValidUTF8(data []byte) bool {
	state := utf8Accept
	for _, b := range data {
		state = utf8Table[state][b]
		if state == utf8Reject {
			return false
		}
	}
	return state == utf8Accept
}
