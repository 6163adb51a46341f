package tokenizer

// Byte-level vocabularies (GPT-2 style BPE) store each token as a string
// whose characters each stand for one byte, through a fixed mapping that
// reassigns unprintable and whitespace bytes to printable code points.
// byteLevelTable maps those characters back to the bytes they stand for.
var byteLevelTable = buildByteLevelTable()

func buildByteLevelTable() map[rune]byte {
	printable := func(b int) bool {
		return (b >= '!' && b <= '~') || (b >= 0xA1 && b <= 0xAC) || (b >= 0xAE && b <= 0xFF)
	}
	table := make(map[rune]byte, 256)
	extra := rune(0x100)
	for b := 0; b < 256; b++ {
		if printable(b) {
			table[rune(b)] = byte(b)
		} else {
			table[extra] = byte(b)
			extra++
		}
	}
	return table
}

// decodeByteLevel maps an encoded byte-level token back to raw bytes.
// Characters outside the mapping (special tokens kept verbatim in the
// vocabulary) pass through as their UTF-8 encoding.
func decodeByteLevel(encoded string) []byte {
	out := make([]byte, 0, len(encoded))
	for _, r := range encoded {
		if b, ok := byteLevelTable[r]; ok {
			out = append(out, b)
		} else {
			out = append(out, string(r)...)
		}
	}
	return out
}

// decodeByteFallback maps a byte-fallback token (SentencePiece style) to
// raw bytes: "<0xNN>" tokens become the byte NN, and U+2581 becomes a
// space.
func decodeByteFallback(encoded string) []byte {
	if b, ok := parseByteToken(encoded); ok {
		return []byte{b}
	}
	out := make([]byte, 0, len(encoded))
	for _, r := range encoded {
		if r == '▁' {
			out = append(out, ' ')
		} else {
			out = append(out, string(r)...)
		}
	}
	return out
}

// parseByteToken recognizes the "<0xNN>" byte-fallback form.
func parseByteToken(s string) (byte, bool) {
	if len(s) != 6 || s[0] != '<' || s[1] != '0' || s[2] != 'x' || s[5] != '>' {
		return 0, false
	}
	var v byte
	for _, c := range []byte{s[3], s[4]} {
		switch {
		case c >= '0' && c <= '9':
			v = v<<4 | (c - '0')
		case c >= 'a' && c <= 'f':
			v = v<<4 | (c - 'a' + 10)
		case c >= 'A' && c <= 'F':
			v = v<<4 | (c - 'A' + 10)
		default:
			return 0, false
		}
	}
	return v, true
}
