package builtins

// ReplacementChar is substituted for code points the encoder will not emit.
const ReplacementChar = 0xFFFD

// AppendCodePoint appends the UTF-8 encoding of cp to dst.
//
// Surrogate code points are encoded like any other 3-byte value. The
// non-characters U+FFFE and U+FFFF, negative values, and values above
// U+10FFFF are replaced with U+FFFD.
func AppendCodePoint(dst []byte, cp int64) []byte {
	switch {
	case cp < 0:
		return AppendCodePoint(dst, ReplacementChar)
	case cp <= 0x7F:
		return append(dst, byte(cp))
	case cp <= 0x7FF:
		return append(dst,
			0xC0|byte(cp>>6),
			0x80|byte(cp)&0x3F)
	case cp == 0xFFFE || cp == 0xFFFF:
		return AppendCodePoint(dst, ReplacementChar)
	case cp <= 0xFFFF:
		return append(dst,
			0xE0|byte(cp>>12),
			0x80|byte(cp>>6)&0x3F,
			0x80|byte(cp)&0x3F)
	case cp <= 0x10FFFF:
		return append(dst,
			0xF0|byte(cp>>18),
			0x80|byte(cp>>12)&0x3F,
			0x80|byte(cp>>6)&0x3F,
			0x80|byte(cp)&0x3F)
	default:
		return AppendCodePoint(dst, ReplacementChar)
	}
}

// EncodedLen reports how many bytes AppendCodePoint writes for cp.
func EncodedLen(cp int64) int {
	switch {
	case cp < 0 || cp > 0x10FFFF || cp == 0xFFFE || cp == 0xFFFF:
		return 3
	case cp <= 0x7F:
		return 1
	case cp <= 0x7FF:
		return 2
	case cp <= 0xFFFF:
		return 3
	default:
		return 4
	}
}
