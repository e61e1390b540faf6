// Package wasm implements the two output sinks of a compilation run: a
// textual writer producing .wat s-expressions and a binary writer producing
// the section/LEB128 container format. Both are pure sinks behind
// ir.ModuleWriter; the core never reads anything back.
package wasm

// appendULEB encodes an unsigned integer as LEB128.
func appendULEB(buf []byte, v uint64) []byte {
	for {
		b := byte(v & 0x7F)
		v >>= 7
		if v != 0 {
			buf = append(buf, b|0x80)
			continue
		}
		return append(buf, b)
	}
}

// appendSLEB encodes a signed integer as LEB128.
func appendSLEB(buf []byte, v int64) []byte {
	for {
		b := byte(v & 0x7F)
		v >>= 7
		if (v == 0 && b&0x40 == 0) || (v == -1 && b&0x40 != 0) {
			return append(buf, b)
		}
		buf = append(buf, b|0x80)
	}
}

// appendPaddedULEB32 encodes v in exactly five bytes. Call-site function
// indices are emitted this way so they can be patched in place once every
// function has its final index.
func appendPaddedULEB32(buf []byte, v uint32) []byte {
	for i := 0; i < 4; i++ {
		buf = append(buf, byte(v&0x7F)|0x80)
		v >>= 7
	}
	return append(buf, byte(v&0x7F))
}

// putPaddedULEB32 overwrites a five-byte padded index in place.
func putPaddedULEB32(buf []byte, v uint32) {
	for i := 0; i < 4; i++ {
		buf[i] = byte(v&0x7F) | 0x80
		v >>= 7
	}
	buf[4] = byte(v & 0x7F)
}

// appendName encodes a length-prefixed UTF-8 name.
func appendName(buf []byte, s string) []byte {
	buf = appendULEB(buf, uint64(len(s)))
	return append(buf, s...)
}
