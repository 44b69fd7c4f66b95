package codec

// StartCodeLen is the length of the four byte Annex-B start code the
// encoder prefixes to every packet.
const StartCodeLen = 4

// AppendPayload appends length bytes starting at offset of the circular
// buffer ring to dst. A packet that runs past the end of ring continues at
// index 0. Out of range descriptors yield ok=false and leave dst unchanged.
func AppendPayload(dst, ring []byte, offset, length int) ([]byte, bool) {
	size := len(ring)
	if offset < 0 || length < 0 || offset > size || length > size {
		return dst, false
	}

	tail := size - offset
	if length <= tail {
		return append(dst, ring[offset:offset+length]...), true
	}

	dst = append(dst, ring[offset:]...)
	return append(dst, ring[:length-tail]...), true
}

// StripStartCode removes a leading 00 00 00 01 or 00 00 01 prefix.
// Payloads without a start code are returned unchanged.
func StripStartCode(b []byte) []byte {
	switch {
	case len(b) >= 4 && b[0] == 0 && b[1] == 0 && b[2] == 0 && b[3] == 1:
		return b[4:]
	case len(b) >= 3 && b[0] == 0 && b[1] == 0 && b[2] == 1:
		return b[3:]
	}
	return b
}

// AnnexBStartCode is prepended again when writing elementary stream files.
var AnnexBStartCode = []byte{0, 0, 0, 1}
