package mrtd

// Dynamic authentication data objects exchanged by General Authenticate
// are wrapped in a 0x7C template (ISO 7816-4).
const tagDynAuth = 0x7C

// buildTLV encodes tag || length || value with a single length byte.
// value must be at most 255 bytes. The handshake payloads never exceed
// an uncompressed 256-bit point plus headers; the one value that can
// grow, the secure-messaging cryptogram, is length-checked by
// WrapCommand before it reaches here.
func buildTLV(tag byte, value []byte) []byte {
	out := make([]byte, 0, 2+len(value))
	out = append(out, tag, byte(len(value)))
	out = append(out, value...)
	return out
}

// findTLV scans data linearly for the first occurrence of tag,
// descending into a 0x7C wrapper when one is present, and returns its
// value. An absent tag is reported via ok=false, not an error; the
// caller decides whether that is fatal. Truncated encodings also
// report ok=false.
func findTLV(data []byte, tag byte) (value []byte, ok bool) {
	for len(data) >= 2 {
		t := data[0]
		l := int(data[1])
		if len(data) < 2+l {
			return nil, false
		}
		v := data[2 : 2+l]
		if t == tag {
			return v, true
		}
		if t == tagDynAuth {
			if inner, found := findTLV(v, tag); found {
				return inner, true
			}
		}
		data = data[2+l:]
	}
	return nil, false
}
