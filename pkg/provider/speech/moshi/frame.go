package moshi

// Frame kinds of the Moshi binary WebSocket protocol. Each binary message
// starts with a one-byte kind tag followed by the payload: opus audio for
// kindAudio, UTF-8 text for kindText. Kinds outside this list are reserved
// for protocol extensions and are ignored on receive.
const (
	kindHandshake byte = 0
	kindAudio     byte = 1
	kindText      byte = 2
)

// frame splits a raw binary message into kind and payload. ok is false for
// empty messages.
func frame(data []byte) (kind byte, payload []byte, ok bool) {
	if len(data) < 1 {
		return 0, nil, false
	}
	return data[0], data[1:], true
}

// tagged prefixes payload with the given frame kind for transmission.
func tagged(kind byte, payload []byte) []byte {
	out := make([]byte, 1+len(payload))
	out[0] = kind
	copy(out[1:], payload)
	return out
}
