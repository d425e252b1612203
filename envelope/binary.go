package envelope

import "github.com/vmihailenco/msgpack/v5"

// ToBinary serializes the envelope with msgpack instead of JSON, an
// alternate codec that carries byte payloads without a base64 detour.
// No transport in this module uses it: the in-process channel pair
// hands envelopes over as pointers, and the websocket endpoints frame
// them with ToJSON.
func (e *Envelope) ToBinary() ([]byte, error) {
	return msgpack.Marshal(e)
}

// FromBinary deserializes an envelope previously produced by ToBinary.
func FromBinary(data []byte) (*Envelope, error) {
	var env Envelope
	if err := msgpack.Unmarshal(data, &env); err != nil {
		return nil, err
	}
	return &env, nil
}
