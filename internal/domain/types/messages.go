package types

import "encoding/binary"

// MessageVersion is the only message and session version this package
// speaks.
const MessageVersion uint8 = 3

// RatchetHeader is sent alongside every ciphertext.
type RatchetHeader struct {
	Version         uint8        `json:"v"`
	RatchetKey      X25519Public `json:"ratchet_key"`
	PreviousCounter uint32       `json:"pn"`
	Counter         uint32       `json:"n"`
}

// Bytes returns the fixed-width header encoding bound into the AEAD
// associated data: version || ratchet key (33) || pn || n.
func (h RatchetHeader) Bytes() []byte {
	out := make([]byte, 0, 1+EncodedKeySize+8)
	out = append(out, h.Version)
	out = append(out, h.RatchetKey.Encode()...)
	out = binary.BigEndian.AppendUint32(out, h.PreviousCounter)
	return binary.BigEndian.AppendUint32(out, h.Counter)
}

// PreKeyMessage carries the X3DH handshake parameters. It accompanies every
// message an initiator sends until the responder has replied.
type PreKeyMessage struct {
	Version        uint8          `json:"v"`
	RegistrationID RegistrationID `json:"registration_id"`
	PreKeyID       *PreKeyID      `json:"pre_key_id,omitempty"`
	SignedPreKeyID SignedPreKeyID `json:"signed_pre_key_id"`
	BaseKey        X25519Public   `json:"base_key"`
	IdentityKey    IdentityKey    `json:"identity_key"`
}

// Envelope is the unit handed to and received from the transport layer.
type Envelope struct {
	Sender     Address        `json:"sender"`
	Header     RatchetHeader  `json:"header"`
	PreKey     *PreKeyMessage `json:"pre_key,omitempty"`
	Ciphertext []byte         `json:"ciphertext"`
}
