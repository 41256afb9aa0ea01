package types

import "errors"

// Protocol error kinds. Callers match them with errors.Is; every error
// returned by the protocol and store packages wraps exactly one of these
// or an unchanged storage error.
var (
	// ErrMalformedBundle is returned when a prekey bundle is missing a
	// required field or carries an invalid key encoding.
	ErrMalformedBundle = errors.New("malformed prekey bundle")
	// ErrUntrustedIdentity is returned when a bundle signature does not
	// verify or a remote identity key changed without a reset.
	ErrUntrustedIdentity = errors.New("untrusted identity")
	// ErrReplayedPreKey is returned when a message references a one-time
	// prekey that has already been consumed.
	ErrReplayedPreKey = errors.New("replayed one-time prekey")
	// ErrDuplicateMessage is returned when a message key for the index has
	// already been used or evicted.
	ErrDuplicateMessage = errors.New("duplicate or already consumed message")
	// ErrExcessiveGap is returned when a message index is too far ahead of
	// the receiving chain.
	ErrExcessiveGap = errors.New("excessive message gap")
	// ErrUnsupportedSessionVersion is returned for records or messages of
	// an unknown version.
	ErrUnsupportedSessionVersion = errors.New("unsupported session version")
	// ErrNoSession is returned when no session state can serve a request.
	ErrNoSession = errors.New("no session")

	// ErrInvalidKey is returned for a public key that is not a valid point
	// encoding.
	ErrInvalidKey = errors.New("invalid key encoding")
	// ErrInvalidPreKey is returned when a prekey message names a signed
	// prekey the device does not hold.
	ErrInvalidPreKey = errors.New("invalid prekey id")
	// ErrInvalidMessage is returned when a ciphertext fails authentication.
	ErrInvalidMessage = errors.New("invalid message")
	// ErrCorruptRecord is returned when a stored record cannot be decoded.
	ErrCorruptRecord = errors.New("corrupt session record")
)

var errorKinds = []struct {
	err  error
	kind string
}{
	{ErrMalformedBundle, "malformed_bundle"},
	{ErrUntrustedIdentity, "untrusted_identity"},
	{ErrReplayedPreKey, "replayed_prekey"},
	{ErrDuplicateMessage, "duplicate_message"},
	{ErrExcessiveGap, "excessive_gap"},
	{ErrUnsupportedSessionVersion, "unsupported_version"},
	{ErrNoSession, "no_session"},
	{ErrInvalidKey, "invalid_key"},
	{ErrInvalidPreKey, "invalid_prekey"},
	{ErrInvalidMessage, "invalid_message"},
	{ErrCorruptRecord, "corrupt_record"},
}

// ErrorKind returns a stable label for err, suitable for metrics and logs.
// Errors that wrap none of the protocol kinds are labelled "internal".
func ErrorKind(err error) string {
	if err == nil {
		return ""
	}
	for _, k := range errorKinds {
		if errors.Is(err, k.err) {
			return k.kind
		}
	}
	return "internal"
}
