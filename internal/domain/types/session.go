package types

// SessionInfo is a redacted summary of one stored session, safe to print.
// Pending is true while the peer has not replied to the handshake.
type SessionInfo struct {
	Address        Address     `json:"address"`
	RemoteIdentity Fingerprint `json:"remote_identity"`
	Active         bool        `json:"active"`
	Pending        bool        `json:"pending"`
	SendingIndex   uint32      `json:"sending_index"`
	ReceivingIndex uint32      `json:"receiving_index"`
	SkippedKeys    int         `json:"skipped_keys"`
	PreviousStates int         `json:"previous_states"`
}
