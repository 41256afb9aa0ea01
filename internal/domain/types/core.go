package types

import (
	"fmt"
	"strconv"
)

// RecipientID identifies a remote account (for example a phone number or a
// service identifier). A recipient owns one or more devices.
type RecipientID string

// String returns the string form of the recipient.
func (r RecipientID) String() string { return string(r) }

// DeviceID identifies one device of a recipient.
type DeviceID uint32

// String returns the decimal form of the device id.
func (d DeviceID) String() string { return strconv.FormatUint(uint64(d), 10) }

// RegistrationID is the random id a device picks when it registers.
type RegistrationID uint32

// MaxRegistrationID is the largest registration id a device may pick. Ids
// stay in the 14-bit range other clients expect; zero is never valid.
const MaxRegistrationID RegistrationID = 16380

// Valid reports whether r is in [1, MaxRegistrationID].
func (r RegistrationID) Valid() bool { return r >= 1 && r <= MaxRegistrationID }

// SignedPreKeyID identifies a signed prekey.
type SignedPreKeyID uint32

// PreKeyID identifies a one-time prekey.
type PreKeyID uint32

// Fingerprint is a short identifier for public keys presented to users.
type Fingerprint string

// String returns the string form of the fingerprint.
func (f Fingerprint) String() string { return string(f) }

// Address names one remote device: the session store key.
type Address struct {
	Recipient RecipientID `json:"recipient"`
	Device    DeviceID    `json:"device"`
}

// String returns "recipient.device".
func (a Address) String() string { return fmt.Sprintf("%s.%d", a.Recipient, a.Device) }
