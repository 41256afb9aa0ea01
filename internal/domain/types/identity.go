package types

// Identity holds your long-term X25519 and Ed25519 keys.
type Identity struct {
	XPub           X25519Public   `json:"xpub"`
	XPriv          X25519Private  `json:"xpriv"`
	EdPub          Ed25519Public  `json:"edpub"`
	EdPriv         Ed25519Private `json:"edpriv"`
	RegistrationID RegistrationID `json:"registration_id"`
}

// PublicKey returns the public identity key.
func (id Identity) PublicKey() IdentityKey {
	return IdentityKey{DH: id.XPub, Signing: id.EdPub}
}

// DHPair returns the agreement key pair.
func (id Identity) DHPair() KeyPair {
	return KeyPair{Private: id.XPriv, Public: id.XPub}
}
