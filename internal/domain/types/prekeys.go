package types

// SignedPreKeyRecord is a locally stored signed prekey.
type SignedPreKeyRecord struct {
	ID         SignedPreKeyID `json:"id"`
	KeyPair    KeyPair        `json:"key_pair"`
	Signature  []byte         `json:"signature"`
	CreatedUTC int64          `json:"created_utc"`
}

// PreKeyRecord is a locally stored one-time prekey.
type PreKeyRecord struct {
	ID      PreKeyID `json:"id"`
	KeyPair KeyPair  `json:"key_pair"`
}

// OneTimePreKeyPublic is only the public half (sent in bundles).
type OneTimePreKeyPublic struct {
	ID  PreKeyID     `json:"id"`
	Pub X25519Public `json:"pub"`
}
