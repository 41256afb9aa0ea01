// Package store provides persistence for axolotl's core data.
//
// The session, prekey and trust stores hold no state of their own: every
// method works inside a ReadContext or WriteContext handed out by a
// Transactor, so a session update, a consumed one-time prekey and a newly
// trusted identity commit or roll back together. Backends live in the
// subpackages memory, badgerkv and sqlitekv.
//
// Keys:
//
//	session/<recipient>/<device>   serialised SessionRecord
//	identity/<recipient>           trusted remote identity key
//	prekey/signed/<id>             signed prekey (JSON)
//	prekey/onetime/<id>            one-time prekey (JSON)
//	prekey/current                 current signed prekey id
//
// Recipients are path-escaped, so scanning session/<recipient>/ never
// matches a different recipient.
//
// The local identity is kept outside the KV store in an scrypt and
// ChaCha20-Poly1305 encrypted file (IdentityFileStore).
package store
