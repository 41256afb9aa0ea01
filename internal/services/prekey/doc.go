// Package prekey manages signed prekeys and one-time prekeys for X3DH bootstrap.
//
// It rotates the current signed prekey, allocates one-time prekey ids that
// are never reused, and publishes bundles to a domain.BundleDirectory.
package prekey
