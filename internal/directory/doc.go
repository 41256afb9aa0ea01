// Package directory publishes and serves prekey bundles.
//
// A Registry keeps one registration per device in any domain.Transactor and
// hands out each one-time prekey at most once. Server exposes a Registry
// over HTTP and Client is the matching domain.BundleDirectory.
//
// The directory only ever sees public keys. Clients verify every bundle
// they fetch before starting a session from it.
package directory
