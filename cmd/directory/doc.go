// Command directory serves published prekey bundles over HTTP.
//
// HTTP API
//
//	PUT /v1/keys/{recipient}/{device}
//	    Publish a device's bundle and its one-time prekey pool. The body is
//	    {"bundle": ..., "pre_keys": [...]}. The signed prekey signature is
//	    checked before anything is stored. Replies 204.
//
//	GET /v1/keys/{recipient}/{device}
//	    Return the device's bundle with one one-time prekey attached. The
//	    attached key is removed from the pool, so no two callers get the
//	    same one. Once the pool is empty bundles carry no one-time prekey.
//
//	GET /v1/keys/{recipient}
//	    Return {"devices": [...]} for the recipient, sorted.
//
// Unknown recipients and devices reply 404, malformed or badly signed
// bundles 400. Every request is access-logged with method, path, remote,
// status, bytes and duration.
//
// The directory only ever sees public keys. State lives in the configured
// store backend, so a badger or sqlite directory survives restarts.
package main
