package store

import (
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"axolotl/internal/domain"
)

// ErrClosed is returned by backends after Close.
var ErrClosed = errors.New("store closed")

// Key layout. Recipients are path-escaped so a recipient prefix never
// matches another recipient's keys.
const (
	sessionPrefix  = "session/"
	signedPrefix   = "prekey/signed/"
	oneTimePrefix  = "prekey/onetime/"
	currentSPKKey  = "prekey/current"
	nextPreKeyKey  = "prekey/next"
	identityPrefix = "identity/"
)

func sessionKey(addr domain.Address) []byte {
	return []byte(sessionPrefix + url.PathEscape(addr.Recipient.String()) + "/" + addr.Device.String())
}

func recipientSessionPrefix(r domain.RecipientID) []byte {
	return []byte(sessionPrefix + url.PathEscape(r.String()) + "/")
}

// deviceFromKey parses the trailing device id of a session key.
func deviceFromKey(key []byte) (domain.DeviceID, error) {
	s := string(key)
	i := strings.LastIndexByte(s, '/')
	if i < 0 {
		return 0, fmt.Errorf("store: bad session key %q", s)
	}
	n, err := strconv.ParseUint(s[i+1:], 10, 32)
	if err != nil {
		return 0, fmt.Errorf("store: bad session key %q: %w", s, err)
	}
	return domain.DeviceID(n), nil
}

// idKey encodes ids zero-padded so prefix scans return them in order.
func idKey(prefix string, id uint32) []byte {
	return []byte(fmt.Sprintf("%s%010d", prefix, id))
}

func identityKey(r domain.RecipientID) []byte {
	return []byte(identityPrefix + url.PathEscape(r.String()))
}
