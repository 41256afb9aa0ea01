package types_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"axolotl/internal/crypto"
	"axolotl/internal/domain/types"
)

// validRaw returns the wire form of a correctly signed bundle with a
// one-time prekey.
func validRaw(t *testing.T) types.RawPreKeyBundle {
	t.Helper()
	dh, err := crypto.GenerateX25519(nil)
	require.NoError(t, err)
	edPriv, edPub, err := crypto.GenerateEd25519(nil)
	require.NoError(t, err)
	spk, err := crypto.GenerateX25519(nil)
	require.NoError(t, err)
	opk, err := crypto.GenerateX25519(nil)
	require.NoError(t, err)

	opkID := types.PreKeyID(7)
	return types.RawPreKeyBundle{
		RegistrationID:        42,
		DeviceID:              1,
		IdentityKey:           types.IdentityKey{DH: dh.Public, Signing: edPub}.Encode(),
		SignedPreKeyID:        3,
		SignedPreKeyPublic:    spk.Public.Encode(),
		SignedPreKeySignature: crypto.SignPreKey(edPriv, spk.Public),
		PreKeyID:              &opkID,
		PreKeyPublic:          opk.Public.Encode(),
	}
}

func TestNewPreKeyBundle_Valid(t *testing.T) {
	raw := validRaw(t)
	b, err := types.NewPreKeyBundle(raw)
	require.NoError(t, err)

	require.NotNil(t, b.PreKey)
	assert.Equal(t, types.PreKeyID(7), b.PreKey.ID)
	assert.Equal(t, raw, b.Raw())

	_, err = b.Verify()
	require.NoError(t, err)
}

func TestNewPreKeyBundle_WithoutOneTimePreKey(t *testing.T) {
	raw := validRaw(t)
	raw.PreKeyID, raw.PreKeyPublic = nil, nil

	b, err := types.NewPreKeyBundle(raw)
	require.NoError(t, err)
	assert.Nil(t, b.PreKey)
}

func TestNewPreKeyBundle_Malformed(t *testing.T) {
	zeroPoint := append([]byte{types.DJBType}, make([]byte, types.KeySize)...)

	cases := map[string]func(*types.RawPreKeyBundle){
		"missing identity key":        func(r *types.RawPreKeyBundle) { r.IdentityKey = nil },
		"missing signed prekey":       func(r *types.RawPreKeyBundle) { r.SignedPreKeyPublic = nil },
		"missing signature":           func(r *types.RawPreKeyBundle) { r.SignedPreKeySignature = nil },
		"short signature":             func(r *types.RawPreKeyBundle) { r.SignedPreKeySignature = r.SignedPreKeySignature[:10] },
		"short identity key":          func(r *types.RawPreKeyBundle) { r.IdentityKey = r.IdentityKey[:types.EncodedKeySize] },
		"identity key wrong type":     func(r *types.RawPreKeyBundle) { r.IdentityKey[0] = 0x04 },
		"short signed prekey":         func(r *types.RawPreKeyBundle) { r.SignedPreKeyPublic = r.SignedPreKeyPublic[1:] },
		"signed prekey wrong type":    func(r *types.RawPreKeyBundle) { r.SignedPreKeyPublic[0] = 0x00 },
		"signed prekey zero point":    func(r *types.RawPreKeyBundle) { r.SignedPreKeyPublic = zeroPoint },
		"one-time prekey zero point":  func(r *types.RawPreKeyBundle) { r.PreKeyPublic = zeroPoint },
		"one-time prekey without id":  func(r *types.RawPreKeyBundle) { r.PreKeyID = nil },
		"one-time prekey id only":     func(r *types.RawPreKeyBundle) { r.PreKeyPublic = nil },
		"zero registration id":        func(r *types.RawPreKeyBundle) { r.RegistrationID = 0 },
		"registration id above range": func(r *types.RawPreKeyBundle) { r.RegistrationID = types.MaxRegistrationID + 1 },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			raw := validRaw(t)
			mutate(&raw)
			_, err := types.NewPreKeyBundle(raw)
			require.ErrorIs(t, err, types.ErrMalformedBundle)
		})
	}
}

func TestPreKeyBundle_JSON(t *testing.T) {
	b, err := types.NewPreKeyBundle(validRaw(t))
	require.NoError(t, err)

	data, err := json.Marshal(b)
	require.NoError(t, err)
	var back types.PreKeyBundle
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, b, back)

	// Decoding validates: drop the identity key from the wire form.
	var fields map[string]any
	require.NoError(t, json.Unmarshal(data, &fields))
	delete(fields, "identity_key")
	data, err = json.Marshal(fields)
	require.NoError(t, err)
	require.ErrorIs(t, json.Unmarshal(data, &back), types.ErrMalformedBundle)

	require.ErrorIs(t, json.Unmarshal([]byte(`{"identity_key": 5}`), &back), types.ErrMalformedBundle)
}

func TestVerify_RejectsBadSignature(t *testing.T) {
	raw := validRaw(t)
	raw.SignedPreKeySignature[0] ^= 0xff
	b, err := types.NewPreKeyBundle(raw)
	require.NoError(t, err)

	_, err = b.Verify()
	require.ErrorIs(t, err, types.ErrUntrustedIdentity)
}

func TestRegistrationID_Valid(t *testing.T) {
	assert.False(t, types.RegistrationID(0).Valid())
	assert.True(t, types.RegistrationID(1).Valid())
	assert.True(t, types.MaxRegistrationID.Valid())
	assert.False(t, (types.MaxRegistrationID + 1).Valid())
}
