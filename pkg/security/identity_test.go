/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

package security

import (
	cryptorand "crypto/rand"
	"crypto/rsa"
	"crypto/sha1"
	"encoding/hex"
	"encoding/pem"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIdentityIsCreatedOnce(t *testing.T) {
	t.Parallel()

	ip := NewIdentityProvider()

	const callers = 8
	identities := make([]*KeyIdentity, callers)
	var wg sync.WaitGroup
	wg.Add(callers)
	for i := 0; i < callers; i++ {
		go func(i int) {
			defer wg.Done()
			identity, err := ip.Identity()
			assert.NoError(t, err)
			identities[i] = identity
		}(i)
	}
	wg.Wait()

	require.NotNil(t, identities[0])
	for _, identity := range identities {
		require.Same(t, identities[0], identity)
	}
	require.Equal(t, identityKeyLength, identities[0].PrivateKey.N.BitLen())
}

func TestSignatureRoundTrip(t *testing.T) {
	t.Parallel()

	ip := NewIdentityProvider()
	identity, identityErr := ip.Identity()
	require.NoError(t, identityErr)

	messages := []string{
		"",
		`{"debug":"1","pydevd_path":"/opt/pydevd","nonce":"1","debug_port":"5678"}`,
		"non-ascii: é世界",
	}

	for _, message := range messages {
		signature, signErr := ip.Sign(message)
		require.NoError(t, signErr)
		require.NoError(t, Verify(identity.PublicKey(), message, signature))

		t.Run("mutated message fails: "+message, func(t *testing.T) {
			mutated := []byte(message + "x")
			mutated[0] ^= 0x01
			require.Error(t, Verify(identity.PublicKey(), string(mutated), signature))
		})

		t.Run("mutated signature fails: "+message, func(t *testing.T) {
			mutated := append([]byte(nil), signature...)
			mutated[len(mutated)/2] ^= 0x01
			require.Error(t, Verify(identity.PublicKey(), message, mutated))
		})
	}
}

func TestFingerprintIsStableAndKeySpecific(t *testing.T) {
	t.Parallel()

	key1, key1Err := rsa.GenerateKey(cryptorand.Reader, identityKeyLength)
	require.NoError(t, key1Err)
	key2, key2Err := rsa.GenerateKey(cryptorand.Reader, identityKeyLength)
	require.NoError(t, key2Err)

	ip1 := NewIdentityProviderFromKey(key1)
	fp1, fpErr := ip1.Fingerprint()
	require.NoError(t, fpErr)
	fp1Again, fpErr := ip1.Fingerprint()
	require.NoError(t, fpErr)
	require.Equal(t, fp1, fp1Again)

	// Same key, different provider: same fingerprint.
	fpSameKey, fpErr := NewIdentityProviderFromKey(key1).Fingerprint()
	require.NoError(t, fpErr)
	require.Equal(t, fp1, fpSameKey)

	fp2, fpErr := NewIdentityProviderFromKey(key2).Fingerprint()
	require.NoError(t, fpErr)
	require.NotEqual(t, fp1, fp2)

	expected := sha1.Sum([]byte(key1.N.String() + ":65537"))
	require.Equal(t, strings.ToUpper(hex.EncodeToString(expected[:])), fp1)
}

func TestPEMEncodePublicKey(t *testing.T) {
	t.Parallel()

	key, keyErr := rsa.GenerateKey(cryptorand.Reader, identityKeyLength)
	require.NoError(t, keyErr)

	encoded, encodeErr := PEMEncodePublicKey(&key.PublicKey)
	require.NoError(t, encodeErr)

	block, rest := pem.Decode(encoded)
	require.NotNil(t, block)
	require.Empty(t, rest)
	assert.Equal(t, "PUBLIC KEY", block.Type)

	_, nilErr := PEMEncodePublicKey(nil)
	require.Error(t, nilErr)
}
