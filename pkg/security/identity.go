/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

package security

import (
	"crypto"
	cryptorand "crypto/rand"
	"crypto/rsa"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
)

// The add-in only understands SHA1withRSA signatures over 2048-bit keys.
// Changing either requires a matching add-in release.
const identityKeyLength = 2048

// ErrCrypto is returned when the platform cannot produce the key pair or signatures
// the add-in expects. It is never expected in practice and should be treated as fatal.
var ErrCrypto = errors.New("cryptographic primitives unavailable")

// KeyIdentity is the key pair used to sign injection requests.
type KeyIdentity struct {
	PrivateKey *rsa.PrivateKey

	fingerprintOnce sync.Once
	fingerprint     string
}

// PublicKey returns the public half of the identity.
func (ki *KeyIdentity) PublicKey() *rsa.PublicKey {
	return &ki.PrivateKey.PublicKey
}

// Modulus returns the public key modulus as a decimal string.
func (ki *KeyIdentity) Modulus() string {
	return ki.PrivateKey.PublicKey.N.String()
}

// Exponent returns the public key exponent as a decimal string.
func (ki *KeyIdentity) Exponent() string {
	return fmt.Sprintf("%d", ki.PrivateKey.PublicKey.E)
}

// Fingerprint is the upper-case hex SHA-1 of "<modulus>:<exponent>".
// Users compare it with the key the add-in has accepted.
func (ki *KeyIdentity) Fingerprint() string {
	ki.fingerprintOnce.Do(func() {
		digest := sha1.Sum([]byte(ki.Modulus() + ":" + ki.Exponent()))
		ki.fingerprint = strings.ToUpper(hex.EncodeToString(digest[:]))
	})
	return ki.fingerprint
}

// IdentityProvider lazily creates a single KeyIdentity and hands it out for the rest of its lifetime.
// Concurrent first calls wait for one key generation; the key is never rotated.
type IdentityProvider struct {
	random io.Reader

	once     sync.Once
	identity *KeyIdentity
	err      error
}

func NewIdentityProvider() *IdentityProvider {
	return &IdentityProvider{random: cryptorand.Reader}
}

// NewIdentityProviderFromKey returns a provider that serves an existing key.
func NewIdentityProviderFromKey(key *rsa.PrivateKey) *IdentityProvider {
	ip := &IdentityProvider{random: cryptorand.Reader}
	ip.once.Do(func() {
		ip.identity = &KeyIdentity{PrivateKey: key}
	})
	return ip
}

// Identity returns the cached identity, generating it on first use.
func (ip *IdentityProvider) Identity() (*KeyIdentity, error) {
	ip.once.Do(func() {
		key, keyErr := rsa.GenerateKey(ip.random, identityKeyLength)
		if keyErr != nil {
			ip.err = fmt.Errorf("%w: failed to generate identity key: %w", ErrCrypto, keyErr)
			return
		}
		ip.identity = &KeyIdentity{PrivateKey: key}
	})
	return ip.identity, ip.err
}

// Sign returns the SHA1withRSA signature of the UTF-8 bytes of message.
func (ip *IdentityProvider) Sign(message string) ([]byte, error) {
	identity, identityErr := ip.Identity()
	if identityErr != nil {
		return nil, identityErr
	}

	if !crypto.SHA1.Available() {
		return nil, fmt.Errorf("%w: SHA-1 is not available", ErrCrypto)
	}

	digest := sha1.Sum([]byte(message))
	signature, signErr := rsa.SignPKCS1v15(ip.random, identity.PrivateKey, crypto.SHA1, digest[:])
	if signErr != nil {
		return nil, fmt.Errorf("%w: failed to sign message: %w", ErrCrypto, signErr)
	}

	return signature, nil
}

// Fingerprint returns the memoized fingerprint of the provider's identity.
func (ip *IdentityProvider) Fingerprint() (string, error) {
	identity, identityErr := ip.Identity()
	if identityErr != nil {
		return "", identityErr
	}
	return identity.Fingerprint(), nil
}

// PublicKeyNumbers returns the decimal modulus and exponent of the provider's public key.
func (ip *IdentityProvider) PublicKeyNumbers() (string, string, error) {
	identity, identityErr := ip.Identity()
	if identityErr != nil {
		return "", "", identityErr
	}
	return identity.Modulus(), identity.Exponent(), nil
}

// Verify checks a signature produced by Sign.
func Verify(pub *rsa.PublicKey, message string, signature []byte) error {
	digest := sha1.Sum([]byte(message))
	return rsa.VerifyPKCS1v15(pub, crypto.SHA1, digest[:], signature)
}
