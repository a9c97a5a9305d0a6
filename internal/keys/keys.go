// Package keys parses a master key (mnemonic, xprv, or xpub) and derives
// child keys along a realized derivation path. All BIP-32 and BIP-39
// grammar is delegated to hdkeychain and go-bip39 behind this boundary.
package keys

import (
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/tyler-smith/go-bip39"
)

// ErrInvalidKey is returned when the input is neither a mnemonic, xprv,
// nor xpub.
var ErrInvalidKey = errors.New("keys: input is neither a mnemonic, xprv, nor xpub")

// ErrNoPrivateKey is returned when signing is attempted against a
// public-only master key.
var ErrNoPrivateKey = errors.New("keys: master key holds no private component")

// MasterKey wraps a parsed extended key, private or public-only.
type MasterKey struct {
	ext *hdkeychain.ExtendedKey
}

// Parse tries, in order, to read input as an extended private key, an
// extended public key, and finally a BIP-39 mnemonic with an empty seed
// passphrase.
func Parse(input string) (*MasterKey, error) {
	if ext, err := hdkeychain.NewKeyFromString(input); err == nil {
		return &MasterKey{ext: ext}, nil
	}

	if bip39.IsMnemonicValid(input) {
		seed := bip39.NewSeed(input, "")
		ext, err := hdkeychain.NewMaster(seed, &chaincfg.MainNetParams)
		if err != nil {
			return nil, fmt.Errorf("keys: deriving master key from mnemonic seed: %w", err)
		}
		return &MasterKey{ext: ext}, nil
	}

	return nil, ErrInvalidKey
}

// HasPrivateKey reports whether this master key can sign, i.e. was parsed
// from an xprv or a mnemonic rather than an xpub.
func (m *MasterKey) HasPrivateKey() bool {
	return m.ext.IsPrivate()
}

// Derive walks the extended key through the given ordered list of BIP-32
// indexes (hardened bit already applied by the caller via path.Realize).
func (m *MasterKey) Derive(indexes []uint32) (*hdkeychain.ExtendedKey, error) {
	key := m.ext
	for _, idx := range indexes {
		next, err := key.Derive(idx)
		if err != nil {
			return nil, fmt.Errorf("keys: deriving index %d: %w", idx, err)
		}
		key = next
	}
	return key, nil
}

// PubKey returns the 33-byte compressed public key of a key already
// derived (via Derive) along a realized path.
func PubKey(derived *hdkeychain.ExtendedKey) ([]byte, error) {
	pub, err := derived.ECPubKey()
	if err != nil {
		return nil, fmt.Errorf("keys: extracting public key: %w", err)
	}
	return pub.SerializeCompressed(), nil
}

// PrivKey returns the raw private scalar of a key already derived (via
// Derive). It fails with ErrNoPrivateKey if the derived key is public-only.
func PrivKey(derived *hdkeychain.ExtendedKey) (*btcec.PrivateKey, error) {
	if !derived.IsPrivate() {
		return nil, ErrNoPrivateKey
	}
	priv, err := derived.ECPrivKey()
	if err != nil {
		return nil, fmt.Errorf("keys: extracting private key: %w", err)
	}
	return priv, nil
}
