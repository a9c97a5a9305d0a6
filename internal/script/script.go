// Package script implements the output/input script and witness
// construction contract of the three supported single-key script types,
// plus decoding a destination address to its output script.
package script

import (
	"fmt"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/txscript"

	"github.com/rawblock/keysweep/pkg/models"
)

// Hash160 computes ripemd160(sha256(x)), the hash used throughout script
// construction.
func Hash160(b []byte) []byte {
	return btcutil.Hash160(b)
}

// OutputScript builds the locking script for pubkey under the given
// script type.
func OutputScript(t models.ScriptType, pubkey []byte) ([]byte, error) {
	switch t {
	case models.Legacy:
		return p2pkhOutputScript(Hash160(pubkey))
	case models.Compat:
		inner, err := segwitOutputScript(Hash160(pubkey))
		if err != nil {
			return nil, err
		}
		return p2shOutputScript(Hash160(inner))
	case models.Segwit:
		return segwitOutputScript(Hash160(pubkey))
	default:
		return nil, fmt.Errorf("script: unrecognized script type %v", t)
	}
}

// InputScript builds the scriptSig for pubkey/signature under the given
// script type. SEGWIT inputs carry an empty scriptSig; the signature data
// lives entirely in the witness.
func InputScript(t models.ScriptType, pubkey, signature []byte) ([]byte, error) {
	switch t {
	case models.Legacy:
		return p2pkhInputScript(pubkey, signature)
	case models.Compat:
		redeemScript, err := segwitOutputScript(Hash160(pubkey))
		if err != nil {
			return nil, err
		}
		return txscript.NewScriptBuilder().AddData(redeemScript).Script()
	case models.Segwit:
		return []byte{}, nil
	default:
		return nil, fmt.Errorf("script: unrecognized script type %v", t)
	}
}

// Witness builds the witness stack for pubkey/signature under the given
// script type.
func Witness(t models.ScriptType, pubkey, signature []byte) ([][]byte, error) {
	switch t {
	case models.Legacy:
		return nil, nil
	case models.Compat, models.Segwit:
		return [][]byte{signature, pubkey}, nil
	default:
		return nil, fmt.Errorf("script: unrecognized script type %v", t)
	}
}

// OutputScriptFromAddress decodes a mainnet base58check or bech32 (witness
// version 0) destination address into its output script. Any decode
// failure, or any address kind outside the three supported here, yields a
// nil script.
func OutputScriptFromAddress(address string) []byte {
	addr, err := btcutil.DecodeAddress(address, &chaincfg.MainNetParams)
	if err != nil {
		return nil
	}

	switch addr.(type) {
	case *btcutil.AddressPubKeyHash, *btcutil.AddressScriptHash, *btcutil.AddressWitnessPubKeyHash:
		out, err := txscript.PayToAddrScript(addr)
		if err != nil {
			return nil
		}
		return out
	default:
		return nil
	}
}

func p2pkhOutputScript(pubkeyHash []byte) ([]byte, error) {
	return txscript.NewScriptBuilder().
		AddOp(txscript.OP_DUP).
		AddOp(txscript.OP_HASH160).
		AddData(pubkeyHash).
		AddOp(txscript.OP_EQUALVERIFY).
		AddOp(txscript.OP_CHECKSIG).
		Script()
}

func p2shOutputScript(scriptHash []byte) ([]byte, error) {
	return txscript.NewScriptBuilder().
		AddOp(txscript.OP_HASH160).
		AddData(scriptHash).
		AddOp(txscript.OP_EQUAL).
		Script()
}

func segwitOutputScript(hash []byte) ([]byte, error) {
	return txscript.NewScriptBuilder().
		AddOp(txscript.OP_0).
		AddData(hash).
		Script()
}

func p2pkhInputScript(pubkey, signature []byte) ([]byte, error) {
	return txscript.NewScriptBuilder().
		AddData(signature).
		AddData(pubkey).
		Script()
}
