// Package txbuilder constructs and signs a single Bitcoin transaction
// spending a heterogeneous set of LEGACY/COMPAT/SEGWIT inputs: BIP-143 and
// legacy digest construction, deterministic low-S signing, virtual-size
// computation, and canonical BIP-144 wire serialization.
package txbuilder

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"

	"github.com/rawblock/keysweep/internal/keys"
	"github.com/rawblock/keysweep/internal/path"
	"github.com/rawblock/keysweep/internal/script"
	"github.com/rawblock/keysweep/pkg/models"
)

const (
	version      = 2
	sequence     = 0xFFFFFFFF
	locktime     = 0
	segwitMarker = 0x00
	segwitFlag   = 0x01
	sighashAll   = 0x01
	dustLimit    = 546
)

// ErrInvalidAddress is returned when the destination address cannot be
// decoded to any supported output script.
var ErrInvalidAddress = errors.New("txbuilder: destination address cannot be decoded")

// ErrDust is returned when the requested output amount is below the
// 546-sat non-standard threshold.
var ErrDust = errors.New("txbuilder: output amount below dust threshold")

// ErrEmptyUtxoSet is returned when Build is called with no inputs.
var ErrEmptyUtxoSet = errors.New("txbuilder: no UTXOs supplied")

// Build crafts and signs a transaction spending every UTXO in utxos (in
// the order supplied), sending amountSat to address. The caller is
// responsible for having already subtracted fees from amountSat.
func Build(masterKey *keys.MasterKey, utxos []models.Utxo, address string, amountSat int64) (*models.SignedTransaction, []byte, error) {
	if len(utxos) == 0 {
		return nil, nil, ErrEmptyUtxoSet
	}

	outputScript := script.OutputScriptFromAddress(address)
	if outputScript == nil {
		return nil, nil, ErrInvalidAddress
	}
	if amountSat < dustLimit {
		return nil, nil, ErrDust
	}

	outputs := []models.TxOut{{AmountSat: amountSat, OutputScript: outputScript}}

	inputs := make([]models.TxIn, len(utxos))
	for k, utxo := range utxos {
		in, err := signInput(masterKey, utxos, k, outputs)
		if err != nil {
			return nil, nil, fmt.Errorf("txbuilder: signing input %d (%s): %w", k, utxo.Path, err)
		}
		inputs[k] = in
	}

	tx := &models.SignedTransaction{Version: version, Inputs: inputs, Outputs: outputs, Locktime: locktime}
	raw, err := Serialize(tx, true)
	if err != nil {
		return nil, nil, err
	}
	return tx, raw, nil
}

func signInput(masterKey *keys.MasterKey, utxos []models.Utxo, signingIndex int, outputs []models.TxOut) (models.TxIn, error) {
	utxo := utxos[signingIndex]

	p, err := path.Parse(utxo.Path)
	if err != nil {
		return models.TxIn{}, err
	}
	indexes, err := p.Realize()
	if err != nil {
		return models.TxIn{}, err
	}
	derived, err := masterKey.Derive(indexes)
	if err != nil {
		return models.TxIn{}, err
	}
	pubkey, err := keys.PubKey(derived)
	if err != nil {
		return models.TxIn{}, err
	}
	privkey, err := keys.PrivKey(derived)
	if err != nil {
		return models.TxIn{}, err
	}

	// The signing script doubles as the legacy scriptSig placeholder and,
	// for segwit/compat inputs, the BIP-143 scriptCode.
	signingScript, err := script.OutputScript(models.Legacy, pubkey)
	if err != nil {
		return models.TxIn{}, err
	}

	var preimage []byte
	if utxo.ScriptType == models.Legacy {
		preimage, err = legacyPreimage(utxos, outputs, signingIndex, signingScript)
	} else {
		preimage, err = bip143Preimage(utxos, outputs, signingIndex, signingScript)
	}
	if err != nil {
		return models.TxIn{}, err
	}

	preimage = append(preimage, le32(sighashAll)...)
	hash := chainhash.DoubleHashB(preimage)

	sig := ecdsa.Sign(privkey, hash)
	extendedSig := append(sig.Serialize(), sighashAll)

	inScript, err := script.InputScript(utxo.ScriptType, pubkey, extendedSig)
	if err != nil {
		return models.TxIn{}, err
	}
	witness, err := script.Witness(utxo.ScriptType, pubkey, extendedSig)
	if err != nil {
		return models.TxIn{}, err
	}

	return models.TxIn{Utxo: utxo, ScriptSig: inScript, Witness: witness}, nil
}

// legacyPreimage serializes the transaction with every scriptSig empty
// except signingIndex, which carries signingScript, and no witness
// section.
func legacyPreimage(utxos []models.Utxo, outputs []models.TxOut, signingIndex int, signingScript []byte) ([]byte, error) {
	inputs := make([]models.TxIn, len(utxos))
	for i, u := range utxos {
		s := []byte{}
		if i == signingIndex {
			s = signingScript
		}
		inputs[i] = models.TxIn{Utxo: u, ScriptSig: s}
	}
	tx := &models.SignedTransaction{Version: version, Inputs: inputs, Outputs: outputs, Locktime: locktime}
	return Serialize(tx, false)
}

// bip143Preimage builds the BIP-143 segwit signature-hash preimage for
// input signingIndex.
func bip143Preimage(utxos []models.Utxo, outputs []models.TxOut, signingIndex int, scriptCode []byte) ([]byte, error) {
	var buf bytes.Buffer
	buf.Write(le32(version))

	var prevouts, sequences bytes.Buffer
	for _, u := range utxos {
		reversed, err := reversedTxid(u.Txid)
		if err != nil {
			return nil, err
		}
		prevouts.Write(reversed)
		prevouts.Write(le32(u.OutputIndex))
		sequences.Write(le32(sequence))
	}
	buf.Write(chainhash.DoubleHashB(prevouts.Bytes()))
	buf.Write(chainhash.DoubleHashB(sequences.Bytes()))

	signing := utxos[signingIndex]
	reversed, err := reversedTxid(signing.Txid)
	if err != nil {
		return nil, err
	}
	buf.Write(reversed)
	buf.Write(le32(signing.OutputIndex))
	if err := writeVarBytes(&buf, scriptCode); err != nil {
		return nil, err
	}
	buf.Write(le64(uint64(signing.AmountSat)))
	buf.Write(le32(sequence))

	var outs bytes.Buffer
	for _, o := range outputs {
		outs.Write(le64(uint64(o.AmountSat)))
		if err := writeVarBytes(&outs, o.OutputScript); err != nil {
			return nil, err
		}
	}
	buf.Write(chainhash.DoubleHashB(outs.Bytes()))
	buf.Write(le32(locktime))

	return buf.Bytes(), nil
}

// Serialize renders tx in BIP-144 wire format when any input carries a
// non-empty witness and includeWitness is true; otherwise the legacy
// format. Txid is written little-endian (byte-reversed relative to its
// display form).
func Serialize(tx *models.SignedTransaction, includeWitness bool) ([]byte, error) {
	segwit := includeWitness && hasWitness(tx.Inputs)

	var buf bytes.Buffer
	buf.Write(le32(uint32(tx.Version)))

	if segwit {
		buf.WriteByte(segwitMarker)
		buf.WriteByte(segwitFlag)
	}

	if err := wire.WriteVarInt(&buf, 0, uint64(len(tx.Inputs))); err != nil {
		return nil, err
	}
	for _, in := range tx.Inputs {
		reversed, err := reversedTxid(in.Utxo.Txid)
		if err != nil {
			return nil, err
		}
		buf.Write(reversed)
		buf.Write(le32(in.Utxo.OutputIndex))
		if err := writeVarBytes(&buf, in.ScriptSig); err != nil {
			return nil, err
		}
		buf.Write(le32(sequence))
	}

	if err := wire.WriteVarInt(&buf, 0, uint64(len(tx.Outputs))); err != nil {
		return nil, err
	}
	for _, out := range tx.Outputs {
		buf.Write(le64(uint64(out.AmountSat)))
		if err := writeVarBytes(&buf, out.OutputScript); err != nil {
			return nil, err
		}
	}

	if segwit {
		for _, in := range tx.Inputs {
			if err := wire.WriteVarInt(&buf, 0, uint64(len(in.Witness))); err != nil {
				return nil, err
			}
			for _, item := range in.Witness {
				if err := writeVarBytes(&buf, item); err != nil {
					return nil, err
				}
			}
		}
	}

	buf.Write(le32(tx.Locktime))
	return buf.Bytes(), nil
}

// VirtualSize computes (3*non_witness_size + witness_size) // 4.
func VirtualSize(tx *models.SignedTransaction) (int, error) {
	witnessSerialized, err := Serialize(tx, true)
	if err != nil {
		return 0, err
	}
	nonWitnessSerialized, err := Serialize(tx, false)
	if err != nil {
		return 0, err
	}
	return (3*len(nonWitnessSerialized) + len(witnessSerialized)) / 4, nil
}

func hasWitness(inputs []models.TxIn) bool {
	for _, in := range inputs {
		if len(in.Witness) > 0 {
			return true
		}
	}
	return false
}

func reversedTxid(txidHex string) ([]byte, error) {
	b, err := hex.DecodeString(txidHex)
	if err != nil {
		return nil, fmt.Errorf("txbuilder: invalid txid %q: %w", txidHex, err)
	}
	out := make([]byte, len(b))
	for i, v := range b {
		out[len(b)-1-i] = v
	}
	return out, nil
}

func writeVarBytes(buf *bytes.Buffer, data []byte) error {
	if err := wire.WriteVarInt(buf, 0, uint64(len(data))); err != nil {
		return err
	}
	buf.Write(data)
	return nil
}

func le32(v uint32) []byte {
	b := make([]byte, 4)
	binary.LittleEndian.PutUint32(b, v)
	return b
}

func le64(v uint64) []byte {
	b := make([]byte, 8)
	binary.LittleEndian.PutUint64(b, v)
	return b
}
