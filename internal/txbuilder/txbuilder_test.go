package txbuilder

import (
	"bytes"
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"

	"github.com/rawblock/keysweep/internal/keys"
	"github.com/rawblock/keysweep/internal/path"
	"github.com/rawblock/keysweep/internal/script"
	"github.com/rawblock/keysweep/pkg/models"
)

const testMnemonic = "abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon about"

// deterministic fake prevout txids, one repeated digit ending in a marker
// nibble; valid hex either way since these tests never touch the network.
const fakeTxid1 = "1111111111111111111111111111111111111111111111111111111111111a"
const fakeTxid2 = "2222222222222222222222222222222222222222222222222222222222222b"
const fakeTxid3 = "3333333333333333333333333333333333333333333333333333333333333c"

func mustMasterKey(t *testing.T) *keys.MasterKey {
	t.Helper()
	mk, err := keys.Parse(testMnemonic)
	if err != nil {
		t.Fatalf("keys.Parse: %v", err)
	}
	return mk
}

// a native segwit bech32 address on mainnet, used as a sweep destination.
const destSegwitAddress = "bc1qw508d6qejxtdg4y5r3zarvary0c5xw7kv8f3t4"

func TestSweepFeeMath(t *testing.T) {
	mk := mustMasterKey(t)
	utxos := []models.Utxo{
		{Txid: fakeTxid1, OutputIndex: 0, AmountSat: 100000, Path: "m/84'/0'/0'/0/0", ScriptType: models.Segwit},
		{Txid: fakeTxid2, OutputIndex: 1, AmountSat: 100000, Path: "m/84'/0'/0'/0/1", ScriptType: models.Segwit},
	}
	const total = 200000
	const feeRate = 10

	dummyTx, _, err := Build(mk, utxos, destSegwitAddress, total)
	if err != nil {
		t.Fatalf("Build (dummy amount): %v", err)
	}
	vsizeEstimate, err := VirtualSize(dummyTx)
	if err != nil {
		t.Fatalf("VirtualSize: %v", err)
	}

	fee := vsizeEstimate * feeRate
	finalAmount := total - fee

	finalTx, _, err := Build(mk, utxos, destSegwitAddress, int64(finalAmount))
	if err != nil {
		t.Fatalf("Build (final): %v", err)
	}
	if finalTx.Outputs[0].AmountSat != int64(finalAmount) {
		t.Errorf("expected output amount %d, got %d", finalAmount, finalTx.Outputs[0].AmountSat)
	}

	finalVsize, err := VirtualSize(finalTx)
	if err != nil {
		t.Fatalf("VirtualSize (final): %v", err)
	}
	diff := finalVsize - vsizeEstimate
	if diff < -1 || diff > 1 {
		t.Errorf("expected vsize to differ from the dummy estimate by at most one byte, got %d", diff)
	}
}

func TestMixedInputTypes(t *testing.T) {
	mk := mustMasterKey(t)
	utxos := []models.Utxo{
		{Txid: fakeTxid1, OutputIndex: 0, AmountSat: 50000, Path: "m/44'/0'/0'/0/0", ScriptType: models.Legacy},
		{Txid: fakeTxid2, OutputIndex: 0, AmountSat: 50000, Path: "m/49'/0'/0'/0/0", ScriptType: models.Compat},
		{Txid: fakeTxid3, OutputIndex: 0, AmountSat: 50000, Path: "m/84'/0'/0'/0/0", ScriptType: models.Segwit},
	}

	tx, raw, err := Build(mk, utxos, destSegwitAddress, 140000)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	if len(raw) < 6 {
		t.Fatal("serialized tx too short")
	}
	prefix := []byte{0x02, 0x00, 0x00, 0x00, 0x00, 0x01}
	if !bytes.Equal(raw[:6], prefix) {
		t.Errorf("expected version+segwit marker/flag prefix %x, got %x", prefix, raw[:6])
	}

	if len(tx.Inputs[0].Witness) != 0 {
		t.Errorf("legacy input should carry no witness, got %d items", len(tx.Inputs[0].Witness))
	}
	if len(tx.Inputs[1].Witness) != 2 {
		t.Errorf("compat input should carry a 2-item witness, got %d", len(tx.Inputs[1].Witness))
	}
	if len(tx.Inputs[2].Witness) != 2 {
		t.Errorf("segwit input should carry a 2-item witness, got %d", len(tx.Inputs[2].Witness))
	}
	if len(tx.Inputs[0].ScriptSig) == 0 {
		t.Error("legacy input should carry a non-empty scriptSig")
	}
	if len(tx.Inputs[2].ScriptSig) != 0 {
		t.Error("segwit input should carry an empty scriptSig")
	}
}

func TestVirtualSizeLawLegacyOnly(t *testing.T) {
	mk := mustMasterKey(t)
	utxos := []models.Utxo{
		{Txid: fakeTxid1, OutputIndex: 0, AmountSat: 50000, Path: "m/44'/0'/0'/0/0", ScriptType: models.Legacy},
	}
	tx, raw, err := Build(mk, utxos, destSegwitAddress, 40000)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	vsize, err := VirtualSize(tx)
	if err != nil {
		t.Fatalf("VirtualSize: %v", err)
	}
	// for an all-legacy tx the virtual size equals the serialized size
	// exactly (no witness bytes at all, so the legacy and BIP-144
	// serializations coincide).
	if vsize != len(raw) {
		t.Errorf("expected vsize == serialized size for legacy-only tx, got vsize=%d size=%d", vsize, len(raw))
	}
}

func TestRejectsDustAmount(t *testing.T) {
	mk := mustMasterKey(t)
	utxos := []models.Utxo{
		{Txid: fakeTxid1, OutputIndex: 0, AmountSat: 1000, Path: "m/84'/0'/0'/0/0", ScriptType: models.Segwit},
	}
	if _, _, err := Build(mk, utxos, destSegwitAddress, 500); err != ErrDust {
		t.Fatalf("expected ErrDust, got %v", err)
	}
}

func TestRejectsInvalidAddress(t *testing.T) {
	mk := mustMasterKey(t)
	utxos := []models.Utxo{
		{Txid: fakeTxid1, OutputIndex: 0, AmountSat: 100000, Path: "m/84'/0'/0'/0/0", ScriptType: models.Segwit},
	}
	if _, _, err := Build(mk, utxos, "not-an-address", 90000); err != ErrInvalidAddress {
		t.Fatalf("expected ErrInvalidAddress, got %v", err)
	}
}

func TestSigningIdentity(t *testing.T) {
	// re-serializing a signed transaction and recomputing the sighash for
	// every input must validate against that input's signature and pubkey.
	mk := mustMasterKey(t)
	utxos := []models.Utxo{
		{Txid: fakeTxid1, OutputIndex: 0, AmountSat: 50000, Path: "m/44'/0'/0'/0/0", ScriptType: models.Legacy},
		{Txid: fakeTxid2, OutputIndex: 0, AmountSat: 50000, Path: "m/84'/0'/0'/0/0", ScriptType: models.Segwit},
	}
	tx, _, err := Build(mk, utxos, destSegwitAddress, 90000)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	for i, in := range tx.Inputs {
		p, err := path.Parse(in.Utxo.Path)
		if err != nil {
			t.Fatalf("path.Parse: %v", err)
		}
		indexes, err := p.Realize()
		if err != nil {
			t.Fatalf("Realize: %v", err)
		}
		derived, err := mk.Derive(indexes)
		if err != nil {
			t.Fatalf("Derive: %v", err)
		}
		pubkeyBytes, err := keys.PubKey(derived)
		if err != nil {
			t.Fatalf("PubKey: %v", err)
		}
		pubkey, err := btcec.ParsePubKey(pubkeyBytes)
		if err != nil {
			t.Fatalf("ParsePubKey: %v", err)
		}

		scriptCode, err := script.OutputScript(models.Legacy, pubkeyBytes)
		if err != nil {
			t.Fatalf("scriptCode: %v", err)
		}

		var preimage []byte
		if in.Utxo.ScriptType == models.Legacy {
			preimage, err = legacyPreimage(utxos, tx.Outputs, i, scriptCode)
		} else {
			preimage, err = bip143Preimage(utxos, tx.Outputs, i, scriptCode)
		}
		if err != nil {
			t.Fatalf("preimage: %v", err)
		}
		preimage = append(preimage, le32(sighashAll)...)
		hash := chainhash.DoubleHashB(preimage)

		derSig := in.Witness
		var sigBytes []byte
		if len(derSig) == 2 {
			sigBytes = derSig[0]
		} else {
			// legacy: signature is the first push in the scriptSig.
			sigBytes = extractFirstPush(in.ScriptSig)
		}
		sigBytes = sigBytes[:len(sigBytes)-1] // strip sighash-type byte

		sig, err := ecdsa.ParseDERSignature(sigBytes)
		if err != nil {
			t.Fatalf("ParseDERSignature: %v", err)
		}
		if !sig.Verify(hash, pubkey) {
			t.Errorf("input %d: signature does not validate against recomputed sighash", i)
		}
	}
}

func extractFirstPush(scriptSig []byte) []byte {
	if len(scriptSig) == 0 {
		return nil
	}
	n := int(scriptSig[0])
	return scriptSig[1 : 1+n]
}

func TestVarintRoundTrip(t *testing.T) {
	// decode(encode(n)) == n across every varint width.
	cases := []uint64{0, 1, 0xfc, 0xfd, 0xffff, 0x10000, 0xffffffff, 0x100000000, 0xffffffffffffffff}
	for _, n := range cases {
		var buf bytes.Buffer
		if err := wire.WriteVarInt(&buf, 0, n); err != nil {
			t.Fatalf("WriteVarInt(%d): %v", n, err)
		}
		got, err := wire.ReadVarInt(&buf, 0)
		if err != nil {
			t.Fatalf("ReadVarInt(%d): %v", n, err)
		}
		if got != n {
			t.Errorf("round trip mismatch: encoded %d, decoded %d", n, got)
		}
	}
}
