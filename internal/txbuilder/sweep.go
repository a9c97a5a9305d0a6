package txbuilder

import (
	"fmt"

	"github.com/rawblock/keysweep/internal/keys"
	"github.com/rawblock/keysweep/pkg/models"
)

// SweepAll builds the transaction spending every UTXO in utxos to address,
// sizing the fee from feeRateSatVB. Since the fee depends on the signed
// transaction's virtual size and the output amount depends on the fee, a
// first pass is signed carrying the full input total; its vsize prices the
// fee for the final build. DER length jitter can move the final vsize by a
// byte relative to the estimate, which slightly overpays or underpays the
// target rate but never changes the output amount after it is fixed.
func SweepAll(masterKey *keys.MasterKey, utxos []models.Utxo, address string, feeRateSatVB int64) (*models.SignedTransaction, []byte, error) {
	total := int64(0)
	for _, u := range utxos {
		total += u.AmountSat
	}

	dummyTx, _, err := Build(masterKey, utxos, address, total)
	if err != nil {
		return nil, nil, err
	}
	vsize, err := VirtualSize(dummyTx)
	if err != nil {
		return nil, nil, err
	}

	fee := int64(vsize) * feeRateSatVB
	if total-fee < dustLimit {
		return nil, nil, fmt.Errorf("%w: %d sat input total minus %d sat fee", ErrDust, total, fee)
	}

	return Build(masterKey, utxos, address, total-fee)
}
