// Package registry holds the fixed, insertion-ordered catalog of
// derivation-path templates and the script types each admits. The catalog
// is process-wide and immutable after initialization; its order is
// user-visible because it determines the round-robin order of the global
// script iterator.
package registry

import (
	"github.com/rawblock/keysweep/internal/path"
	"github.com/rawblock/keysweep/pkg/models"
)

// Entry pairs one derivation-path template with the non-empty set of
// script types it admits.
type Entry struct {
	Name        string
	Template    path.Path
	ScriptTypes []models.ScriptType
}

// Default returns the fixed catalog: BIP-44/49/84 external and change
// chains, Bitcoin Core's hardened-index chain, BRD/Hodl/Coin/Multibit,
// and the Samourai ricochet/post-mix/pre-mix/bad-bank chains under their
// fixed account numbers.
//
// Order matters: it is the round-robin order of the global iterator.
func Default() []Entry {
	legacy := []models.ScriptType{models.Legacy}
	compat := []models.ScriptType{models.Compat}
	segwit := []models.ScriptType{models.Segwit}

	return []Entry{
		{Name: "bip44-external", Template: path.MustParse("m/44'/0'/a/0/i"), ScriptTypes: legacy},
		{Name: "bip44-change", Template: path.MustParse("m/44'/0'/a/1/i"), ScriptTypes: legacy},
		{Name: "bip49-external", Template: path.MustParse("m/49'/0'/a/0/i"), ScriptTypes: compat},
		{Name: "bip49-change", Template: path.MustParse("m/49'/0'/a/1/i"), ScriptTypes: compat},
		{Name: "bip84-external", Template: path.MustParse("m/84'/0'/a/0/i"), ScriptTypes: segwit},
		{Name: "bip84-change", Template: path.MustParse("m/84'/0'/a/1/i"), ScriptTypes: segwit},

		// Bitcoin Core's legacy watch-only derivation: fully hardened,
		// including the address index.
		{Name: "bitcoin-core", Template: path.MustParse("m/0'/0'/i'"), ScriptTypes: []models.ScriptType{models.Legacy, models.Compat, models.Segwit}},

		// BRD / Hodl / Coin wallets.
		{Name: "brd-external", Template: path.MustParse("m/0'/0/i"), ScriptTypes: legacy},
		{Name: "brd-change", Template: path.MustParse("m/0'/1/i"), ScriptTypes: legacy},

		// Multibit HD.
		{Name: "multibit-external", Template: path.MustParse("m/0'/0/i"), ScriptTypes: compat},

		// Samourai Wallet special-purpose accounts, fixed numbers
		// 2147483644-2147483647. Each carries the usual external/change
		// branch pair. Ricochet hops exist under all three purpose
		// trees; the Whirlpool accounts are segwit only.
		{Name: "samourai-ricochet-44-external", Template: path.MustParse("m/44'/0'/2147483647'/0/i"), ScriptTypes: legacy},
		{Name: "samourai-ricochet-44-change", Template: path.MustParse("m/44'/0'/2147483647'/1/i"), ScriptTypes: legacy},
		{Name: "samourai-ricochet-49-external", Template: path.MustParse("m/49'/0'/2147483647'/0/i"), ScriptTypes: compat},
		{Name: "samourai-ricochet-49-change", Template: path.MustParse("m/49'/0'/2147483647'/1/i"), ScriptTypes: compat},
		{Name: "samourai-ricochet-84-external", Template: path.MustParse("m/84'/0'/2147483647'/0/i"), ScriptTypes: segwit},
		{Name: "samourai-ricochet-84-change", Template: path.MustParse("m/84'/0'/2147483647'/1/i"), ScriptTypes: segwit},
		{Name: "samourai-postmix-external", Template: path.MustParse("m/84'/0'/2147483646'/0/i"), ScriptTypes: segwit},
		{Name: "samourai-postmix-change", Template: path.MustParse("m/84'/0'/2147483646'/1/i"), ScriptTypes: segwit},
		{Name: "samourai-premix-external", Template: path.MustParse("m/84'/0'/2147483645'/0/i"), ScriptTypes: segwit},
		{Name: "samourai-premix-change", Template: path.MustParse("m/84'/0'/2147483645'/1/i"), ScriptTypes: segwit},
		{Name: "samourai-badbank-external", Template: path.MustParse("m/84'/0'/2147483644'/0/i"), ScriptTypes: segwit},
		{Name: "samourai-badbank-change", Template: path.MustParse("m/84'/0'/2147483644'/1/i"), ScriptTypes: segwit},
	}
}
