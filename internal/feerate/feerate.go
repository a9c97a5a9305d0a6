// Package feerate provides pre-broadcast sanity checking for a sat/vByte
// fee rate, whether supplied manually via --fee-rate or derived from an
// oracle's estimate.
package feerate

import (
	"errors"
	"fmt"
)

// Tier classifies a fee rate into the same priority bands a wallet's fee
// estimator would use to pick a confirmation target.
type Tier string

const (
	TierMinimal  Tier = "minimal"  // <= 1 sat/vB, minimum relay
	TierEconomic Tier = "economic" // <= 3 sat/vB, may wait hours
	TierNormal   Tier = "normal"   // <= 15 sat/vB, 1-3 blocks
	TierPriority Tier = "priority" // <= 50 sat/vB, next block likely
	TierUrgent   Tier = "urgent"   // > 50 sat/vB
)

// Classify maps a sat/vByte rate to its priority tier.
func Classify(satPerVByte float64) Tier {
	switch {
	case satPerVByte <= 1.0:
		return TierMinimal
	case satPerVByte <= 3.0:
		return TierEconomic
	case satPerVByte <= 15.0:
		return TierNormal
	case satPerVByte <= 50.0:
		return TierPriority
	default:
		return TierUrgent
	}
}

// maxPlausibleSatPerVByte guards against unit-confusion bugs upstream (a
// sat/kvB value passed where sat/vB was expected inflates this by ~1000x,
// which this threshold catches well before it reaches the signer).
const maxPlausibleSatPerVByte = 2000.0

// ErrNonPositiveFeeRate is returned for a zero or negative fee rate.
var ErrNonPositiveFeeRate = errors.New("feerate: fee rate must be positive")

// ErrImplausibleFeeRate is returned when a fee rate is high enough to
// suggest a unit-confusion bug rather than genuine urgency. Sanity has no
// override: a manually supplied rate above the threshold is rejected too.
var ErrImplausibleFeeRate = errors.New("feerate: fee rate is implausibly high")

// Sanity validates a fee rate before it is used to size a sweep
// transaction's output amount. It never adjusts the rate, only rejects it.
func Sanity(satPerVByte float64) error {
	if satPerVByte <= 0 {
		return fmt.Errorf("%w: %v", ErrNonPositiveFeeRate, satPerVByte)
	}
	if satPerVByte > maxPlausibleSatPerVByte {
		return fmt.Errorf("%w: %.2f sat/vB exceeds %.0f sat/vB", ErrImplausibleFeeRate, satPerVByte, maxPlausibleSatPerVByte)
	}
	return nil
}
