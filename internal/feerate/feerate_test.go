package feerate

import (
	"errors"
	"testing"
)

func TestClassify(t *testing.T) {
	cases := []struct {
		rate float64
		want Tier
	}{
		{0.5, TierMinimal},
		{1.0, TierMinimal},
		{2.0, TierEconomic},
		{3.0, TierEconomic},
		{10.0, TierNormal},
		{15.0, TierNormal},
		{40.0, TierPriority},
		{50.0, TierPriority},
		{51.0, TierUrgent},
		{500.0, TierUrgent},
	}
	for _, c := range cases {
		if got := Classify(c.rate); got != c.want {
			t.Errorf("Classify(%v) = %v, want %v", c.rate, got, c.want)
		}
	}
}

func TestSanityRejectsNonPositive(t *testing.T) {
	for _, rate := range []float64{0, -1, -0.01} {
		if err := Sanity(rate); !errors.Is(err, ErrNonPositiveFeeRate) {
			t.Errorf("Sanity(%v) = %v, want ErrNonPositiveFeeRate", rate, err)
		}
	}
}

func TestSanityRejectsImplausiblyHigh(t *testing.T) {
	if err := Sanity(2001.0); !errors.Is(err, ErrImplausibleFeeRate) {
		t.Errorf("Sanity(2001) = %v, want ErrImplausibleFeeRate", err)
	}
}

func TestSanityAcceptsOrdinaryRates(t *testing.T) {
	for _, rate := range []float64{1, 15, 100, 2000} {
		if err := Sanity(rate); err != nil {
			t.Errorf("Sanity(%v) = %v, want nil", rate, err)
		}
	}
}
