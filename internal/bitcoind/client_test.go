package bitcoind

import "testing"

func TestBTCPerKVbToSatPerVB(t *testing.T) {
	got := BTCPerKVbToSatPerVB(0.00001)
	want := 1.0
	if got != want {
		t.Errorf("BTCPerKVbToSatPerVB(0.00001) = %v, want %v", got, want)
	}
}

func TestIsFinitePositive(t *testing.T) {
	cases := []struct {
		v    float64
		want bool
	}{
		{1.0, true},
		{0, false},
		{-1, false},
	}
	for _, c := range cases {
		if got := isFinitePositive(c.v); got != c.want {
			t.Errorf("isFinitePositive(%v) = %v, want %v", c.v, got, c.want)
		}
	}
}
