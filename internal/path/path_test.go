package path

import (
	"errors"
	"testing"
)

func TestParseAndString(t *testing.T) {
	cases := []struct {
		name string
		in   string
	}{
		{"bip84 external", "m/84'/0'/a/0/i"},
		{"core", "m/0'/0'/i'"},
		{"brd", "m/0'/0/i"},
		{"samourai ricochet", "m/44'/0'/2147483647'/0/i"},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			p, err := Parse(c.in)
			if err != nil {
				t.Fatalf("Parse(%q): %v", c.in, err)
			}
			if got := p.String(); got != c.in {
				t.Errorf("round trip: got %q want %q", got, c.in)
			}
		})
	}
}

func TestParseRejectsMissingRoot(t *testing.T) {
	if _, err := Parse("84'/0'/a/0/i"); !errors.Is(err, ErrInvalidPath) {
		t.Fatalf("expected ErrInvalidPath, got %v", err)
	}
}

func TestHasVariable(t *testing.T) {
	p := MustParse("m/84'/0'/a/0/i")
	if !p.HasVariableAccount() {
		t.Error("expected HasVariableAccount true")
	}
	if !p.HasVariableIndex() {
		t.Error("expected HasVariableIndex true")
	}

	fixed := MustParse("m/0'/0'/5'")
	if fixed.HasVariableAccount() || fixed.HasVariableIndex() {
		t.Error("fixed path should report no placeholders")
	}
}

func TestSubstituteAndRealize(t *testing.T) {
	p := MustParse("m/84'/0'/a/0/i")
	realized := p.WithAccount(0).WithIndex(0)

	nums, err := realized.Realize()
	if err != nil {
		t.Fatalf("Realize: %v", err)
	}
	want := []uint32{84 + hardenedBit, 0 + hardenedBit, 0 + hardenedBit, 0, 0}
	if len(nums) != len(want) {
		t.Fatalf("length mismatch: got %v want %v", nums, want)
	}
	for i := range want {
		if nums[i] != want[i] {
			t.Errorf("component %d: got %d want %d", i, nums[i], want[i])
		}
	}
}

func TestRealizeHardenedIndexTemplate(t *testing.T) {
	// Bitcoin Core's m/0'/0'/i' treats the index as hardened on realization.
	p := MustParse("m/0'/0'/i'")
	realized := p.WithIndex(7)
	nums, err := realized.Realize()
	if err != nil {
		t.Fatalf("Realize: %v", err)
	}
	if nums[2] != 7+hardenedBit {
		t.Errorf("expected hardened index, got %d", nums[2])
	}
}

func TestRealizeUnsubstitutedPlaceholderIsHardError(t *testing.T) {
	p := MustParse("m/84'/0'/a/0/i")
	if _, err := p.Realize(); !errors.Is(err, ErrUnrealizedPlaceholder) {
		t.Fatalf("expected ErrUnrealizedPlaceholder, got %v", err)
	}

	partial := p.WithAccount(3)
	if _, err := partial.Realize(); !errors.Is(err, ErrUnrealizedPlaceholder) {
		t.Fatalf("expected ErrUnrealizedPlaceholder for partially realized path, got %v", err)
	}
}

func TestWithAccountIsAlwaysHardened(t *testing.T) {
	p := MustParse("m/84'/0'/a/0/i").WithAccount(5).WithIndex(0)
	if got := p.String(); got != "m/84'/0'/5'/0/0" {
		t.Errorf("expected account substitution to be hardened, got %q", got)
	}
}

func TestWithIndexIsNeverHardenedUnlessTemplated(t *testing.T) {
	p := MustParse("m/84'/0'/0'/0/i").WithIndex(12)
	if got := p.String(); got != "m/84'/0'/0'/0/12" {
		t.Errorf("expected non-hardened index substitution, got %q", got)
	}
}
