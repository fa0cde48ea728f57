package bytecode

import (
	"math"
	"testing"
)

func TestValueEqualityByType(t *testing.T) {
	if !Nil.Equal(Value{Type: ValNil}) {
		t.Error("expected Nil == Nil")
	}
	if !Bool(true).Equal(Bool(true)) {
		t.Error("expected equal booleans to compare equal")
	}
	if Bool(true).Equal(Bool(false)) {
		t.Error("expected differing booleans to compare unequal")
	}
	if Number(1).Equal(Bool(true)) {
		t.Error("expected values of different types to never compare equal")
	}
}

// TestNumberEqualityTreatsPositiveAndNegativeZeroAsEqual checks a
// required edge case: "+0 = -0" must hold for Value equality.
func TestNumberEqualityTreatsPositiveAndNegativeZeroAsEqual(t *testing.T) {
	if !Number(0).Equal(Number(math.Copysign(0, -1))) {
		t.Error("expected +0 and -0 to compare equal")
	}
}

func TestNumberEqualityNaNNeverEqualsItself(t *testing.T) {
	nan := Number(math.NaN())
	if nan.Equal(nan) {
		t.Error("expected NaN != NaN, matching IEEE semantics")
	}
}

func TestFormatNumberDropsTrailingZeroForIntegralValues(t *testing.T) {
	if got := Number(42).String(); got != "42" {
		t.Errorf("got %q, want %q", got, "42")
	}
	if got := Number(-7).String(); got != "-7" {
		t.Errorf("got %q, want %q", got, "-7")
	}
}

func TestFormatNumberKeepsFractionForNonIntegralValues(t *testing.T) {
	if got := Number(3.5).String(); got != "3.5" {
		t.Errorf("got %q, want %q", got, "3.5")
	}
}

func TestFalsyOnlyNilAndFalse(t *testing.T) {
	cases := []struct {
		v     Value
		falsy bool
	}{
		{Nil, true},
		{Bool(false), true},
		{Bool(true), false},
		{Number(0), false},
	}
	for _, c := range cases {
		if got := c.v.Falsy(); got != c.falsy {
			t.Errorf("%v: got Falsy()=%v, want %v", c.v, got, c.falsy)
		}
	}
}

func TestTypeNameByValueKind(t *testing.T) {
	a := NewAllocator()
	cases := []struct {
		v    Value
		name string
	}{
		{Nil, "nil"},
		{Bool(true), "boolean"},
		{Number(1), "number"},
		{ObjVal(a.InternString("x")), "string"},
	}
	for _, c := range cases {
		if got := c.v.TypeName(); got != c.name {
			t.Errorf("%v: got %q, want %q", c.v, got, c.name)
		}
	}
}

func TestIsStringOnlyTrueForStringObjects(t *testing.T) {
	a := NewAllocator()
	if !ObjVal(a.InternString("x")).IsString() {
		t.Error("expected an interned string value to report IsString")
	}
	if Number(1).IsString() {
		t.Error("expected a number to not report IsString")
	}
}
