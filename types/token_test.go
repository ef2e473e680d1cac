package types

import (
	"testing"

	"github.com/holiman/uint256"
)

func TestAddress(t *testing.T) {
	tests := []struct {
		name   string
		addr   Address
		isZero bool
		str    string
	}{
		{"Zero sentinel", ZeroAddress, true, ""},
		{"Empty literal", Address(""), true, ""},
		{"Account", Address("acct-alice"), false, "acct-alice"},
		{"Hex style", Address("0xabc123"), false, "0xabc123"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.addr.IsZero(); got != tt.isZero {
				t.Errorf("IsZero: got %v, want %v", got, tt.isZero)
			}
			if got := tt.addr.String(); got != tt.str {
				t.Errorf("String: got %q, want %q", got, tt.str)
			}
		})
	}
}

func TestClassIDString(t *testing.T) {
	tests := []struct {
		class    ClassID
		expected string
	}{
		{ClassID(0), "0"},
		{ClassID(7), "7"},
		{ClassID(1155), "1155"},
		{ClassID(18446744073709551615), "18446744073709551615"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			if got := tt.class.String(); got != tt.expected {
				t.Errorf("String: got %s, want %s", got, tt.expected)
			}
		})
	}
}

func TestParseUnits(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    *uint256.Int
		wantErr bool
	}{
		{"Zero", "0", Units(0), false},
		{"Small", "42", Units(42), false},
		{"Max uint64", "18446744073709551615", Units(18446744073709551615), false},
		{"Beyond uint64", "18446744073709551616", nil, false},
		{"Empty", "", nil, true},
		{"Signed", "-1", nil, true},
		{"Garbage", "12x4", nil, true},
		{"Too large", "115792089237316195423570985008687907853269984665640564039457584007913129639936", nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseUnits(tt.input)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("ParseUnits(%q): expected error, got %v", tt.input, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseUnits(%q): unexpected error: %v", tt.input, err)
			}
			if tt.want != nil && !got.Eq(tt.want) {
				t.Errorf("ParseUnits(%q): got %s, want %s", tt.input, got.Dec(), tt.want.Dec())
			}
			// Round trip through the canonical rendering.
			if back := FormatUnits(got); back != tt.input {
				t.Errorf("FormatUnits round trip: got %s, want %s", back, tt.input)
			}
		})
	}
}

func TestMustParseUnitsPanics(t *testing.T) {
	defer func() {
		if r := recover(); r == nil {
			t.Error("Expected panic for malformed input")
		}
	}()

	_ = MustParseUnits("not-a-number")
}

func TestFormatUnitsNil(t *testing.T) {
	if got := FormatUnits(nil); got != "0" {
		t.Errorf("FormatUnits(nil): got %s, want 0", got)
	}
}

func TestCopyUnits(t *testing.T) {
	t.Run("Nil becomes zero", func(t *testing.T) {
		got := CopyUnits(nil)
		if got == nil || !got.IsZero() {
			t.Errorf("CopyUnits(nil): got %v, want zero value", got)
		}
	})

	t.Run("Copy does not alias", func(t *testing.T) {
		orig := Units(100)
		cp := CopyUnits(orig)
		if !cp.Eq(orig) {
			t.Fatalf("Copy: got %s, want %s", cp.Dec(), orig.Dec())
		}
		cp.AddUint64(cp, 1)
		if orig.Eq(cp) {
			t.Error("Mutating the copy changed the original")
		}
	})
}

func TestEqualUnits(t *testing.T) {
	tests := []struct {
		name  string
		a, b  *uint256.Int
		equal bool
	}{
		{"Both nil", nil, nil, true},
		{"Nil vs zero", nil, ZeroUnits(), true},
		{"Zero vs nil", ZeroUnits(), nil, true},
		{"Equal values", Units(5), Units(5), true},
		{"Different values", Units(5), Units(6), false},
		{"Nil vs nonzero", nil, Units(1), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := EqualUnits(tt.a, tt.b); got != tt.equal {
				t.Errorf("EqualUnits: got %v, want %v", got, tt.equal)
			}
		})
	}
}

func TestEntityTimestamps(t *testing.T) {
	e := NewEntity()
	if e.CreatedAt.IsZero() || e.UpdatedAt.IsZero() {
		t.Fatal("NewEntity left timestamps unset")
	}
	if !e.CreatedAt.Equal(e.UpdatedAt) {
		t.Error("NewEntity: CreatedAt and UpdatedAt should start equal")
	}

	before := e.UpdatedAt
	e.Touch()
	if e.UpdatedAt.Before(before) {
		t.Error("Touch moved UpdatedAt backwards")
	}
	if !e.CreatedAt.Equal(before) && e.CreatedAt.After(e.UpdatedAt) {
		t.Error("Touch must not modify CreatedAt")
	}
}

func BenchmarkParseUnits(b *testing.B) {
	for i := 0; i < b.N; i++ {
		_, _ = ParseUnits("340282366920938463463374607431768211455")
	}
}

func BenchmarkFormatUnits(b *testing.B) {
	v := MustParseUnits("340282366920938463463374607431768211455")
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = FormatUnits(v)
	}
}
