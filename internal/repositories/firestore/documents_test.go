package firestore

import (
	"testing"

	"github.com/shopspring/decimal"
)

func TestMoneyMinorUnitsAreExact(t *testing.T) {
	cases := []struct {
		in    string
		minor int64
	}{
		{"0", 0},
		{"0.1", 10},
		{"0.29", 29},
		{"1234.56", 123456},
		{"99999.99", 9999999},
		{"12.345", 1235},
	}
	for _, tc := range cases {
		minor := moneyToMinor(decimal.RequireFromString(tc.in))
		if minor != tc.minor {
			t.Fatalf("%s: expected %d minor units, got %d", tc.in, tc.minor, minor)
		}
		back := moneyFromMinor(minor)
		if !back.Equal(decimal.RequireFromString(tc.in).Round(2)) {
			t.Fatalf("%s: round trip produced %s", tc.in, back)
		}
	}
}

func TestOptionalMoneyKeepsNil(t *testing.T) {
	if optionalMoneyToMinor(nil) != nil || optionalMoneyFromMinor(nil) != nil {
		t.Fatal("expected nil to stay nil")
	}
	price := decimal.RequireFromString("450.50")
	minor := optionalMoneyToMinor(&price)
	if minor == nil || *minor != 45050 {
		t.Fatalf("unexpected minor units %v", minor)
	}
	if back := optionalMoneyFromMinor(minor); back == nil || !back.Equal(price) {
		t.Fatalf("unexpected round trip %v", back)
	}
}
