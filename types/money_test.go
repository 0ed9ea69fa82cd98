package types

import (
	"encoding/json"
	"testing"
)

func TestMoneyConstructors(t *testing.T) {
	tests := []struct {
		name     string
		money    Money
		amount   int64
		currency string
	}{
		{"USD", USD(4900), 4900, "usd"},
		{"EUR", EUR(9900), 9900, "eur"},
		{"GBP", GBP(100), 100, "gbp"},
		{"USDC", USDC(1500000), 1500000, "usdc"},
		{"Zero", Zero("USDC"), 0, "usdc"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.money.Amount != tt.amount {
				t.Errorf("expected amount %d, got %d", tt.amount, tt.money.Amount)
			}
			if tt.money.Currency != tt.currency {
				t.Errorf("expected currency %q, got %q", tt.currency, tt.money.Currency)
			}
		})
	}
}

func TestMoneyArithmetic(t *testing.T) {
	t.Run("Add", func(t *testing.T) {
		got := USDC(100).Add(USDC(200))
		if got.Amount != 300 {
			t.Errorf("expected 300, got %d", got.Amount)
		}
	})

	t.Run("Subtract", func(t *testing.T) {
		got := USDC(300).Subtract(USDC(100))
		if got.Amount != 200 {
			t.Errorf("expected 200, got %d", got.Amount)
		}
	})

	t.Run("Multiply", func(t *testing.T) {
		// One chunk at 50 minor units per second for 10 seconds.
		got := USDC(50).Multiply(10)
		if got.Amount != 500 {
			t.Errorf("expected 500, got %d", got.Amount)
		}
	})

	t.Run("Divide", func(t *testing.T) {
		got := USDC(100).Divide(3)
		if got.Amount != 33 {
			t.Errorf("expected integer division result 33, got %d", got.Amount)
		}
	})

	t.Run("DivideByZeroPanics", func(t *testing.T) {
		defer func() {
			if recover() == nil {
				t.Error("expected panic on division by zero")
			}
		}()
		USDC(100).Divide(0)
	})

	t.Run("CurrencyMismatchPanics", func(t *testing.T) {
		defer func() {
			if recover() == nil {
				t.Error("expected panic on currency mismatch")
			}
		}()
		USD(100).Add(EUR(100))
	})
}

func TestMoneyComparison(t *testing.T) {
	tests := []struct {
		name string
		got  bool
		want bool
	}{
		{"IsZero true", Zero("usdc").IsZero(), true},
		{"IsZero false", USDC(1).IsZero(), false},
		{"IsPositive", USDC(1).IsPositive(), true},
		{"IsNegative", USDC(-1).IsNegative(), true},
		{"Equal same", USDC(100).Equal(USDC(100)), true},
		{"Equal different amount", USDC(100).Equal(USDC(200)), false},
		{"Equal different currency", USD(100).Equal(EUR(100)), false},
		{"LessThan", USDC(100).LessThan(USDC(200)), true},
		{"GreaterThan", USDC(200).GreaterThan(USDC(100)), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("expected %v, got %v", tt.want, tt.got)
			}
		})
	}
}

func TestMinorString(t *testing.T) {
	tests := []struct {
		name  string
		money Money
		want  string
	}{
		{"positive", USDC(1500), "1500"},
		{"zero", Zero("usdc"), "0"},
		{"negative", USDC(-500), "-500"},
		{"large", USDC(1000000), "1000000"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.money.MinorString(); got != tt.want {
				t.Errorf("expected %q, got %q", tt.want, got)
			}
		})
	}
}

func TestFormatMajor(t *testing.T) {
	tests := []struct {
		name  string
		money Money
		want  string
	}{
		{"USD two decimals", USD(4900), "49.00"},
		{"USD with minor part", USD(4905), "49.05"},
		{"USD negative", USD(-4900), "-49.00"},
		{"USDC six decimals", USDC(1500000), "1.500000"},
		{"USDC sub-unit", USDC(500), "0.000500"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.money.FormatMajor(); got != tt.want {
				t.Errorf("expected %q, got %q", tt.want, got)
			}
		})
	}
}

func TestMoneyString(t *testing.T) {
	tests := []struct {
		name  string
		money Money
		want  string
	}{
		{"USD", USD(4900), "$49.00"},
		{"EUR", EUR(19900), "€199.00"},
		{"USDC suffix", USDC(1500000), "1.500000 USDC"},
		{"unknown currency", Money{Amount: 100, Currency: "xyz"}, "XYZ 1.00"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.money.String(); got != tt.want {
				t.Errorf("expected %q, got %q", tt.want, got)
			}
		})
	}
}

func TestMoneyMarshalJSON(t *testing.T) {
	data, err := json.Marshal(USDC(1500))
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}

	var decoded struct {
		Amount   int64  `json:"amount"`
		Currency string `json:"currency"`
		Display  string `json:"display"`
	}
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}

	if decoded.Amount != 1500 {
		t.Errorf("expected amount 1500, got %d", decoded.Amount)
	}
	if decoded.Currency != "usdc" {
		t.Errorf("expected currency usdc, got %q", decoded.Currency)
	}
	if decoded.Display == "" {
		t.Error("expected non-empty display string")
	}
}

func TestSum(t *testing.T) {
	got := Sum(USDC(100), USDC(200), USDC(300))
	if got.Amount != 600 {
		t.Errorf("expected 600, got %d", got.Amount)
	}

	empty := Sum()
	if !empty.IsZero() {
		t.Error("expected zero for empty sum")
	}
}
