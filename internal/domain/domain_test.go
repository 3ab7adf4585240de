package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"
)

// ─── Money Tests ────────────────────────────────────────────────────────────

func TestParseMoney_RoundsAtBoundary(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"1200", "1200.00"},
		{"1200.5", "1200.50"},
		{"1195.005", "1195.01"},
		{"-12.345", "-12.35"},
		{"0.004", "0.00"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseMoney(tt.input)
			if err != nil {
				t.Fatalf("ParseMoney(%q) error: %v", tt.input, err)
			}
			if got.String() != tt.want {
				t.Errorf("ParseMoney(%q) = %s, want %s", tt.input, got, tt.want)
			}
		})
	}
}

func TestParseMoney_Invalid(t *testing.T) {
	if _, err := ParseMoney("12,00 EUR"); err == nil {
		t.Error("expected error for malformed amount")
	}
}

func TestMoney_JSONAcceptsStringAndNumber(t *testing.T) {
	var v struct {
		A Money `json:"a"`
		B Money `json:"b"`
	}
	if err := json.Unmarshal([]byte(`{"a":"10.10","b":7.5}`), &v); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if v.A.String() != "10.10" || v.B.String() != "7.50" {
		t.Errorf("got a=%s b=%s", v.A, v.B)
	}

	out, err := json.Marshal(v.B)
	if err != nil {
		t.Fatal(err)
	}
	if string(out) != `"7.50"` {
		t.Errorf("MarshalJSON = %s, want \"7.50\"", out)
	}
}

func TestMoney_JSONNullIsZero(t *testing.T) {
	v := struct {
		A Money `json:"a"`
	}{A: MustMoney("3.00")}
	if err := json.Unmarshal([]byte(`{"a":null}`), &v); err != nil {
		t.Fatalf("unmarshal null: %v", err)
	}
	if !v.A.IsZero() {
		t.Errorf("a = %s, want zero", v.A)
	}
}

func TestMoney_ScanValue(t *testing.T) {
	m := MustMoney("99.90")
	v, err := m.Value()
	if err != nil {
		t.Fatal(err)
	}

	var back Money
	if err := back.Scan(v); err != nil {
		t.Fatalf("Scan() error: %v", err)
	}
	if !back.Equal(m) {
		t.Errorf("round trip = %s, want %s", back, m)
	}
	if err := back.Scan(42); err == nil {
		t.Error("Scan(int) should fail")
	}
}

func TestTransaction_IsInbound(t *testing.T) {
	if !(BankTransaction{Amount: MustMoney("1")}).IsInbound() {
		t.Error("positive amount should be inbound")
	}
	if (BankTransaction{Amount: MustMoney("-1")}).IsInbound() {
		t.Error("negative amount should not be inbound")
	}
	if (BankTransaction{}).IsInbound() {
		t.Error("zero amount should not be inbound")
	}
}

// ─── Status Tests ───────────────────────────────────────────────────────────

func TestPaymentStatus_Outstanding(t *testing.T) {
	tests := []struct {
		status PaymentStatus
		want   bool
	}{
		{PaymentPending, true},
		{PaymentOverdue, true},
		{PaymentPaid, false},
		{PaymentCancelled, false},
	}
	for _, tt := range tests {
		if got := tt.status.Outstanding(); got != tt.want {
			t.Errorf("%s.Outstanding() = %v, want %v", tt.status, got, tt.want)
		}
	}
}

// ─── Date Helpers ───────────────────────────────────────────────────────────

func TestDaysBetween(t *testing.T) {
	due := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	posted := time.Date(2026, 2, 13, 17, 45, 0, 0, time.UTC)

	if got := DaysBetween(due, posted); got != 12 {
		t.Errorf("DaysBetween = %d, want 12", got)
	}
	if got := DaysBetween(posted, due); got != -12 {
		t.Errorf("DaysBetween reversed = %d, want -12", got)
	}
}

// ─── Errors ─────────────────────────────────────────────────────────────────

func TestIsSetupError(t *testing.T) {
	if !IsSetupError(fmt.Errorf("company c1: %w", ErrScope)) {
		t.Error("wrapped ErrScope should be a setup error")
	}
	if !IsSetupError(ErrInvalidOptions) {
		t.Error("ErrInvalidOptions should be a setup error")
	}
	if IsSetupError(ErrConflict) {
		t.Error("ErrConflict is a per-item error")
	}
	if errors.Is(ErrConflict, ErrPersistence) {
		t.Error("sentinels must be distinct")
	}
}
