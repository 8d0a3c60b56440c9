package models

import (
	"encoding/json"
	"testing"
)

func TestParseMoneyValid(t *testing.T) {
	cases := []struct {
		name  string
		input string
		units int64
	}{
		{name: "zero", input: "0", units: 0},
		{name: "integer", input: "42", units: 4200000000},
		{name: "fraction", input: "5.5", units: 550000000},
		{name: "maxFraction", input: "0.12345678", units: 12345678},
		{name: "negative", input: "-1.25", units: -125000000},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			money, err := ParseMoney(tc.input)
			if err != nil {
				t.Fatalf("ParseMoney(%q) returned error: %v", tc.input, err)
			}
			if money.MinorUnits() != tc.units {
				t.Fatalf("expected %d minor units, got %d", tc.units, money.MinorUnits())
			}
			if got := money.DecimalString(); got != tc.input {
				t.Fatalf("DecimalString mismatch: want %q, got %q", tc.input, got)
			}
		})
	}
}

func TestParseMoneyInvalid(t *testing.T) {
	inputs := []string{"", "abc", "1.000000001", "0.123456789"}
	for _, input := range inputs {
		if _, err := ParseMoney(input); err == nil {
			t.Fatalf("expected error for %q", input)
		}
	}
}

func TestMoneyJSONRoundTrip(t *testing.T) {
	original := MustParseMoney("12.34000001")
	payload, err := json.Marshal(original)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(payload) != "12.34000001" {
		t.Fatalf("expected canonical JSON number, got %s", payload)
	}
	var decoded Money
	if err := json.Unmarshal(payload, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if decoded.MinorUnits() != original.MinorUnits() {
		t.Fatalf("expected %d, got %d", original.MinorUnits(), decoded.MinorUnits())
	}
}

func TestMoneyArithmetic(t *testing.T) {
	balance := MustParseMoney("10")
	credit := MustParseMoney("2.5")
	if got := balance.Add(credit).DecimalString(); got != "12.5" {
		t.Fatalf("Add = %s, want 12.5", got)
	}
	if got := balance.Sub(credit).DecimalString(); got != "7.5" {
		t.Fatalf("Sub = %s, want 7.5", got)
	}
	if !credit.Less(balance) {
		t.Fatalf("expected %s < %s", credit, balance)
	}
	if balance.Sub(balance).IsNegative() {
		t.Fatalf("zero must not be negative")
	}
}

func TestAccountHasRole(t *testing.T) {
	account := Account{Role: "Admin"}
	if !account.HasRole(RoleAdmin) {
		t.Fatalf("expected case-insensitive role match")
	}
	if account.HasRole(RoleLearner) {
		t.Fatalf("unexpected learner role match")
	}
}

func TestVideoStorageKey(t *testing.T) {
	cases := []struct {
		video Video
		want  string
	}{
		{Video{ID: "abc", FileName: "intro.mp4"}, "abc.mp4"},
		{Video{ID: "abc", FileName: "archive.tar.gz"}, "abc.gz"},
		{Video{ID: "abc", FileName: "noextension"}, "abc"},
	}
	for _, tc := range cases {
		if got := tc.video.StorageKey(); got != tc.want {
			t.Fatalf("StorageKey(%q) = %q, want %q", tc.video.FileName, got, tc.want)
		}
	}
}
