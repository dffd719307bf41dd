package calendar

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeHolidayFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "holidays.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("writing holiday file: %v", err)
	}
	return path
}

func TestLoad_EmptyPathWeekendsOnly(t *testing.T) {
	c, err := Load("")
	if err != nil {
		t.Fatalf("Load(\"\"): %v", err)
	}

	monday := time.Date(2026, 8, 31, 10, 0, 0, 0, time.UTC)
	if !c.IsTradingDay(monday) {
		t.Error("Monday should be a trading day")
	}

	saturday := time.Date(2026, 8, 29, 10, 0, 0, 0, time.UTC)
	if c.IsTradingDay(saturday) {
		t.Error("Saturday should not be a trading day")
	}
	sunday := time.Date(2026, 8, 30, 10, 0, 0, 0, time.UTC)
	if c.IsTradingDay(sunday) {
		t.Error("Sunday should not be a trading day")
	}
}

func TestLoad_Holidays(t *testing.T) {
	path := writeHolidayFile(t, "holidays:\n  - 2026-01-01\n  - 2026-02-16\n")

	c, err := Load(path)
	if err != nil {
		t.Fatalf("Load(): %v", err)
	}

	newYear := time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC) // a Thursday
	if c.IsTradingDay(newYear) {
		t.Error("configured holiday should not be a trading day")
	}

	dayAfter := time.Date(2026, 1, 2, 9, 0, 0, 0, time.UTC)
	if !c.IsTradingDay(dayAfter) {
		t.Error("ordinary Friday should be a trading day")
	}
}

func TestLoad_InvalidDate(t *testing.T) {
	path := writeHolidayFile(t, "holidays:\n  - not-a-date\n")

	if _, err := Load(path); err == nil {
		t.Fatal("expected error for malformed holiday date")
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("expected error for missing holiday file")
	}
}
