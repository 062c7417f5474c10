package ingest

import (
	"testing"
	"time"
)

func TestParseTimestampUnixSeconds(t *testing.T) {
	got, err := ParseTimestamp("1700000000")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := time.Unix(1700000000, 0).UTC()
	if !got.Equal(want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestParseTimestampUnixMillis(t *testing.T) {
	got, err := ParseTimestamp("1700000000500")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := time.UnixMilli(1700000000500).UTC()
	if !got.Equal(want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestParseTimestampFractionalSeconds(t *testing.T) {
	got, err := ParseTimestamp("1700000000.25")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := time.Unix(1700000000, 250000000).UTC()
	if got.Sub(want) > time.Millisecond || want.Sub(got) > time.Millisecond {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestParseTimestampRFC3339(t *testing.T) {
	got, err := ParseTimestamp("2024-03-01T12:30:00+02:00")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := time.Date(2024, 3, 1, 10, 30, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestParseTimestampSpaceSeparated(t *testing.T) {
	got, err := ParseTimestamp("2024-03-01 12:30:00")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := time.Date(2024, 3, 1, 12, 30, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestParseTimestampRejectsGarbage(t *testing.T) {
	for _, s := range []string{"", "yesterday", "-1700000000"} {
		if _, err := ParseTimestamp(s); err == nil {
			t.Errorf("expected error for %q", s)
		}
	}
}
