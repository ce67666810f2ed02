package pagination

import (
	"testing"
	"time"
)

func TestCursorRoundTrip(t *testing.T) {
	ts := time.Date(2025, 6, 5, 14, 30, 0, 123456789, time.UTC)

	cursor := EncodeCursor(ts, 42)
	gotTS, gotID, err := DecodeCursor(cursor)
	if err != nil {
		t.Fatalf("DecodeCursor failed: %v", err)
	}
	if !gotTS.Equal(ts) {
		t.Errorf("timestamp = %v, want %v", gotTS, ts)
	}
	if gotID != 42 {
		t.Errorf("id = %d, want 42", gotID)
	}
}

func TestDecodeCursorRejectsGarbage(t *testing.T) {
	testCases := []struct {
		name   string
		cursor string
	}{
		{"not base64", "!!!"},
		{"missing separator", "bm9zZXBhcmF0b3I="},
		{"bad timestamp", "bm90YXRpbWUsNDI="},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if _, _, err := DecodeCursor(tc.cursor); err == nil {
				t.Errorf("expected error for cursor %q", tc.cursor)
			}
		})
	}
}
