package utils

import (
	"testing"
	"time"
)

func TestCursor_Roundtrip(t *testing.T) {
	at := time.Date(2025, 7, 1, 10, 0, 0, 123456789, time.FixedZone("x", 3600))
	c := EncodeCursor(at, "d1k2")
	gotAt, gotID, err := DecodeCursor(c)
	if err != nil {
		t.Fatalf("DecodeCursor: %v", err)
	}
	if !gotAt.Equal(at) || gotID != "d1k2" {
		t.Fatalf("got (%v, %q)", gotAt, gotID)
	}
}

func TestDecodeCursor_Rejects(t *testing.T) {
	for _, s := range []string{"!!!", "bm9waXBl", EncodeCursor(time.Now(), "")} {
		if _, _, err := DecodeCursor(s); err != ErrBadCursor {
			t.Fatalf("DecodeCursor(%q) err = %v; want ErrBadCursor", s, err)
		}
	}
}
