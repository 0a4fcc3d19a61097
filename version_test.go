package iouxx

import "testing"

func TestVersionParseAndString(t *testing.T) {
	v, err := ParseVersion("6.11")
	if err != nil {
		t.Fatalf("ParseVersion: %v", err)
	}
	if v.Major != 6 || v.Minor != 11 {
		t.Fatalf("got %+v", v)
	}
	if got := v.String(); got != "6.11" {
		t.Fatalf("String() = %q", got)
	}
}

func TestVersionParseRejectsMalformed(t *testing.T) {
	for _, s := range []string{"", "6", "a.b", "6.b", "a.11"} {
		if _, err := ParseVersion(s); err == nil {
			t.Fatalf("ParseVersion(%q): expected error", s)
		}
	}
}

func TestVersionCompare(t *testing.T) {
	cases := []struct {
		a, b Version
		want int
	}{
		{Version{5, 19}, Version{6, 0}, -1},
		{Version{6, 11}, Version{6, 11}, 0},
		{Version{6, 12}, Version{6, 11}, 1},
		{Version{6, 1}, Version{6, 11}, -1},
	}
	for _, c := range cases {
		if got := c.a.Compare(c.b); got != c.want {
			t.Fatalf("%v.Compare(%v) = %d, want %d", c.a, c.b, got, c.want)
		}
	}
}

func TestVersionAtLeast(t *testing.T) {
	if !(Version{6, 11}).AtLeast(Version{6, 11}) {
		t.Fatal("6.11 should be at least 6.11")
	}
	if !(Version{6, 12}).AtLeast(Version{6, 11}) {
		t.Fatal("6.12 should be at least 6.11")
	}
	if (Version{6, 0}).AtLeast(Version{6, 11}) {
		t.Fatal("6.0 should not be at least 6.11")
	}
}
