package storage

import "testing"

func TestDocumentObject(t *testing.T) {
	cases := []struct {
		interview string
		cycle     int64
		want      string
	}{
		{"8f14e45f-ceea-467f-a0e6-0c3a1b2d9e01", 1, "interviews/8f14e45f-ceea-467f-a0e6-0c3a1b2d9e01/cycle-1.txt"},
		{"8f14e45f-ceea-467f-a0e6-0c3a1b2d9e01", 12, "interviews/8f14e45f-ceea-467f-a0e6-0c3a1b2d9e01/cycle-12.txt"},
	}
	for _, tc := range cases {
		if got := DocumentObject(tc.interview, tc.cycle); got != tc.want {
			t.Errorf("DocumentObject(%q, %d) = %q, want %q", tc.interview, tc.cycle, got, tc.want)
		}
	}
}
