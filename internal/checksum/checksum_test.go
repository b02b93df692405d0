// internal/checksum/checksum_test.go
package checksum

import "testing"

func TestSum(t *testing.T) {
	// Known CRC-32C vector from RFC 3720.
	if got := Sum([]byte("123456789")); got != 0xE3069283 {
		t.Errorf("Sum(123456789) = %#x, want 0xe3069283", got)
	}
	if got := Sum(nil); got != 0 {
		t.Errorf("Sum(nil) = %#x, want 0", got)
	}
}

func TestUpdate_MatchesSum(t *testing.T) {
	data := []byte("the quick brown fox jumps over the lazy dog")
	whole := Sum(data)
	split := Update(Sum(data[:10]), data[10:])
	if whole != split {
		t.Errorf("incremental sum %#x != whole sum %#x", split, whole)
	}
}
