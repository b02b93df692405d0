// internal/checksum/checksum.go
// Package checksum computes the CRC-32C (Castagnoli) checksum used for
// page images. The on-disk checksum field is 4 bytes, so the sum is a
// 32-bit value.
package checksum

import "hash/crc32"

var castagnoli = crc32.MakeTable(crc32.Castagnoli)

// Sum returns the CRC-32C of b.
func Sum(b []byte) uint32 {
	return crc32.Checksum(b, castagnoli)
}

// Update adds b to an existing checksum.
func Update(sum uint32, b []byte) uint32 {
	return crc32.Update(sum, castagnoli, b)
}
