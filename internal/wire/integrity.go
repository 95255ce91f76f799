/* go-p2p-usb - share USB devices over an authenticated P2P link
 *
 * CRC32C integrity helper, generalized from the original Rust
 * implementation's crates/protocol/src/integrity.rs: a standalone
 * compute/verify pair used optionally on interrupt/bulk payloads.
 */

package wire

import "hash/crc32"

var castagnoliTable = crc32.MakeTable(crc32.Castagnoli)

// ComputeChecksum returns the CRC32C (Castagnoli) checksum of data.
func ComputeChecksum(data []byte) uint32 {
	return crc32.Checksum(data, castagnoliTable)
}

// VerifyChecksum reports whether data's CRC32C matches the supplied sum.
func VerifyChecksum(data []byte, sum uint32) bool {
	return ComputeChecksum(data) == sum
}
