package transfer

import (
	"hash/crc32"

	"github.com/gabriel-vasile/mimetype"
)

// Checksum returns the CRC-32 (IEEE) of data. It matches the value the
// browser peer computes, modulo the sign of its 32-bit representation.
func Checksum(data []byte) uint32 {
	return crc32.ChecksumIEEE(data)
}

// DetectMimeType sniffs the MIME type of data.
func DetectMimeType(data []byte) string {
	return mimetype.Detect(data).String()
}
