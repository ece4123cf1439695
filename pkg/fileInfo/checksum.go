package fileInfo

import (
	"hash/crc32"
	"io"
	"log/slog"
	"os"
)

func calculateCRC32(filePath string) (uint32, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return 0, err
	}
	defer func() {
		if err := file.Close(); err != nil {
			slog.Error("fail to close file", "error", err.Error())
		}
	}()
	hasher := crc32.NewIEEE()
	if _, err := io.Copy(hasher, file); err != nil {
		return 0, err
	}
	return hasher.Sum32(), nil
}

// CalcChecksum computes the CRC-32 of the file contents, the same checksum
// the transfer metadata carries.
func (n *FileNode) CalcChecksum() (uint32, error) {
	sum, err := calculateCRC32(n.Path)
	if err != nil {
		return 0, err
	}
	n.Checksum = sum
	return sum, nil
}

// VerifyChecksum reports whether the file contents hash to expected.
func (n *FileNode) VerifyChecksum(expected uint32) (bool, error) {
	actual, err := n.CalcChecksum()
	if err != nil {
		return false, err
	}
	return actual == expected, nil
}
