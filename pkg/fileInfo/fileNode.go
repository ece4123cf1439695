package fileInfo

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"

	"github.com/rescp17/lanrtc/pkg/transfer"
)

var (
	ErrIsDirectory     = errors.New("directories cannot be sent, only regular files")
	ErrInvalidFileName = errors.New("invalid file name")
)

const defaultMimeType = "application/octet-stream"

// FileNode describes a single file offered for transfer.
type FileNode struct {
	Name     string `json:"name"`
	Size     int64  `json:"size"`
	MimeType string `json:"mime_type,omitempty"`
	Checksum uint32 `json:"crc32"`
	Path     string `json:"-"`
}

// CreateNode stats path and sniffs its MIME type.
func CreateNode(path string) (FileNode, error) {
	info, err := os.Stat(path)
	if err != nil {
		return FileNode{}, err
	}
	if info.IsDir() {
		return FileNode{}, fmt.Errorf("%w: %s", ErrIsDirectory, path)
	}
	node := FileNode{
		Name: info.Name(),
		Size: info.Size(),
		Path: path,
	}
	mime, err := mimetype.DetectFile(path)
	if err != nil {
		node.MimeType = defaultMimeType
	} else {
		node.MimeType = mime.String()
	}
	return node, nil
}

// ReadPayload loads the whole file into memory. Files larger than maxSize are
// rejected before reading.
func (n *FileNode) ReadPayload(maxSize int64) ([]byte, error) {
	if n.Size > maxSize {
		return nil, fmt.Errorf("%w: %s is %d bytes, limit is %d", transfer.ErrPayloadTooLarge, n.Name, n.Size, maxSize)
	}
	file, err := os.Open(n.Path)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := file.Close(); err != nil {
			slog.Error("fail to close file", "error", err.Error())
		}
	}()

	// The file may have grown since it was stat'ed.
	data, err := io.ReadAll(io.LimitReader(file, maxSize+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", n.Path, err)
	}
	if int64(len(data)) > maxSize {
		return nil, fmt.Errorf("%w: %s grew beyond %d bytes", transfer.ErrPayloadTooLarge, n.Name, maxSize)
	}
	n.Size = int64(len(data))
	return data, nil
}

// SaveArtifact writes a received payload into dir. Only the base of name is
// used, and an existing file is never overwritten: "a.txt" becomes
// "a (1).txt" and so on. It returns the path written.
func SaveArtifact(dir, name string, data []byte) (string, error) {
	base, err := sanitizeName(name)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create %s: %w", dir, err)
	}

	ext := filepath.Ext(base)
	stem := strings.TrimSuffix(base, ext)
	for i := 0; ; i++ {
		candidate := base
		if i > 0 {
			candidate = fmt.Sprintf("%s (%d)%s", stem, i, ext)
		}
		path := filepath.Join(dir, candidate)
		file, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if errors.Is(err, os.ErrExist) {
			continue
		}
		if err != nil {
			return "", fmt.Errorf("failed to create %s: %w", path, err)
		}
		if _, err := file.Write(data); err != nil {
			_ = file.Close()
			_ = os.Remove(path)
			return "", fmt.Errorf("failed to write %s: %w", path, err)
		}
		if err := file.Close(); err != nil {
			return "", fmt.Errorf("failed to close %s: %w", path, err)
		}
		return path, nil
	}
}

// SaveVerifiedArtifact saves data like SaveArtifact, then reads the written
// file back and checks it against expected. A file that does not match is
// removed.
func SaveVerifiedArtifact(dir, name string, data []byte, expected uint32) (string, error) {
	path, err := SaveArtifact(dir, name, data)
	if err != nil {
		return "", err
	}
	node := FileNode{Name: filepath.Base(path), Size: int64(len(data)), Path: path}
	ok, err := node.VerifyChecksum(expected)
	if err == nil && !ok {
		err = fmt.Errorf("%w: %s does not match crc32 %d", transfer.ErrIntegrityFailure, path, expected)
	}
	if err != nil {
		if rmErr := os.Remove(path); rmErr != nil {
			slog.Warn("Failed to remove unverified file", "path", path, "error", rmErr)
		}
		return "", fmt.Errorf("failed to verify %s: %w", path, err)
	}
	return path, nil
}

// sanitizeName strips any directory components a remote peer put in name.
func sanitizeName(name string) (string, error) {
	name = strings.ReplaceAll(name, "\\", "/")
	base := filepath.Base(filepath.FromSlash(name))
	base = strings.TrimSpace(base)
	switch base {
	case "", ".", "..", string(filepath.Separator):
		return "", fmt.Errorf("%w: %q", ErrInvalidFileName, name)
	}
	if strings.ContainsRune(base, 0) {
		return "", fmt.Errorf("%w: %q", ErrInvalidFileName, name)
	}
	return base, nil
}
