package transfer

// Split partitions data into ordered chunks of at most chunkSize bytes.
// The chunks alias data; callers must not modify data while the chunks are in use.
// An empty buffer yields no chunks. A non-positive chunkSize falls back to DefaultChunkSize.
func Split(data []byte, chunkSize int) [][]byte {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	chunks := make([][]byte, 0, ChunkCount(len(data), chunkSize))
	for offset := 0; offset < len(data); offset += chunkSize {
		end := offset + chunkSize
		if end > len(data) {
			end = len(data)
		}
		// Cap the capacity so an append on one chunk can never spill into the next.
		chunks = append(chunks, data[offset:end:end])
	}
	return chunks
}

// ChunkCount returns how many chunks Split produces for a buffer of the given size.
func ChunkCount(size, chunkSize int) int {
	if size <= 0 {
		return 0
	}
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	return (size + chunkSize - 1) / chunkSize
}
