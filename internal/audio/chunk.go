package audio

// Windows splits buf into contiguous size-byte windows in order. The last
// window holds the remainder and may be shorter. Windows share buf's memory.
func Windows(buf []byte, size int) [][]byte {
	if size <= 0 || len(buf) == 0 {
		return nil
	}
	windows := make([][]byte, 0, (len(buf)+size-1)/size)
	for start := 0; start < len(buf); start += size {
		end := min(start+size, len(buf))
		windows = append(windows, buf[start:end:end])
	}
	return windows
}
