package batch

// Chunk splits reqs into consecutive slices of at most size elements
func Chunk(reqs []*Request, size int) [][]*Request {
	if size <= 0 || len(reqs) == 0 {
		if len(reqs) == 0 {
			return nil
		}
		return [][]*Request{reqs}
	}

	out := make([][]*Request, 0, (len(reqs)+size-1)/size)
	for start := 0; start < len(reqs); start += size {
		end := start + size
		if end > len(reqs) {
			end = len(reqs)
		}
		out = append(out, reqs[start:end:end])
	}
	return out
}

// Partition splits reqs into at most n near-equal consecutive parts
func Partition(reqs []*Request, n int) [][]*Request {
	if n <= 0 {
		n = 1
	}
	size := (len(reqs) + n - 1) / n
	return Chunk(reqs, size)
}
