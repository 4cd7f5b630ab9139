package repository

// maxChunkParams bounds every `WHERE key IN (...)` query at 500 bind
// parameters, well under SQLite's 999-parameter limit, leaving headroom for
// a query's other bind parameters.
const maxChunkParams = 500

// chunkStrings splits keys into groups of at most maxChunkParams.
func chunkStrings(keys []string) [][]string {
	if len(keys) == 0 {
		return nil
	}
	var chunks [][]string
	for len(keys) > 0 {
		n := maxChunkParams
		if n > len(keys) {
			n = len(keys)
		}
		chunks = append(chunks, keys[:n])
		keys = keys[n:]
	}
	return chunks
}

// chunkInt64s splits ids into groups of at most maxChunkParams.
func chunkInt64s(ids []int64) [][]int64 {
	if len(ids) == 0 {
		return nil
	}
	var chunks [][]int64
	for len(ids) > 0 {
		n := maxChunkParams
		if n > len(ids) {
			n = len(ids)
		}
		chunks = append(chunks, ids[:n])
		ids = ids[n:]
	}
	return chunks
}

func placeholders(n int) string {
	b := make([]byte, 0, n*2)
	for i := 0; i < n; i++ {
		if i > 0 {
			b = append(b, ',')
		}
		b = append(b, '?')
	}
	return string(b)
}
