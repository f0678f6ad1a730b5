package checker

// Partition assigns keys to workers by round-robin index: key i goes to
// shard i mod workers. Every key lands in exactly one shard, the global
// sort order is preserved within each shard, and the assignment is
// deterministic for a given key list and worker count.
func Partition(keys []string, workers int) [][]string {
	if workers < 1 {
		workers = 1
	}

	shards := make([][]string, workers)
	for i, key := range keys {
		w := i % workers
		shards[w] = append(shards[w], key)
	}
	return shards
}

// groupKeys splits a shard into HTTP batch groups of at most size keys.
// The last group may be smaller.
func groupKeys(keys []string, size int) [][]string {
	if size < 1 {
		size = 1
	}

	var groups [][]string
	for start := 0; start < len(keys); start += size {
		end := start + size
		if end > len(keys) {
			end = len(keys)
		}
		groups = append(groups, keys[start:end])
	}
	return groups
}
