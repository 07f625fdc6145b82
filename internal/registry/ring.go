package registry

// rssiRing is a fixed-capacity ring of RSSI samples. Pushing beyond
// capacity evicts the oldest sample.
type rssiRing struct {
	buf  [HistoryCapacity]int
	head int
	size int
}

func (r *rssiRing) push(v int) {
	r.buf[(r.head+r.size)%HistoryCapacity] = v
	if r.size < HistoryCapacity {
		r.size++
		return
	}
	r.head = (r.head + 1) % HistoryCapacity
}

// values returns the samples oldest-first.
func (r *rssiRing) values() []int {
	out := make([]int, r.size)
	for i := 0; i < r.size; i++ {
		out[i] = r.buf[(r.head+i)%HistoryCapacity]
	}
	return out
}
