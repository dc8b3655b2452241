package reassembly

import "sort"

// interval is a half-open byte range [start, end).
type interval struct {
	start, end int
}

// intervals is a sorted set of disjoint, non-adjacent ranges.
type intervals []interval

func (s intervals) add(start, end int) intervals {
	if start >= end {
		return s
	}
	// First range whose end reaches start (touching ranges merge).
	i := sort.Search(len(s), func(i int) bool { return s[i].end >= start })
	j := i
	for j < len(s) && s[j].start <= end {
		start = min(start, s[j].start)
		end = max(end, s[j].end)
		j++
	}
	if i == j {
		s = append(s, interval{})
		copy(s[i+1:], s[i:])
		s[i] = interval{start, end}
		return s
	}
	s[i] = interval{start, end}
	return append(s[:i+1], s[j:]...)
}

func (s intervals) size() int {
	n := 0
	for _, iv := range s {
		n += iv.end - iv.start
	}
	return n
}

func (s intervals) covers(start, end int) bool {
	i := sort.Search(len(s), func(i int) bool { return s[i].end > start })
	return i < len(s) && s[i].start <= start && s[i].end >= end
}
