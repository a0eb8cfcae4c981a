package logrelay

import "github.com/cespare/xxhash/v2"

// fingerprintSet is a bounded set of line hashes. When full, the oldest
// fingerprint is evicted first.
type fingerprintSet struct {
	members map[uint64]struct{}
	ring    []uint64
	next    int
	full    bool
}

func newFingerprintSet(size int) *fingerprintSet {
	if size < 1 {
		size = 1
	}
	return &fingerprintSet{
		members: make(map[uint64]struct{}, size),
		ring:    make([]uint64, size),
	}
}

func fingerprint(line string) uint64 {
	return xxhash.Sum64String(line)
}

func (s *fingerprintSet) contains(fp uint64) bool {
	_, ok := s.members[fp]
	return ok
}

// add inserts fp and reports whether it was new.
func (s *fingerprintSet) add(fp uint64) bool {
	if s.contains(fp) {
		return false
	}
	if s.full {
		delete(s.members, s.ring[s.next])
	}
	s.ring[s.next] = fp
	s.members[fp] = struct{}{}
	s.next++
	if s.next == len(s.ring) {
		s.next = 0
		s.full = true
	}
	return true
}

func (s *fingerprintSet) len() int {
	return len(s.members)
}
