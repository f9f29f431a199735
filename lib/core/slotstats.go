package core

// --------------------------------------------------------------------------
// Per-Slot Statistics
// --------------------------------------------------------------------------

// SlotStats aggregates per-cluster-slot usage for one database table.
type SlotStats struct {
	KeyCount    int64
	TotalReads  int64
	TotalWrites int64
	MemoryBytes int64
}

// Add merges other into s.
func (s *SlotStats) Add(other SlotStats) {
	s.KeyCount += other.KeyCount
	s.TotalReads += other.TotalReads
	s.TotalWrites += other.TotalWrites
	s.MemoryBytes += other.MemoryBytes
}
