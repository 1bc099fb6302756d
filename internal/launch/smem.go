package launch

// sharedMemSpec is the tagged variant behind the dynamic shared memory
// policy: either a fixed byte count, or a determiner mapping block volume to
// bytes. A non-nil determiner is the tag. The two are mutually exclusive and
// last-write-wins; the setters replace the whole value rather than patching
// fields so the exclusion cannot drift.
type sharedMemSpec struct {
	determiner SharedMemDeterminer
	fixedBytes uint64
}

func fixedSharedMem(n uint64) sharedMemSpec {
	return sharedMemSpec{fixedBytes: n}
}

func determinedSharedMem(fn SharedMemDeterminer) sharedMemSpec {
	return sharedMemSpec{determiner: fn}
}

// bytesFor evaluates the size for a concrete block volume.
func (s sharedMemSpec) bytesFor(blockVolume uint64) uint64 {
	if s.determiner != nil {
		return s.determiner(int(blockVolume))
	}
	return s.fixedBytes
}
