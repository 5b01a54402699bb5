package ingestion

import (
	"errors"
	"sort"
)

// ErrInvalidOrdering is returned when blocks are not strictly ascending by slot.
var ErrInvalidOrdering = errors.New("blocks are not in slot order")

// SortBlocks orders blocks by slot ASC.
func SortBlocks(blocks []FetchedBlock) {
	sort.Slice(blocks, func(i, j int) bool {
		return blocks[i].Slot < blocks[j].Slot
	})
}

// ValidateBlockOrdering checks that blocks are strictly ascending by slot.
func ValidateBlockOrdering(blocks []FetchedBlock) error {
	for i := 1; i < len(blocks); i++ {
		if blocks[i-1].Slot >= blocks[i].Slot {
			return ErrInvalidOrdering
		}
	}
	return nil
}

// ContiguousPrefix returns the leading blocks of a sorted batch that cover
// from, from+1, ... without a hole, and the first slot not covered.
func ContiguousPrefix(blocks []FetchedBlock, from uint64) (prefix []FetchedBlock, next uint64) {
	next = from
	for i, b := range blocks {
		if b.Slot != next {
			return blocks[:i], next
		}
		next++
	}
	return blocks, next
}

// slotRange lists the slots in [from, to].
func slotRange(from, to uint64) []uint64 {
	if to < from {
		return nil
	}
	out := make([]uint64, 0, to-from+1)
	for s := from; s <= to; s++ {
		out = append(out, s)
	}
	return out
}
