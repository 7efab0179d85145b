package img

import "github.com/pkg/errors"

// Limits bound what a layout plan will accept. They exist to stop corrupt
// size fields from propagating into multi-gigabyte allocations.
type Limits struct {
	// MaxEntrySize caps one entry's payload.
	MaxEntrySize int64
	// MaxArchiveSize caps the planned total, including directory and
	// padding. Offsets and sizes are stored as uint32, so it can never
	// exceed 4 GiB regardless of configuration.
	MaxArchiveSize int64
}

// DefaultLimits are generous for real game archives while still rejecting
// garbage directory fields.
var DefaultLimits = Limits{
	MaxEntrySize:   512 << 20,
	MaxArchiveSize: 1 << 32,
}

func (l Limits) withDefaults() Limits {
	if l.MaxEntrySize <= 0 {
		l.MaxEntrySize = DefaultLimits.MaxEntrySize
	}
	if l.MaxArchiveSize <= 0 || l.MaxArchiveSize > DefaultLimits.MaxArchiveSize {
		l.MaxArchiveSize = DefaultLimits.MaxArchiveSize
	}
	return l
}

// PlanItem is one (name, size) pair to lay out.
type PlanItem struct {
	Name string
	Size int64
}

// PlannedEntry is one entry's computed location.
type PlannedEntry struct {
	Name   string
	Offset int64
	Size   int64
}

// Plan is a computed sector-aligned layout. Offsets are strictly
// increasing, sector-aligned and non-overlapping.
type Plan struct {
	Entries []PlannedEntry
	// HeaderSize is the byte length of the directory block before padding:
	// entry count times the record size for the single-file layout, zero
	// for the two-file layout where the directory lives in the sibling.
	HeaderSize int64
	// FirstOffset is HeaderSize rounded up to the sector boundary.
	FirstOffset int64
	// TotalSize is the sector-rounded end of the last entry's region.
	TotalSize int64
}

// PlanLayout computes a fresh layout for the given ordered items. It is a
// pure function: identical ordered input always yields the identical plan.
func PlanLayout(version Version, items []PlanItem, limits Limits) (*Plan, error) {
	limits = limits.withDefaults()

	var headerSize int64
	if version != Version1 {
		headerSize = int64(len(items)) * DirectoryRecordSize
	}

	p := &Plan{
		Entries:     make([]PlannedEntry, 0, len(items)),
		HeaderSize:  headerSize,
		FirstOffset: RoundToSector(headerSize),
	}

	offset := p.FirstOffset
	for _, it := range items {
		if it.Size < 0 {
			return nil, errors.Errorf("entry %q has negative size %d", it.Name, it.Size)
		}
		if it.Size > limits.MaxEntrySize {
			return nil, errors.Errorf("entry %q size %d exceeds the per-entry cap %d", it.Name, it.Size, limits.MaxEntrySize)
		}

		p.Entries = append(p.Entries, PlannedEntry{Name: it.Name, Offset: offset, Size: it.Size})
		offset += RoundToSector(it.Size)

		if offset > limits.MaxArchiveSize {
			return nil, errors.Errorf("planned archive size %d exceeds the maximum %d", offset, limits.MaxArchiveSize)
		}
	}

	p.TotalSize = offset
	return p, nil
}
