package patcher

import (
	"github.com/pablogsal/unrepair/internal/elf"
)

// Strategy is how Apply rewrites the target DT_NEEDED entry.
type Strategy int

const (
	// InPlace overwrites the existing string in .dynstr; the DT_NEEDED
	// value (a string table offset) never changes. Used whenever the new
	// name is no longer than the old one.
	InPlace Strategy = iota
	// AppendToStrtab appends the new name to a grown .dynstr and rewrites
	// the DT_NEEDED value to point at it. Used when the new name is
	// longer than the old one, and only when .dynstr is safely growable.
	AppendToStrtab
)

func (s Strategy) String() string {
	if s == AppendToStrtab {
		return "append_to_strtab"
	}
	return "in_place"
}

// PatchPlan describes exactly how Apply will rewrite one DT_NEEDED entry.
type PatchPlan struct {
	OldName  string
	NewName  string
	Strategy Strategy

	// entryFileOffset is the file offset of the (tag, value) pair itself,
	// i.e. target_offset_in_dynamic_segment in spec.md's terms.
	entryFileOffset uint64
	valueFieldSize  int // 4 for ELF32, 8 for ELF64: width of the value half of the entry
	stringOffset    uint64 // old_name's offset within .dynstr content

	dynstrFileOffset uint64
	dynstrSize       uint64
	dynstrIndex      int

	// strszFileOffset is the file offset of DT_STRSZ's value field, or 0
	// if the dynamic table carries no DT_STRSZ entry.
	strszFileOffset uint64
}

// Plan finds the DT_NEEDED entry whose current string equals oldName (the
// first such entry in segment order, per spec.md §4.4) and decides the
// rewrite strategy for replacing it with newName.
func Plan(img elf.Image, oldName, newName string) (*PatchPlan, error) {
	dynstrSec, dynstr, found, err := img.SectionByName(".dynstr")
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, newError(ErrMissingDynstr, nil)
	}

	entries, err := img.DynamicEntries()
	if err != nil {
		return nil, err
	}

	tagSize := 4
	if img.Class() == elf.Class64 {
		tagSize = 8
	}

	var strszFileOffset uint64
	for _, e := range entries {
		if e.Tag == elf.DT_STRSZ {
			strszFileOffset = e.FileOffset + uint64(tagSize)
		}
	}

	for _, e := range entries {
		if e.Tag != elf.DT_NEEDED {
			continue
		}
		name, err := elf.ReadStringAtOffset(uint32(e.Value), dynstr)
		if err != nil {
			continue
		}
		if string(name) != oldName {
			continue
		}
		plan := &PatchPlan{
			OldName:          oldName,
			NewName:          newName,
			entryFileOffset:  e.FileOffset,
			valueFieldSize:   tagSize,
			stringOffset:     e.Value,
			dynstrFileOffset: dynstrSec.FileOffset,
			dynstrSize:       dynstrSec.Size,
			dynstrIndex:      dynstrSec.Index,
			strszFileOffset:  strszFileOffset,
		}
		if len(newName) <= len(oldName) {
			plan.Strategy = InPlace
			return plan, nil
		}
		plan.Strategy = AppendToStrtab
		return plan, nil
	}
	return nil, newError(ErrTargetNotFound, nil)
}

// valueFieldOffset is the absolute file offset of the entry's Value half,
// i.e. where a new string-table offset must be written for AppendToStrtab.
func (p *PatchPlan) valueFieldOffset() uint64 {
	return p.entryFileOffset + uint64(p.valueFieldSize)
}
