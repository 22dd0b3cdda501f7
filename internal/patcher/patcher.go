// Package patcher rewrites a single DT_NEEDED entry of an ELF image in
// place, producing a patched copy of the raw file bytes.
package patcher

import (
	"encoding/binary"

	"github.com/pablogsal/unrepair/internal/elf"
)

// Apply rewrites raw according to plan and returns the patched bytes. raw
// must be the same image Plan was built from.
func Apply(img elf.Image, plan *PatchPlan, raw []byte) ([]byte, error) {
	out := make([]byte, len(raw))
	copy(out, raw)

	order := littleOrBig(img)

	switch plan.Strategy {
	case InPlace:
		return applyInPlace(out, plan, order)
	case AppendToStrtab:
		return applyAppend(img, out, plan, order)
	}
	return nil, newError(ErrTargetNotFound, nil)
}

// applyInPlace overwrites old_name's bytes directly within .dynstr. The
// DT_NEEDED value field (a string table offset) is untouched: it still
// points at the same offset, which now holds new_name.
func applyInPlace(out []byte, plan *PatchPlan, order binary.ByteOrder) ([]byte, error) {
	replacement := make([]byte, len(plan.OldName)+1)
	copy(replacement, plan.NewName)

	dest := plan.dynstrFileOffset + plan.stringOffset
	out, err := elf.WriteAtOffset(out, dest, order, replacement)
	if err != nil {
		return nil, err
	}
	return out, nil
}

// applyAppend grows .dynstr by appending new_name and repoints the
// DT_NEEDED entry at it. Only safe when .dynstr is the last thing in the
// file, since growing it in place would otherwise overwrite whatever
// follows; anything else is refused rather than risk corrupting the file.
func applyAppend(img elf.Image, out []byte, plan *PatchPlan, order binary.ByteOrder) ([]byte, error) {
	tail := plan.dynstrFileOffset + plan.dynstrSize
	if tail != uint64(len(out)) {
		return nil, newError(ErrTooLongToAppend, nil)
	}

	sizeFieldOffset, err := img.SectionSizeFieldOffset(plan.dynstrIndex)
	if err != nil {
		return nil, err
	}

	newOffset := plan.dynstrSize
	appended := append([]byte(plan.NewName), 0)
	out = append(out, appended...)
	newSize := plan.dynstrSize + uint64(len(appended))

	out, err = writeValueField(out, plan, order, newOffset)
	if err != nil {
		return nil, err
	}
	out, err = elf.WriteAtOffset(out, sizeFieldOffset, order, sizeField(plan, newSize))
	if err != nil {
		return nil, err
	}
	if plan.strszFileOffset != 0 {
		out, err = elf.WriteAtOffset(out, plan.strszFileOffset, order, sizeField(plan, newSize))
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

func writeValueField(out []byte, plan *PatchPlan, order binary.ByteOrder, value uint64) ([]byte, error) {
	if plan.valueFieldSize == 4 {
		return elf.WriteAtOffset(out, plan.valueFieldOffset(), order, uint32(value))
	}
	return elf.WriteAtOffset(out, plan.valueFieldOffset(), order, value)
}

func sizeField(plan *PatchPlan, size uint64) interface{} {
	if plan.valueFieldSize == 4 {
		return uint32(size)
	}
	return size
}

func littleOrBig(img elf.Image) binary.ByteOrder {
	if img.Endianness() == elf.DataBigEndian {
		return binary.BigEndian
	}
	return binary.LittleEndian
}
