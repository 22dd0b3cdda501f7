package elf

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// Header64 is the fixed-size ELF64 file header.
type Header64 struct {
	Signature              uint32
	Class                  uint8
	Endianness             uint8
	Version                uint8
	OSABI                  uint8
	EABI                   uint8
	Padding                [7]uint8
	Type                   FileType
	Machine                MachineType
	Version2               uint32
	EntryPoint             uint64
	ProgramHeaderOffset    uint64
	SectionHeaderOffset    uint64
	Flags                  uint32
	HeaderSize             uint16
	ProgramHeaderEntrySize uint16
	ProgramHeaderEntries   uint16
	SectionHeaderEntrySize uint16
	SectionHeaderEntries   uint16
	SectionNamesTable      uint16
}

// SectionHeader64 is a single ELF64 section header table entry.
type SectionHeader64 struct {
	Name           uint32
	Type           SectionType
	Flags          uint64
	VirtualAddress uint64
	FileOffset     uint64
	Size           uint64
	LinkedIndex    uint32
	Info           uint32
	Align          uint64
	EntrySize      uint64
}

// ProgramHeader64 is a single ELF64 program header table entry.
type ProgramHeader64 struct {
	Type            SegmentType
	Flags           uint32
	FileOffset      uint64
	VirtualAddress  uint64
	PhysicalAddress uint64
	FileSize        uint64
	MemorySize      uint64
	Align           uint64
}

// Symbol64 is a single ELF64 .dynsym / .symtab entry.
type Symbol64 struct {
	Name         uint32
	Info         uint8
	Other        uint8
	SectionIndex uint16
	Value        uint64
	Size         uint64
}

// DynamicEntry64 is a single ELF64 PT_DYNAMIC entry.
type DynamicEntry64 struct {
	Tag   DynamicTag
	Value uint64
}

// file64 is the ELF64 implementation of Image.
type file64 struct {
	header     Header64
	sections   []SectionHeader64
	segments   []ProgramHeader64
	raw        []byte
	endianness binary.ByteOrder
}

func parseFile64(raw []byte) (*file64, error) {
	f := &file64{raw: raw}
	if err := f.reparse(); err != nil {
		return nil, err
	}
	return f, nil
}

func (f *file64) reparse() error {
	raw := f.raw
	if len(raw) < 6 {
		return parseErr(ErrTruncated, "header", fmt.Errorf("%d bytes", len(raw)))
	}
	var endianness binary.ByteOrder
	switch raw[5] {
	case 1:
		endianness = binary.LittleEndian
	case 2:
		endianness = binary.BigEndian
	default:
		return parseErr(ErrUnsupportedClass, "encoding", fmt.Errorf("raw value %d", raw[5]))
	}
	var header Header64
	data := bytes.NewReader(raw)
	if err := binary.Read(data, endianness, &header); err != nil {
		return parseErr(ErrTruncated, "ELF64 header", err)
	}
	if header.Class != uint8(Class64) {
		return parseErr(ErrUnsupportedClass, "class", fmt.Errorf("got %d", header.Class))
	}
	f.header = header
	f.endianness = endianness
	if err := f.parseProgramHeaders(); err != nil {
		return err
	}
	if err := f.parseSectionHeaders(); err != nil {
		return err
	}
	return nil
}

func (f *file64) parseProgramHeaders() error {
	if f.header.ProgramHeaderEntries == 0 {
		f.segments = nil
		return nil
	}
	offset := f.header.ProgramHeaderOffset
	if offset >= uint64(len(f.raw)) {
		return parseErr(ErrMalformedTable, "program header offset", fmt.Errorf("0x%x", offset))
	}
	data := bytes.NewReader(f.raw[offset:])
	segments := make([]ProgramHeader64, f.header.ProgramHeaderEntries)
	if err := binary.Read(data, f.endianness, segments); err != nil {
		return parseErr(ErrTruncated, "program header table", err)
	}
	f.segments = segments
	return nil
}

func (f *file64) parseSectionHeaders() error {
	if f.header.SectionHeaderEntries == 0 {
		f.sections = nil
		return nil
	}
	offset := f.header.SectionHeaderOffset
	if offset >= uint64(len(f.raw)) {
		return parseErr(ErrMalformedTable, "section header offset", fmt.Errorf("0x%x", offset))
	}
	data := bytes.NewReader(f.raw[offset:])
	sections := make([]SectionHeader64, f.header.SectionHeaderEntries)
	if err := binary.Read(data, f.endianness, sections); err != nil {
		return parseErr(ErrTruncated, "section header table", err)
	}
	f.sections = sections
	return nil
}

func (f *file64) Class() Class           { return Class64 }
func (f *file64) Endianness() Data       { return Data(f.header.Endianness) }
func (f *file64) OSABI() uint8           { return f.header.OSABI }
func (f *file64) Machine() MachineType   { return f.header.Machine }
func (f *file64) FileType() FileType     { return f.header.Type }
func (f *file64) Raw() []byte            { return f.raw }
func (f *file64) endianOrder() binary.ByteOrder { return f.endianness }
func (f *file64) SectionCount() int      { return len(f.sections) }
func (f *file64) SegmentCount() int      { return len(f.segments) }

func (f *file64) SectionContent(index int) ([]byte, error) {
	if index < 0 || index >= len(f.sections) {
		return nil, parseErr(ErrMalformedTable, "section index", fmt.Errorf("%d", index))
	}
	sec := f.sections[index]
	if sec.Type == SectionNobits {
		return nil, nil
	}
	start := sec.FileOffset
	if start > uint64(len(f.raw)) {
		return nil, parseErr(ErrMalformedTable, "section file offset", fmt.Errorf("section %d", index))
	}
	end := start + sec.Size
	if end > uint64(len(f.raw)) || end < start {
		return nil, parseErr(ErrMalformedTable, "section size", fmt.Errorf("section %d", index))
	}
	return f.raw[start:end], nil
}

func (f *file64) Section(index int) (Section, error) {
	if index < 0 || index >= len(f.sections) {
		return Section{}, parseErr(ErrMalformedTable, "section index", fmt.Errorf("%d", index))
	}
	s := f.sections[index]
	return Section{
		Index:          index,
		Type:           s.Type,
		Flags:          s.Flags,
		VirtualAddress: s.VirtualAddress,
		FileOffset:     s.FileOffset,
		Size:           s.Size,
		LinkedIndex:    s.LinkedIndex,
		Info:           s.Info,
		EntrySize:      s.EntrySize,
		nameOffset:     s.Name,
	}, nil
}

func (f *file64) SectionName(index int) (string, error) {
	if index == 0 {
		return "", nil
	}
	if index < 0 || index >= len(f.sections) {
		return "", parseErr(ErrMalformedTable, "section index", fmt.Errorf("%d", index))
	}
	strContent, err := f.SectionContent(int(f.header.SectionNamesTable))
	if err != nil {
		return "", parseErr(ErrMalformedTable, "section name string table", err)
	}
	name, err := ReadStringAtOffset(f.sections[index].Name, strContent)
	if err != nil {
		return "", parseErr(ErrMalformedTable, "section name", err)
	}
	return string(name), nil
}

// SectionSizeFieldOffset returns the absolute file offset of section
// index's sh_size field, so a patcher can grow a section's recorded size
// in place without rewriting the whole section header table entry.
func (f *file64) SectionSizeFieldOffset(index int) (uint64, error) {
	if index < 0 || index >= len(f.sections) {
		return 0, parseErr(ErrMalformedTable, "section index", fmt.Errorf("%d", index))
	}
	const sizeFieldOffset = 4 + 4 + 8 + 8 + 8 // Name, Type, Flags, VirtualAddress, FileOffset
	return f.header.SectionHeaderOffset + uint64(index)*uint64(f.header.SectionHeaderEntrySize) + sizeFieldOffset, nil
}

func (f *file64) Segment(index int) (Segment, error) {
	if index < 0 || index >= len(f.segments) {
		return Segment{}, parseErr(ErrMalformedTable, "segment index", fmt.Errorf("%d", index))
	}
	s := f.segments[index]
	return Segment{
		Index:           index,
		Type:            s.Type,
		Flags:           s.Flags,
		FileOffset:      s.FileOffset,
		VirtualAddress:  s.VirtualAddress,
		PhysicalAddress: s.PhysicalAddress,
		FileSize:        s.FileSize,
		MemorySize:      s.MemorySize,
		Align:           s.Align,
	}, nil
}

func (f *file64) dynamicEntries() ([]rawDynamicEntry, int, error) {
	const entrySize = 16 // sizeof(Elf64_Dyn)
	for segIdx, seg := range f.segments {
		if seg.Type != SegmentDynamic {
			continue
		}
		start := seg.FileOffset
		if start > uint64(len(f.raw)) {
			return nil, 0, parseErr(ErrMalformedTable, "PT_DYNAMIC offset", nil)
		}
		end := start + seg.FileSize
		if end > uint64(len(f.raw)) || end < start {
			return nil, 0, parseErr(ErrMalformedTable, "PT_DYNAMIC size", nil)
		}
		content := f.raw[start:end]
		count := len(content) / entrySize
		entries := make([]DynamicEntry64, count)
		if err := binary.Read(bytes.NewReader(content), f.endianness, entries); err != nil {
			return nil, 0, parseErr(ErrTruncated, "PT_DYNAMIC table", err)
		}
		toReturn := make([]rawDynamicEntry, 0, count)
		for i, e := range entries {
			toReturn = append(toReturn, rawDynamicEntry{
				Tag:        e.Tag,
				Value:      e.Value,
				FileOffset: start + uint64(i)*entrySize,
			})
			if e.Tag == DT_NULL {
				break
			}
		}
		return toReturn, segIdx, nil
	}
	return nil, -1, nil
}

func (f *file64) symbolSize() int { return 24 } // sizeof(Elf64_Sym)

func (f *file64) parseSymbols(content []byte) ([]rawSymbol, error) {
	count := len(content) / f.symbolSize()
	syms := make([]Symbol64, count)
	if err := binary.Read(bytes.NewReader(content), f.endianness, syms); err != nil {
		return nil, parseErr(ErrTruncated, "symbol table", err)
	}
	toReturn := make([]rawSymbol, count)
	for i, s := range syms {
		toReturn[i] = rawSymbol{
			NameOffset:   s.Name,
			Bind:         SymbolBind(s.Info >> 4),
			Type:         SymbolType(s.Info & 0xf),
			SectionIndex: s.SectionIndex,
		}
	}
	return toReturn, nil
}
