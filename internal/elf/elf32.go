package elf

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// Header32 is the fixed-size ELF32 file header.
type Header32 struct {
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
	EntryPoint             uint32
	ProgramHeaderOffset    uint32
	SectionHeaderOffset    uint32
	Flags                  uint32
	HeaderSize             uint16
	ProgramHeaderEntrySize uint16
	ProgramHeaderEntries   uint16
	SectionHeaderEntrySize uint16
	SectionHeaderEntries   uint16
	SectionNamesTable      uint16
}

// SectionHeader32 is a single ELF32 section header table entry.
type SectionHeader32 struct {
	Name           uint32
	Type           SectionType
	Flags          uint32
	VirtualAddress uint32
	FileOffset     uint32
	Size           uint32
	LinkedIndex    uint32
	Info           uint32
	Align          uint32
	EntrySize      uint32
}

// ProgramHeader32 is a single ELF32 program header table entry. Field order
// differs from ProgramHeader64: Elf32_Phdr puts p_flags after p_memsz,
// just before p_align, where Elf64_Phdr has it second.
type ProgramHeader32 struct {
	Type            SegmentType
	FileOffset      uint32
	VirtualAddress  uint32
	PhysicalAddress uint32
	FileSize        uint32
	MemorySize      uint32
	Flags           uint32
	Align           uint32
}

// Symbol32 is a single ELF32 .dynsym / .symtab entry.
type Symbol32 struct {
	Name         uint32
	Value        uint32
	Size         uint32
	Info         uint8
	Other        uint8
	SectionIndex uint16
}

type dynEntryRaw32 struct {
	Tag   uint32
	Value uint32
}

// file32 is the ELF32 implementation of Image.
type file32 struct {
	header     Header32
	sections   []SectionHeader32
	segments   []ProgramHeader32
	raw        []byte
	endianness binary.ByteOrder
}

func parseFile32(raw []byte) (*file32, error) {
	f := &file32{raw: raw}
	if err := f.reparse(); err != nil {
		return nil, err
	}
	return f, nil
}

func (f *file32) reparse() error {
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
	var header Header32
	data := bytes.NewReader(raw)
	if err := binary.Read(data, endianness, &header); err != nil {
		return parseErr(ErrTruncated, "ELF32 header", err)
	}
	if header.Class != uint8(Class32) {
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

func (f *file32) parseProgramHeaders() error {
	if f.header.ProgramHeaderEntries == 0 {
		f.segments = nil
		return nil
	}
	offset := f.header.ProgramHeaderOffset
	if offset >= uint32(len(f.raw)) {
		return parseErr(ErrMalformedTable, "program header offset", fmt.Errorf("0x%x", offset))
	}
	data := bytes.NewReader(f.raw[offset:])
	segments := make([]ProgramHeader32, f.header.ProgramHeaderEntries)
	if err := binary.Read(data, f.endianness, segments); err != nil {
		return parseErr(ErrTruncated, "program header table", err)
	}
	f.segments = segments
	return nil
}

func (f *file32) parseSectionHeaders() error {
	if f.header.SectionHeaderEntries == 0 {
		f.sections = nil
		return nil
	}
	offset := f.header.SectionHeaderOffset
	if offset >= uint32(len(f.raw)) {
		return parseErr(ErrMalformedTable, "section header offset", fmt.Errorf("0x%x", offset))
	}
	data := bytes.NewReader(f.raw[offset:])
	sections := make([]SectionHeader32, f.header.SectionHeaderEntries)
	if err := binary.Read(data, f.endianness, sections); err != nil {
		return parseErr(ErrTruncated, "section header table", err)
	}
	f.sections = sections
	return nil
}

func (f *file32) Class() Class         { return Class32 }
func (f *file32) Endianness() Data     { return Data(f.header.Endianness) }
func (f *file32) OSABI() uint8         { return f.header.OSABI }
func (f *file32) Machine() MachineType { return f.header.Machine }
func (f *file32) FileType() FileType   { return f.header.Type }
func (f *file32) Raw() []byte          { return f.raw }
func (f *file32) SectionCount() int    { return len(f.sections) }
func (f *file32) SegmentCount() int    { return len(f.segments) }
func (f *file32) endianOrder() binary.ByteOrder { return f.endianness }

func (f *file32) SectionContent(index int) ([]byte, error) {
	if index < 0 || index >= len(f.sections) {
		return nil, parseErr(ErrMalformedTable, "section index", fmt.Errorf("%d", index))
	}
	sec := f.sections[index]
	if sec.Type == SectionNobits {
		return nil, nil
	}
	start := sec.FileOffset
	if uint64(start) > uint64(len(f.raw)) {
		return nil, parseErr(ErrMalformedTable, "section file offset", fmt.Errorf("section %d", index))
	}
	end := start + sec.Size
	if uint64(end) > uint64(len(f.raw)) || end < start {
		return nil, parseErr(ErrMalformedTable, "section size", fmt.Errorf("section %d", index))
	}
	return f.raw[start:end], nil
}

func (f *file32) Section(index int) (Section, error) {
	if index < 0 || index >= len(f.sections) {
		return Section{}, parseErr(ErrMalformedTable, "section index", fmt.Errorf("%d", index))
	}
	s := f.sections[index]
	return Section{
		Index:          index,
		Type:           s.Type,
		Flags:          uint64(s.Flags),
		VirtualAddress: uint64(s.VirtualAddress),
		FileOffset:     uint64(s.FileOffset),
		Size:           uint64(s.Size),
		LinkedIndex:    s.LinkedIndex,
		Info:           s.Info,
		EntrySize:      uint64(s.EntrySize),
		nameOffset:     s.Name,
	}, nil
}

func (f *file32) SectionName(index int) (string, error) {
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
func (f *file32) SectionSizeFieldOffset(index int) (uint64, error) {
	if index < 0 || index >= len(f.sections) {
		return 0, parseErr(ErrMalformedTable, "section index", fmt.Errorf("%d", index))
	}
	const sizeFieldOffset = 4 + 4 + 4 + 4 + 4 // Name, Type, Flags, VirtualAddress, FileOffset
	return uint64(f.header.SectionHeaderOffset) + uint64(index)*uint64(f.header.SectionHeaderEntrySize) + sizeFieldOffset, nil
}

func (f *file32) Segment(index int) (Segment, error) {
	if index < 0 || index >= len(f.segments) {
		return Segment{}, parseErr(ErrMalformedTable, "segment index", fmt.Errorf("%d", index))
	}
	s := f.segments[index]
	return Segment{
		Index:           index,
		Type:            s.Type,
		Flags:           s.Flags,
		FileOffset:      uint64(s.FileOffset),
		VirtualAddress:  uint64(s.VirtualAddress),
		PhysicalAddress: uint64(s.PhysicalAddress),
		FileSize:        uint64(s.FileSize),
		MemorySize:      uint64(s.MemorySize),
		Align:           uint64(s.Align),
	}, nil
}

func (f *file32) dynamicEntries() ([]rawDynamicEntry, int, error) {
	const entrySize = 8 // sizeof(Elf32_Dyn)
	for segIdx, seg := range f.segments {
		if seg.Type != SegmentDynamic {
			continue
		}
		start := uint64(seg.FileOffset)
		if start > uint64(len(f.raw)) {
			return nil, 0, parseErr(ErrMalformedTable, "PT_DYNAMIC offset", nil)
		}
		end := start + uint64(seg.FileSize)
		if end > uint64(len(f.raw)) || end < start {
			return nil, 0, parseErr(ErrMalformedTable, "PT_DYNAMIC size", nil)
		}
		content := f.raw[start:end]
		count := len(content) / entrySize
		entries := make([]dynEntryRaw32, count)
		if err := binary.Read(bytes.NewReader(content), f.endianness, entries); err != nil {
			return nil, 0, parseErr(ErrTruncated, "PT_DYNAMIC table", err)
		}
		toReturn := make([]rawDynamicEntry, 0, count)
		for i, e := range entries {
			toReturn = append(toReturn, rawDynamicEntry{
				Tag:        DynamicTag(int64(e.Tag)),
				Value:      uint64(e.Value),
				FileOffset: start + uint64(i)*entrySize,
			})
			if e.Tag == 0 {
				break
			}
		}
		return toReturn, segIdx, nil
	}
	return nil, -1, nil
}

func (f *file32) symbolSize() int { return 16 } // sizeof(Elf32_Sym)

func (f *file32) parseSymbols(content []byte) ([]rawSymbol, error) {
	count := len(content) / f.symbolSize()
	syms := make([]Symbol32, count)
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
