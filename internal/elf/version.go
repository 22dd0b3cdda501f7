package elf

import (
	"bytes"
	"encoding/binary"
	"io"
)

// verNeed mirrors Elf32_Verneed / Elf64_Verneed: the two are identical in
// field width, so one struct and one parser serve both classes (the
// teacher implements this only for ELF32; this fills in the ELF64 side
// using the same on-disk layout).
type verNeed struct {
	Version   uint16
	Count     uint16
	File      uint32
	AuxOffset uint32
	Next      uint32
}

type verNeedAux struct {
	Hash  uint32
	Flags uint16
	Other uint16
	Name  uint32
	Next  uint32
}

type verDef struct {
	Version   uint16
	Flags     uint16
	Index     uint16
	Count     uint16
	Hash      uint32
	AuxOffset uint32
	Next      uint32
}

type verDefAux struct {
	Name uint32
	Next uint32
}

// VersionRequirement associates an undefined symbol with the library it's
// required from and, if versioned, the version name it requires.
type VersionRequirement struct {
	Library string
	Version string // empty if the symbol carries no version requirement
}

// VersionSet is the set of version names a defined symbol satisfies. An
// empty set still represents a valid (unversioned) definition.
type VersionSet map[string]bool

func (v VersionSet) Has(name string) bool { return v[name] }

// parseVersionNeed parses a .gnu.version_r section's content into, for each
// Vernaux entry encountered, a map from the raw 16-bit version index to its
// (requiring library, version name) pair.
func parseVersionNeed(content []byte, order binary.ByteOrder, strContent []byte) (map[uint16]VersionRequirement, error) {
	toReturn := make(map[uint16]VersionRequirement)
	data := bytes.NewReader(content)
	for {
		startOffset, err := data.Seek(0, io.SeekCurrent)
		if err != nil {
			return nil, parseErr(ErrMalformedTable, "version_r offset", err)
		}
		if startOffset >= int64(len(content)) {
			break
		}
		var need verNeed
		if err := binary.Read(data, order, &need); err != nil {
			return nil, parseErr(ErrTruncated, "version_r entry", err)
		}
		libNameBytes, err := ReadStringAtOffset(need.File, strContent)
		if err != nil {
			return nil, parseErr(ErrMalformedTable, "version_r library name", err)
		}
		libName := string(libNameBytes)

		auxReader := bytes.NewReader(content)
		if _, err := auxReader.Seek(startOffset+int64(need.AuxOffset), io.SeekStart); err != nil {
			return nil, parseErr(ErrMalformedTable, "version_r aux offset", err)
		}
		auxStart := startOffset + int64(need.AuxOffset)
		for i := uint16(0); i < need.Count; i++ {
			var aux verNeedAux
			if err := binary.Read(auxReader, order, &aux); err != nil {
				return nil, parseErr(ErrTruncated, "version_r aux entry", err)
			}
			nameBytes, err := ReadStringAtOffset(aux.Name, strContent)
			if err != nil {
				return nil, parseErr(ErrMalformedTable, "version_r aux name", err)
			}
			index := aux.Other &^ VersymHiddenBit
			toReturn[index] = VersionRequirement{Library: libName, Version: string(nameBytes)}
			if aux.Next == 0 {
				break
			}
			if _, err := auxReader.Seek(auxStart+int64(aux.Next), io.SeekStart); err != nil {
				return nil, parseErr(ErrMalformedTable, "version_r aux next", err)
			}
			auxStart += int64(aux.Next)
		}

		if need.Next == 0 {
			break
		}
		if _, err := data.Seek(startOffset+int64(need.Next), io.SeekStart); err != nil {
			return nil, parseErr(ErrMalformedTable, "version_r next", err)
		}
	}
	return toReturn, nil
}

// parseVersionDef parses a .gnu.version_d section's content into a map from
// raw 16-bit version index to the version name it defines, read from the
// first Verdaux entry of each Verdef only (the base
// "this is the library itself" verdaux entry is skipped, matching the
// teacher's comment that the base verdef is uninteresting).
func parseVersionDef(content []byte, order binary.ByteOrder, strContent []byte) (map[uint16]string, error) {
	toReturn := make(map[uint16]string)
	data := bytes.NewReader(content)
	for {
		startOffset, err := data.Seek(0, io.SeekCurrent)
		if err != nil {
			return nil, parseErr(ErrMalformedTable, "version_d offset", err)
		}
		if startOffset >= int64(len(content)) {
			break
		}
		var def verDef
		if err := binary.Read(data, order, &def); err != nil {
			return nil, parseErr(ErrTruncated, "version_d entry", err)
		}
		if def.Count > 0 {
			var aux verDefAux
			auxReader := bytes.NewReader(content)
			if _, err := auxReader.Seek(startOffset+int64(def.AuxOffset), io.SeekStart); err != nil {
				return nil, parseErr(ErrMalformedTable, "version_d aux offset", err)
			}
			if err := binary.Read(auxReader, order, &aux); err != nil {
				return nil, parseErr(ErrTruncated, "version_d aux entry", err)
			}
			nameBytes, err := ReadStringAtOffset(aux.Name, strContent)
			if err != nil {
				return nil, parseErr(ErrMalformedTable, "version_d aux name", err)
			}
			// def.Flags & 1 (VER_FLG_BASE) marks the library's own SONAME
			// version, not a real version label consumers request.
			if def.Flags&1 == 0 {
				toReturn[def.Index&^VersymHiddenBit] = string(nameBytes)
			}
		}
		if def.Next == 0 {
			break
		}
		if _, err := data.Seek(startOffset+int64(def.Next), io.SeekStart); err != nil {
			return nil, parseErr(ErrMalformedTable, "version_d next", err)
		}
	}
	return toReturn, nil
}
