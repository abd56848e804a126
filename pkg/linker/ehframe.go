package linker

import "encoding/binary"

// EhReloc is a relocation carried by an FdeRecord. Unlike InputSection's
// Rela, it stores the resolved Symbol directly: FDE relocations are
// consumed only by ICF digesting, which always needs the referent.
type EhReloc struct {
	Sym    *Symbol
	Type   uint32
	Offset uint64
	Addend int64
}

// FdeRecord is one exception-handling frame-description entry from a
// .eh_frame section, re-attached to the code section it describes.
//
// The first four bytes of Contents are the DWARF CFI record length and
// the next four are the back-offset to the record's CIE; both are
// position-dependent and excluded from identity (spec.md §3, §4.B).
type FdeRecord struct {
	Contents []byte
	Rels     []EhReloc
}

// InitializeFdeRecords parses this object's .eh_frame section (if any)
// into FdeRecord values and attaches each one to the InputSection its
// first relocation targets, mirroring how the FDE's own identity is
// meaningless without the code it unwinds. Must run before
// SkipEhframeSections marks .eh_frame itself dead.
func (o *ObjectFile) InitializeFdeRecords(ctx *Context) {
	for _, isec := range o.Sections {
		if isec == nil || !isec.IsAlive || isec.Name() != ".eh_frame" {
			continue
		}
		o.parseEhFrame(isec)
	}
}

func (o *ObjectFile) parseEhFrame(isec *InputSection) {
	data := isec.Contents
	rels := isec.GetRels()

	pos := 0
	for pos+8 <= len(data) {
		length := binary.LittleEndian.Uint32(data[pos:])
		if length == 0 {
			break
		}

		recStart := pos
		recEnd := pos + 4 + int(length)
		if recEnd > len(data) || recEnd <= recStart {
			break
		}

		cieOffset := binary.LittleEndian.Uint32(data[pos+4:])
		if cieOffset != 0 {
			o.attachFde(isec, rels, data[recStart:recEnd], recStart, recEnd)
		}

		pos = recEnd
	}
}

func (o *ObjectFile) attachFde(
	eh *InputSection, rels []Rela, contents []byte, recStart, recEnd int) {
	var fdeRels []EhReloc
	for _, rel := range rels {
		off := int(rel.Offset)
		if off < recStart || off >= recEnd {
			continue
		}
		fdeRels = append(fdeRels, EhReloc{
			Sym:    eh.File.Symbols[rel.Sym],
			Type:   rel.Type,
			Offset: uint64(off - recStart),
			Addend: rel.Addend,
		})
	}

	if len(fdeRels) == 0 || fdeRels[0].Sym == nil || fdeRels[0].Sym.InputSection == nil {
		return
	}

	fde := &FdeRecord{
		Contents: append([]byte(nil), contents...),
		Rels:     fdeRels,
	}
	target := fdeRels[0].Sym.InputSection
	target.FdeRecords = append(target.FdeRecords, fde)
}
