package linker

import (
	"bytes"
	"debug/elf"

	"github.com/seeekr/mold/pkg/utils"
)

const (
	EhdrSize = 64
	ShdrSize = 64
	SymSize  = 24
	RelaSize = 24
)

const IMAGE_BASE uint64 = 0x200000

type Ehdr struct {
	Ident     [16]uint8
	Type      uint16
	Machine   uint16
	Version   uint32
	Entry     uint64
	PhOff     uint64
	ShOff     uint64
	Flags     uint32
	EhSize    uint16
	PhEntSize uint16
	PhNum     uint16
	ShEntSize uint16
	ShNum     uint16
	ShStrndx  uint16
}

type Shdr struct {
	Name      uint32
	Type      uint32
	Flags     uint64
	Addr      uint64
	Offset    uint64
	Size      uint64
	Link      uint32
	Info      uint32
	AddrAlign uint64
	EntSize   uint64
}

type Phdr struct {
	Type     uint32
	Flags    uint32
	Offset   uint64
	VAddr    uint64
	PAddr    uint64
	FileSize uint64
	MemSize  uint64
	Align    uint64
}

type Sym struct {
	Name  uint32
	Info  uint8
	Other uint8
	Shndx uint16
	Val   uint64
	Size  uint64
}

func (s *Sym) IsUndef() bool  { return s.Shndx == uint16(elf.SHN_UNDEF) }
func (s *Sym) IsAbs() bool    { return s.Shndx == uint16(elf.SHN_ABS) }
func (s *Sym) IsCommon() bool { return s.Shndx == uint16(elf.SHN_COMMON) }

type Rela struct {
	Offset uint64
	Type   uint32
	Sym    uint32
	Addend int64
}

// ElfGetName reads a NUL-terminated string out of an ELF string table.
func ElfGetName(strTab []byte, offset uint32) string {
	if offset >= uint32(len(strTab)) {
		return ""
	}
	length := bytes.IndexByte(strTab[offset:], 0)
	if length == -1 {
		return string(strTab[offset:])
	}
	return string(strTab[offset : offset+uint32(length)])
}

// CheckMagic reports whether contents begins with the ELF magic number.
func CheckMagic(contents []byte) bool {
	return len(contents) >= 4 &&
		contents[0] == 0x7f && contents[1] == 'E' &&
		contents[2] == 'L' && contents[3] == 'F'
}

type MachineType int

const (
	MachineTypeNone MachineType = iota
	MachineTypeRISCV64
)

// GetMachineTypeFromContents inspects an ELF object's e_machine field.
func GetMachineTypeFromContents(contents []byte) MachineType {
	if !CheckMagic(contents) || len(contents) < EhdrSize {
		return MachineTypeNone
	}
	machine := uint16(contents[18]) | uint16(contents[19])<<8
	if elf.Machine(machine) == elf.EM_RISCV {
		return MachineTypeRISCV64
	}
	return MachineTypeNone
}

func CheckFileCompatibility(ctx *Context, file *File) {
	mt := GetMachineTypeFromContents(file.Contents)
	if mt != ctx.Args.Emulation {
		utils.Fatal(file.Name + ": incompatible file type")
	}
}

type FileType int

const (
	FileTypeUnknown FileType = iota
	FileTypeObject
	FileTypeArchive
)

const arMagic = "!<arch>\n"

func GetFileType(contents []byte) FileType {
	if CheckMagic(contents) {
		return FileTypeObject
	}
	if len(contents) >= len(arMagic) && string(contents[:len(arMagic)]) == arMagic {
		return FileTypeArchive
	}
	return FileTypeUnknown
}
