package linker

import "debug/elf"

// OutputEhdr, OutputPhdr and OutputShdr are the synthetic chunks that
// hold the ELF header, program header table and section header table
// of the output file. They carry no input-section content and are
// never ICF-eligible.

type OutputEhdr struct {
	Chunk
}

func NewOutputEhdr() *OutputEhdr {
	e := &OutputEhdr{Chunk: NewChunk()}
	e.Shdr.Size = EhdrSize
	e.Shdr.AddrAlign = 8
	return e
}

func (e *OutputEhdr) CopyBuf(ctx *Context) {}

type OutputPhdr struct {
	Chunk
}

func NewOutputPhdr() *OutputPhdr {
	p := &OutputPhdr{Chunk: NewChunk()}
	p.Shdr.Flags = uint64(elf.SHF_ALLOC)
	p.Shdr.AddrAlign = 8
	return p
}

func (p *OutputPhdr) UpdateShdr(ctx *Context) {
	p.Shdr.Size = 56 // one PT_LOAD segment
}

func (p *OutputPhdr) CopyBuf(ctx *Context) {}

type OutputShdr struct {
	Chunk
}

func NewOutputShdr() *OutputShdr {
	s := &OutputShdr{Chunk: NewChunk()}
	s.Shdr.AddrAlign = 8
	return s
}

func (s *OutputShdr) UpdateShdr(ctx *Context) {
	s.Shdr.Size = uint64(len(ctx.Chunks)) * ShdrSize
}

func (s *OutputShdr) CopyBuf(ctx *Context) {}

// GotSection holds the Global Offset Table entries generated for
// symbols that need a TLS TP-relative slot (R_RISCV_TLS_GOT_HI20).
type GotSection struct {
	Chunk
	GotTpSyms []*Symbol
}

func NewGotSection() *GotSection {
	g := &GotSection{Chunk: NewChunk()}
	g.Name = ".got"
	g.Shdr.Type = uint32(elf.SHT_PROGBITS)
	g.Shdr.Flags = uint64(elf.SHF_ALLOC) | uint64(elf.SHF_WRITE)
	g.Shdr.AddrAlign = 8
	return g
}

func (g *GotSection) AddGotTpSymbol(sym *Symbol) {
	sym.GotTpIdx = int32(len(g.GotTpSyms))
	g.GotTpSyms = append(g.GotTpSyms, sym)
	g.Shdr.Size = uint64(len(g.GotTpSyms)) * 8
}

func (g *GotSection) CopyBuf(ctx *Context) {}
