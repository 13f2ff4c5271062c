package model

import "github.com/cvsps/cvsps-go/internal/strintern"

// Store is the process-wide (per spec.md §9, "per run") owner of the
// global file index, global symbol index and string interner. It is
// created fresh for each run; no state survives across Store values.
type Store struct {
	Files   map[string]*File
	Symbols map[string]*GlobalSymbol
	Strings *strintern.Pool
}

// NewStore returns an empty, ready-to-use Store.
func NewStore() *Store {
	return &Store{
		Files:   make(map[string]*File),
		Symbols: make(map[string]*GlobalSymbol),
		Strings: strintern.NewPool(),
	}
}

// FileByPath returns the File for path, creating it if this is the first
// time it has been seen.
func (s *Store) FileByPath(path string) *File {
	if f, ok := s.Files[path]; ok {
		return f
	}
	f := NewFile(path)
	s.Files[path] = f
	return f
}

// Symbol returns the GlobalSymbol for tag, creating it if necessary.
func (s *Store) Symbol(tag string) *GlobalSymbol {
	if sym, ok := s.Symbols[tag]; ok {
		return sym
	}
	sym := &GlobalSymbol{Tag: tag}
	s.Symbols[tag] = sym
	return sym
}

// AddTag records a Tag against both the owning File's Symbols map, the
// owning Revision's Tags slice and the GlobalSymbol's Tags slice.
func (s *Store) AddTag(file *File, tagName string, rev *Revision) *Tag {
	sym := s.Symbol(tagName)
	tag := &Tag{Tag: tagName, Rev: rev, Sym: sym}
	file.Symbols[tagName] = rev
	rev.Tags = append(rev.Tags, tag)
	sym.Tags = append(sym.Tags, tag)
	return tag
}
