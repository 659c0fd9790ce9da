package chunk

import (
	"context"
	"time"

	"github.com/codesearch-engine/codesearch/internal/store"
)

// Chunk size defaults (based on 2025 RAG research)
const (
	DefaultMaxChunkTokens = 512 // Optimal for 85-90% recall
	DefaultOverlapTokens  = 64  // ~12.5% overlap
	MinChunkTokens        = 100 // Minimum viable chunk
	TokensPerChar         = 4   // Rough approximation: 4 chars = 1 token
)

// ContentType represents the type of content in a chunk
type ContentType string

const (
	ContentTypeCode     ContentType = "code"
	ContentTypeMarkdown ContentType = "markdown"
	ContentTypeText     ContentType = "text"
)

// Chunk is a retrievable unit of content
type Chunk struct {
	ID          string            // content-addressable: sha256(file_path + ":" + sha256(content)[:16])[:16]
	FilePath    string            // Relative to project root
	Content     string            // embedding_text: contextual prefix + blank line + verbatim content
	RawContent  string            // Just the symbol, no context (code only)
	Context     string            // Imports, package decl (code only)
	ModulePath  string            // Directory-as-module path derived from FilePath
	Imports     []string          // File-header imports, first N
	ContentType ContentType       // code, markdown, text
	Language    string            // go, typescript, python, etc.
	StartLine   int               // 1-indexed
	EndLine     int               // Inclusive
	Symbols     []*Symbol         // Functions, classes, etc.
	Metadata    map[string]string // Custom metadata
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// PrimarySymbol returns the chunk's first extracted symbol, or nil for
// symbol-less chunks (markdown/text, or a code fragment with no declaration).
func (c *Chunk) PrimarySymbol() *Symbol {
	if len(c.Symbols) == 0 {
		return nil
	}
	return c.Symbols[0]
}

// ToDocument converts the chunk into the fielded BM25 document the text
// index backends expect, before the chunk has been persisted as a
// store.Chunk (the bulk indexing path embeds and indexes before it builds
// the metadata-store representation).
func (c *Chunk) ToDocument() *store.Document {
	doc := &store.Document{
		ID:         c.ID,
		Content:    c.Content,
		FilePath:   c.FilePath,
		ModulePath: c.ModulePath,
	}
	if sym := c.PrimarySymbol(); sym != nil {
		doc.SymbolName = sym.Name
		doc.SymbolKind = string(sym.Type)
		doc.Docstring = sym.DocComment
	}
	return doc
}

// FileInput is input for the Chunker interface
type FileInput struct {
	Path     string // Relative path
	Content  []byte // File content
	Language string // go, typescript, python, etc.
}

// Chunker is the interface for splitting files into chunks
type Chunker interface {
	// Chunk splits a file into semantic chunks
	Chunk(ctx context.Context, file *FileInput) ([]*Chunk, error)

	// SupportedExtensions returns file extensions this chunker handles
	SupportedExtensions() []string
}

// SymbolType represents the kind of code symbol, in the language-agnostic
// vocabulary symbols are reported under regardless of source language:
// function, struct, enum, trait, impl, module, const, static, type-alias.
// Go/TypeScript/JavaScript/Python map their own declaration forms onto this
// set (e.g. a Go interface or a TypeScript interface both become trait; a Go
// method and a free function both become function); impl has no producer
// among these four grammars today; it is reserved for an implementation
// language with explicit impl blocks (Rust being the obvious one).
type SymbolType string

const (
	SymbolTypeFunction  SymbolType = "function"
	SymbolTypeStruct    SymbolType = "struct"
	SymbolTypeEnum      SymbolType = "enum"
	SymbolTypeTrait     SymbolType = "trait"
	SymbolTypeImpl      SymbolType = "impl"
	SymbolTypeModule    SymbolType = "module"
	SymbolTypeConst     SymbolType = "const"
	SymbolTypeStatic    SymbolType = "static"
	SymbolTypeTypeAlias SymbolType = "type-alias"
)

// Symbol represents a code symbol extracted from parsing
type Symbol struct {
	Name       string
	Type       SymbolType
	StartLine  int
	EndLine    int
	Signature  string
	DocComment string
	// Calls lists identifiers appearing in call position within the
	// symbol's body, in order of first appearance, deduplicated.
	// Unresolved: no cross-file resolution is attempted at this layer.
	Calls []string
}

// Tree represents a parsed AST
type Tree struct {
	Root     *Node
	Source   []byte
	Language string
}

// Node represents a node in the AST
type Node struct {
	Type       string
	StartByte  uint32
	EndByte    uint32
	StartPoint Point
	EndPoint   Point
	Children   []*Node
	HasError   bool
}

// Point represents a position in the source code
type Point struct {
	Row    uint32 // 0-indexed line number
	Column uint32
}

// LanguageConfig holds configuration for a supported language
type LanguageConfig struct {
	Name       string
	Extensions []string

	// Node types that indicate function declarations
	FunctionTypes []string

	// Node types that indicate class/struct definitions
	ClassTypes []string

	// Node types that indicate interface definitions
	InterfaceTypes []string

	// Node types that indicate method definitions
	MethodTypes []string

	// Node types that indicate type definitions
	TypeDefTypes []string

	// Node types that indicate enum definitions
	EnumTypes []string

	// Node types that indicate constant declarations
	ConstantTypes []string

	// Node types that indicate variable declarations
	VariableTypes []string

	// Node type for name identifier
	NameField string
}
