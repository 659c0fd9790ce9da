package chunk

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"
)

// CodeChunker implements AST-aware code chunking using tree-sitter. One
// symbol node (function, method, type, class, constant, variable) produces
// exactly one chunk; symbols are never split regardless of size, trading
// retrieval granularity for semantic coherence.
type CodeChunker struct {
	parser    *Parser
	extractor *SymbolExtractor
	registry  *LanguageRegistry
}

// NewCodeChunker creates a new code chunker.
func NewCodeChunker() *CodeChunker {
	registry := DefaultRegistry()
	return &CodeChunker{
		parser:    NewParserWithRegistry(registry),
		extractor: NewSymbolExtractorWithRegistry(registry),
		registry:  registry,
	}
}

// Close releases chunker resources
func (c *CodeChunker) Close() {
	if c.parser != nil {
		c.parser.Close()
	}
}

// SupportedExtensions returns file extensions this chunker handles
func (c *CodeChunker) SupportedExtensions() []string {
	return c.registry.SupportedExtensions()
}

// Chunk splits a file into semantic chunks
func (c *CodeChunker) Chunk(ctx context.Context, file *FileInput) ([]*Chunk, error) {
	if len(file.Content) == 0 {
		return nil, nil
	}

	// Check if language is supported
	_, supported := c.registry.GetByName(file.Language)
	if !supported {
		// Fall back to line-based chunking
		return c.chunkByLines(file)
	}

	// Parse the file
	tree, err := c.parser.Parse(ctx, file.Content, file.Language)
	if err != nil {
		// Fall back to line-based chunking on parse error
		return c.chunkByLines(file)
	}

	// Extract context (package declaration, imports)
	fileContext := c.extractFileContext(tree, file.Content, file.Language)

	// Enrich context with file path marker for better embedding quality
	fileContext = c.enrichContextWithFilePath(file.Path, file.Language, fileContext)

	// Find symbol nodes (functions, structs, traits, enums, consts, statics,
	// type aliases, and the module declaration itself where the language has one)
	symbolNodes := c.findSymbolNodes(tree, file.Language)

	if len(symbolNodes) == 0 {
		return nil, nil
	}

	// Create chunks from symbol nodes
	modulePath := deriveModulePath(file.Path)
	imports := extractImportNames(tree, file.Language)

	chunks := make([]*Chunk, 0, len(symbolNodes))
	now := time.Now()

	for _, node := range symbolNodes {
		node.symbol.Calls = extractOutgoingCalls(node.node, tree.Source, file.Language)
		chunk := c.createChunk(file, tree, node, fileContext, modulePath, imports, now)
		chunks = append(chunks, chunk)
	}

	return chunks, nil
}

// symbolNodeInfo holds a symbol node with its extracted symbol info
type symbolNodeInfo struct {
	node   *Node
	symbol *Symbol
}

// findSymbolNodes finds all top-level symbol-defining nodes and classifies
// them into the function/struct/enum/trait/impl/module/const/static/
// type-alias vocabulary. A handful of node types need more than a static
// table lookup to classify (Go's type_declaration covers struct, trait, and
// type-alias alike; JS/TS's lexical_declaration covers both const and let),
// so those are resolved per-node instead of through the symbolTypes table.
func (c *CodeChunker) findSymbolNodes(tree *Tree, language string) []*symbolNodeInfo {
	// Return empty slice, not nil, for consistent API behavior (DEBT-012)
	config, ok := c.registry.GetByName(language)
	if !ok {
		return []*symbolNodeInfo{}
	}

	var symbolNodes []*symbolNodeInfo

	// Build set of symbol-defining node types
	symbolTypes := make(map[string]SymbolType)
	for _, t := range config.FunctionTypes {
		symbolTypes[t] = SymbolTypeFunction
	}
	for _, t := range config.MethodTypes {
		symbolTypes[t] = SymbolTypeFunction
	}
	for _, t := range config.ClassTypes {
		symbolTypes[t] = SymbolTypeStruct
	}
	for _, t := range config.InterfaceTypes {
		symbolTypes[t] = SymbolTypeTrait
	}
	for _, t := range config.EnumTypes {
		symbolTypes[t] = SymbolTypeEnum
	}
	for _, t := range config.ConstantTypes {
		symbolTypes[t] = SymbolTypeConst
	}
	for _, t := range config.VariableTypes {
		symbolTypes[t] = SymbolTypeStatic
	}
	// TypeDefTypes is intentionally left out of the static table: Go's
	// type_declaration and TS's type_alias_declaration both need per-node
	// resolution (see resolveGoTypeKind) rather than one fixed kind.
	typeDefTypes := make(map[string]bool, len(config.TypeDefTypes))
	for _, t := range config.TypeDefTypes {
		typeDefTypes[t] = true
	}

	add := func(n *Node, sym *Symbol) {
		if sym != nil {
			symbolNodes = append(symbolNodes, &symbolNodeInfo{node: n, symbol: sym})
		}
	}

	// Walk tree to find symbol nodes
	tree.Root.Walk(func(n *Node) bool {
		switch {
		case language == "python" && n.Type == "decorated_definition":
			add(n, c.extractDecoratedSymbol(n, tree, language))
			return false // decorator's child def node is consumed here, don't re-visit it

		case n.Type == "lexical_declaration" || n.Type == "variable_declaration":
			// Arrow functions / function expressions assigned to a const/let/var
			// name are functions, not const/static bindings - check that first.
			if sym := c.extractor.extractSpecialSymbol(n, tree.Source, language); sym != nil {
				add(n, sym)
				return true
			}
			if n.Type == "lexical_declaration" {
				add(n, c.extractSymbol(n, tree, resolveJSDeclKind(n, tree.Source), language))
			} else {
				add(n, c.extractSymbol(n, tree, SymbolTypeStatic, language))
			}

		case typeDefTypes[n.Type]:
			add(n, c.extractSymbol(n, tree, resolveGoTypeKind(n, tree.Source, language), language))

		default:
			if symType, isSymbol := symbolTypes[n.Type]; isSymbol {
				add(n, c.extractSymbol(n, tree, symType, language))
			}
		}
		return true
	})

	return symbolNodes
}

// resolveJSDeclKind distinguishes `const` from `let` within a
// lexical_declaration node: the kind keyword is the node's first child.
func resolveJSDeclKind(n *Node, source []byte) SymbolType {
	if len(n.Children) > 0 && n.Children[0].GetContent(source) == "let" {
		return SymbolTypeStatic
	}
	return SymbolTypeConst
}

// resolveGoTypeKind classifies a type definition node by its underlying
// type: Go's type_declaration wraps struct_type, interface_type, and plain
// alias forms under the same node type, so the spec's struct/trait/
// type-alias split has to inspect the type_spec's RHS. Non-Go languages
// with a dedicated TypeDefTypes entry (TS's type_alias_declaration) are
// always a type-alias.
func resolveGoTypeKind(n *Node, source []byte, language string) SymbolType {
	if language != "go" {
		return SymbolTypeTypeAlias
	}
	for _, child := range n.Children {
		if child.Type != "type_spec" {
			continue
		}
		for _, grandchild := range child.Children {
			switch grandchild.Type {
			case "struct_type":
				return SymbolTypeStruct
			case "interface_type":
				return SymbolTypeTrait
			}
		}
	}
	return SymbolTypeTypeAlias
}

// extractDecoratedSymbol extracts the function/class wrapped by a Python
// decorated_definition, using the decorated_definition's own line range so
// the leading @decorator lines are part of the symbol rather than dropped -
// tree-sitter nests the decorator and the definition it applies to under
// one parent, with the inner node's range starting only at "def"/"class".
func (c *CodeChunker) extractDecoratedSymbol(n *Node, tree *Tree, language string) *Symbol {
	var inner *Node
	var symType SymbolType
	for _, child := range n.Children {
		switch child.Type {
		case "function_definition":
			inner, symType = child, SymbolTypeFunction
		case "class_definition":
			inner, symType = child, SymbolTypeStruct
		}
	}
	if inner == nil {
		return nil
	}

	config, _ := c.registry.GetByName(language)
	name := c.extractor.extractName(inner, tree.Source, config, language)
	if name == "" {
		return nil
	}

	return &Symbol{
		Name:       name,
		Type:       symType,
		StartLine:  int(n.StartPoint.Row) + 1, // decorator's line, not the def's
		EndLine:    int(inner.EndPoint.Row) + 1,
		DocComment: c.extractDocComment(n, tree.Source, language),
		Signature:  c.extractor.extractSignature(inner, tree.Source, symType, language),
	}
}

// extractSymbol extracts symbol info from a node
func (c *CodeChunker) extractSymbol(n *Node, tree *Tree, symType SymbolType, language string) *Symbol {
	config, _ := c.registry.GetByName(language)
	name := c.extractor.extractName(n, tree.Source, config, language)
	if name == "" {
		return nil
	}

	docComment := c.extractDocComment(n, tree.Source, language)
	signature := c.extractor.extractSignature(n, tree.Source, symType, language)

	return &Symbol{
		Name:       name,
		Type:       symType,
		StartLine:  int(n.StartPoint.Row) + 1,
		EndLine:    int(n.EndPoint.Row) + 1,
		DocComment: docComment,
		Signature:  signature,
	}
}

// extractDocComment extracts doc comment for a node, looking for multi-line comments
func (c *CodeChunker) extractDocComment(n *Node, source []byte, language string) string {
	// Find the start of the current line
	lineStart := int(n.StartByte)
	for lineStart > 0 && source[lineStart-1] != '\n' {
		lineStart--
	}

	// Look for comment on preceding lines
	if lineStart <= 1 {
		return ""
	}

	// Collect comment lines working backwards
	var commentLines []string
	pos := lineStart - 1 // Start before the newline

	for pos > 0 {
		// Find start of previous line
		prevLineEnd := pos
		pos--
		for pos > 0 && source[pos] != '\n' {
			pos--
		}
		prevLineStart := pos
		if pos > 0 {
			prevLineStart++ // Skip the newline
		}

		prevLine := strings.TrimSpace(string(source[prevLineStart:prevLineEnd]))

		// Check for single-line comments
		switch language {
		case "go", "typescript", "tsx", "javascript", "jsx":
			if strings.HasPrefix(prevLine, "//") {
				commentLines = append([]string{strings.TrimPrefix(prevLine, "//")}, commentLines...)
				continue
			}
		case "python":
			if strings.HasPrefix(prevLine, "#") {
				commentLines = append([]string{strings.TrimPrefix(prevLine, "#")}, commentLines...)
				continue
			}
		}

		// Stop if we hit a non-comment line (unless empty)
		if prevLine != "" {
			break
		}
	}

	if len(commentLines) == 0 {
		return ""
	}

	return strings.TrimSpace(strings.Join(commentLines, "\n"))
}

// getRawContentWithDocComment gets raw content including doc comment
func (c *CodeChunker) getRawContentWithDocComment(n *Node, source []byte, docComment string) string {
	// Find start of doc comment (before the node)
	lineStart := int(n.StartByte)
	for lineStart > 0 && source[lineStart-1] != '\n' {
		lineStart--
	}

	// Count back through comment lines
	docLines := strings.Count(docComment, "\n") + 1
	for i := 0; i < docLines && lineStart > 0; i++ {
		lineStart--
		for lineStart > 0 && source[lineStart-1] != '\n' {
			lineStart--
		}
	}

	return string(source[lineStart:n.EndByte])
}

// createChunk builds the single chunk for a symbol node. Symbols that exceed
// the practical size estimate are still indexed whole: no character- or
// line-based splitting is performed. This trades retrieval granularity for
// semantic coherence on very large symbols (e.g. sprawling impls), which is
// the deliberate choice for this chunker.
func (c *CodeChunker) createChunk(file *FileInput, tree *Tree, info *symbolNodeInfo, fileContext, modulePath string, imports []string, now time.Time) *Chunk {
	node := info.node
	rawContent := string(tree.Source[node.StartByte:node.EndByte])
	if info.symbol.DocComment != "" {
		rawContent = c.getRawContentWithDocComment(node, tree.Source, info.symbol.DocComment)
	}

	embeddingText := buildEmbeddingText(file.Path, info.symbol, modulePath, imports, rawContent)

	return &Chunk{
		ID:          generateChunkID(file.Path, rawContent),
		FilePath:    file.Path,
		Content:     embeddingText,
		RawContent:  rawContent,
		Context:     fileContext,
		ModulePath:  modulePath,
		Imports:     imports,
		ContentType: ContentTypeCode,
		Language:    file.Language,
		StartLine:   info.symbol.StartLine,
		EndLine:     info.symbol.EndLine,
		Symbols:     []*Symbol{info.symbol},
		Metadata:    make(map[string]string),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// maxContextItems bounds how many imports/calls are folded into the
// embedding-text contextual prefix (spec: first N=5 of each).
const maxContextItems = 5

// buildEmbeddingText assembles the Contextual Retrieval prefix in the fixed
// field order — file path, line range, module path, symbol kind+name,
// docstring, imports, outgoing calls, a blank line, then the verbatim symbol
// content — ahead of the content it embeds. Any implementation must
// reproduce this order bit-exactly because retrieval quality depends on it.
func buildEmbeddingText(filePath string, symbol *Symbol, modulePath string, imports []string, rawContent string) string {
	var b strings.Builder

	fmt.Fprintf(&b, "File: %s\n", filePath)
	fmt.Fprintf(&b, "Lines: %d-%d\n", symbol.StartLine, symbol.EndLine)
	if modulePath != "" {
		fmt.Fprintf(&b, "Module: %s\n", modulePath)
	}
	fmt.Fprintf(&b, "%s %s\n", symbol.Type, symbol.Name)
	if symbol.DocComment != "" {
		fmt.Fprintf(&b, "%s\n", symbol.DocComment)
	}
	if n := min(len(imports), maxContextItems); n > 0 {
		fmt.Fprintf(&b, "Imports: %s\n", strings.Join(imports[:n], ", "))
	}
	if n := min(len(symbol.Calls), maxContextItems); n > 0 {
		fmt.Fprintf(&b, "Calls: %s\n", strings.Join(symbol.Calls[:n], ", "))
	}
	b.WriteString("\n")
	b.WriteString(rawContent)

	return b.String()
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}

// deriveModulePath derives a module path from the file's directory layout:
// the directory containing the file, with path separators normalized to "/".
// A file at the project root has an empty module path.
func deriveModulePath(filePath string) string {
	dir := strings.TrimSuffix(filePath, "/"+pathBase(filePath))
	if dir == filePath {
		return ""
	}
	return strings.ReplaceAll(dir, "\\", "/")
}

func pathBase(p string) string {
	p = strings.ReplaceAll(p, "\\", "/")
	if idx := strings.LastIndex(p, "/"); idx >= 0 {
		return p[idx+1:]
	}
	return p
}

// extractImportNames pulls a flat, ordered list of import identifiers from
// the file header, independent of extractFileContext's raw-text join (used
// for display context), for use in the embedding-text Imports field.
func extractImportNames(tree *Tree, language string) []string {
	var names []string
	seen := make(map[string]bool)
	add := func(name string) {
		if name != "" && !seen[name] {
			seen[name] = true
			names = append(names, name)
		}
	}

	switch language {
	case "go":
		for _, spec := range tree.Root.FindAllByType("import_spec") {
			if pathNode := spec.FindChildByType("interpreted_string_literal"); pathNode != nil {
				add(strings.Trim(pathNode.GetContent(tree.Source), `"`))
			}
		}
	case "typescript", "tsx", "javascript", "jsx":
		for _, stmt := range tree.Root.FindChildrenByType("import_statement") {
			if src := stmt.FindChildByType("string"); src != nil {
				add(strings.Trim(src.GetContent(tree.Source), `"'`))
			}
		}
	case "python":
		for _, stmt := range tree.Root.FindAllByType("import_from_statement") {
			for _, child := range stmt.Children {
				if child.Type == "dotted_name" || child.Type == "relative_import" {
					add(child.GetContent(tree.Source))
					break
				}
			}
		}
		for _, stmt := range tree.Root.FindAllByType("import_statement") {
			for _, child := range stmt.Children {
				if child.Type == "dotted_name" {
					add(child.GetContent(tree.Source))
				}
			}
		}
	}

	return names
}

// callNodeTypes maps a language to the tree-sitter node type identifying a
// call expression.
var callNodeTypes = map[string]string{
	"go":         "call_expression",
	"typescript": "call_expression",
	"tsx":        "call_expression",
	"javascript": "call_expression",
	"jsx":        "call_expression",
	"python":     "call",
}

// extractOutgoingCalls walks a symbol's body for call-position identifiers,
// returning them de-duplicated in order of first appearance. Resolution is
// purely textual; no cross-file or type resolution is attempted here.
func extractOutgoingCalls(node *Node, source []byte, language string) []string {
	callType, ok := callNodeTypes[language]
	if !ok {
		return nil
	}

	var calls []string
	seen := make(map[string]bool)
	for _, call := range node.FindAllByType(callType) {
		if len(call.Children) == 0 {
			continue
		}
		callee := calleeName(call.Children[0], source)
		if callee != "" && !seen[callee] {
			seen[callee] = true
			calls = append(calls, callee)
		}
	}
	return calls
}

// calleeName extracts the rightmost identifier component of a call
// expression's callee (e.g. "pkg.Func" -> "Func", "obj.method" -> "method").
func calleeName(n *Node, source []byte) string {
	switch n.Type {
	case "identifier", "field_identifier", "property_identifier":
		return n.GetContent(source)
	case "selector_expression", "member_expression", "attribute":
		if len(n.Children) > 0 {
			return calleeName(n.Children[len(n.Children)-1], source)
		}
	}
	return ""
}

// extractFileContext extracts package declaration and imports from a file
func (c *CodeChunker) extractFileContext(tree *Tree, source []byte, language string) string {
	var parts []string

	switch language {
	case "go":
		parts = c.extractGoContext(tree, source)
	case "typescript", "tsx":
		parts = c.extractTSContext(tree, source)
	case "javascript", "jsx":
		parts = c.extractJSContext(tree, source)
	case "python":
		parts = c.extractPythonContext(tree, source)
	}

	return strings.Join(parts, "\n\n")
}

func (c *CodeChunker) extractGoContext(tree *Tree, source []byte) []string {
	var parts []string

	// Find package clause
	for _, node := range tree.Root.Children {
		if node.Type == "package_clause" {
			parts = append(parts, node.GetContent(source))
			break
		}
	}

	// Find import declarations
	for _, node := range tree.Root.Children {
		if node.Type == "import_declaration" {
			parts = append(parts, node.GetContent(source))
		}
	}

	return parts
}

func (c *CodeChunker) extractTSContext(tree *Tree, source []byte) []string {
	return c.extractJSContext(tree, source) // Same for TS/TSX
}

func (c *CodeChunker) extractJSContext(tree *Tree, source []byte) []string {
	var parts []string

	// Find import statements
	for _, node := range tree.Root.Children {
		if node.Type == "import_statement" {
			parts = append(parts, node.GetContent(source))
		}
	}

	return parts
}

func (c *CodeChunker) extractPythonContext(tree *Tree, source []byte) []string {
	var parts []string

	// Find import statements
	for _, node := range tree.Root.Children {
		if node.Type == "import_statement" || node.Type == "import_from_statement" {
			parts = append(parts, node.GetContent(source))
		}
	}

	return parts
}

// chunkByLines is the fallback for unsupported languages
func (c *CodeChunker) chunkByLines(file *FileInput) ([]*Chunk, error) {
	content := string(file.Content)
	if strings.TrimSpace(content) == "" {
		return nil, nil
	}

	lines := strings.Split(content, "\n")
	linesPerChunk := 128 // ~512 tokens at 4 chars per token, 80 chars per line
	overlapLines := 16   // ~64 tokens overlap

	var chunks []*Chunk
	now := time.Now()

	for i := 0; i < len(lines); {
		end := i + linesPerChunk
		if end > len(lines) {
			end = len(lines)
		}

		chunkContent := strings.Join(lines[i:end], "\n")
		startLine := i + 1 // 1-indexed
		endLine := end     // Inclusive

		chunk := &Chunk{
			ID:          generateChunkID(file.Path, chunkContent),
			FilePath:    file.Path,
			Content:     chunkContent,
			RawContent:  chunkContent,
			Context:     "",
			ContentType: ContentTypeText,
			Language:    file.Language,
			StartLine:   startLine,
			EndLine:     endLine,
			Symbols:     nil,
			Metadata:    make(map[string]string),
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		chunks = append(chunks, chunk)

		// Move forward with overlap
		i = end - overlapLines
		if i <= 0 || end >= len(lines) {
			break
		}
	}

	return chunks, nil
}

// generateChunkID generates a content-addressable chunk ID from file path and content.
// The ID is derived from filePath and content hash, making it stable across line number
// shifts while preserving file context. This is critical for checkpoint/resume to work
// correctly when files are modified between indexing sessions (BUG-052).
//
// Properties:
//   - Same content in same file = same ID (stable across line shifts)
//   - Different content in same file = different ID (triggers re-embedding)
//   - Same content in different files = different IDs (preserves file context)
func generateChunkID(filePath string, content string) string {
	// Hash the content first
	contentHash := sha256.Sum256([]byte(content))
	contentHashStr := hex.EncodeToString(contentHash[:])[:16]

	// Combine with file path for uniqueness per file
	input := fmt.Sprintf("%s:%s", filePath, contentHashStr)
	hash := sha256.Sum256([]byte(input))
	return hex.EncodeToString(hash[:])[:16]
}

// estimateTokens estimates the number of tokens in content
func estimateTokens(content string) int {
	return len(content) / TokensPerChar
}

// enrichContextWithFilePath prepends a file path marker to the context.
// This helps embedding models understand file location and scope.
// The marker format is language-appropriate (// for Go/JS/TS, # for Python).
func (c *CodeChunker) enrichContextWithFilePath(filePath, language, existingContext string) string {
	if filePath == "" {
		return existingContext
	}

	// Use language-appropriate comment syntax
	var marker string
	switch language {
	case "python":
		marker = fmt.Sprintf("# File: %s", filePath)
	default:
		// Go, TypeScript, JavaScript, etc. use //
		marker = fmt.Sprintf("// File: %s", filePath)
	}

	if existingContext == "" {
		return marker
	}
	return marker + "\n" + existingContext
}
