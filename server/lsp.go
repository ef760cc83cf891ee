package server

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"unicode"

	"github.com/tliron/commonlog"
	"github.com/tliron/glsp"
	protocol "github.com/tliron/glsp/protocol_3_16"
	glspserver "github.com/tliron/glsp/server"

	"github.com/viwo/viwo/compiler"
	"github.com/viwo/viwo/engine"
	"github.com/viwo/viwo/syntax"
	"github.com/viwo/viwo/vm"

	_ "github.com/tliron/commonlog/simple"
)

const lspName = "viwo-lsp"

var log = commonlog.GetLogger("viwo.server")

// LspServer bridges LSP editor features to the script engine via its Worker.
type LspServer struct {
	worker *engine.Worker

	mu   sync.Mutex
	docs map[string]string // URI → full document content

	handler protocol.Handler
	server  *glspserver.Server
	version string
}

// NewLSP creates a new LSP server wrapping the given engine.
func NewLSP(e *engine.Engine) *LspServer {
	s := &LspServer{
		worker:  engine.NewWorker(e),
		docs:    make(map[string]string),
		version: "0.1.0",
	}

	s.handler = protocol.Handler{
		Initialize:  s.initialize,
		Initialized: s.initialized,
		Shutdown:    s.shutdown,
		SetTrace:    s.setTrace,

		TextDocumentDidOpen:   s.textDocumentDidOpen,
		TextDocumentDidChange: s.textDocumentDidChange,
		TextDocumentDidClose:  s.textDocumentDidClose,

		TextDocumentCompletion: s.textDocumentCompletion,
		TextDocumentHover:      s.textDocumentHover,
		TextDocumentDefinition: s.textDocumentDefinition,
		TextDocumentReferences: s.textDocumentReferences,
	}

	s.server = glspserver.NewServer(&s.handler, lspName, false)

	return s
}

// Run starts the LSP server on stdio. Blocks until the client disconnects.
func (s *LspServer) Run() error {
	return s.server.RunStdio()
}

// --- LSP lifecycle handlers ---

func (s *LspServer) initialize(ctx *glsp.Context, params *protocol.InitializeParams) (any, error) {
	log.Info("viwo LSP initializing")

	capabilities := s.handler.CreateServerCapabilities()

	syncKind := protocol.TextDocumentSyncKindFull
	capabilities.TextDocumentSync = &protocol.TextDocumentSyncOptions{
		OpenClose: boolPtr(true),
		Change:    &syncKind,
	}

	capabilities.CompletionProvider = &protocol.CompletionOptions{
		TriggerCharacters: []string{"(", "."},
	}

	capabilities.HoverProvider = true
	capabilities.DefinitionProvider = true
	capabilities.ReferencesProvider = true

	return protocol.InitializeResult{
		Capabilities: capabilities,
		ServerInfo: &protocol.InitializeResultServerInfo{
			Name:    lspName,
			Version: &s.version,
		},
	}, nil
}

func (s *LspServer) initialized(ctx *glsp.Context, params *protocol.InitializedParams) error {
	return nil
}

func (s *LspServer) shutdown(ctx *glsp.Context) error {
	s.worker.Stop()
	return nil
}

func (s *LspServer) setTrace(ctx *glsp.Context, params *protocol.SetTraceParams) error {
	return nil
}

// --- Document synchronization ---

func (s *LspServer) textDocumentDidOpen(ctx *glsp.Context, params *protocol.DidOpenTextDocumentParams) error {
	uri := params.TextDocument.URI
	text := params.TextDocument.Text

	s.mu.Lock()
	s.docs[string(uri)] = text
	s.mu.Unlock()

	s.publishDiagnostics(ctx, uri, text)
	return nil
}

func (s *LspServer) textDocumentDidChange(ctx *glsp.Context, params *protocol.DidChangeTextDocumentParams) error {
	uri := params.TextDocument.URI

	// With Full sync, the last change event contains the full text
	if len(params.ContentChanges) > 0 {
		last := params.ContentChanges[len(params.ContentChanges)-1]
		if whole, ok := last.(protocol.TextDocumentContentChangeEventWhole); ok {
			s.mu.Lock()
			s.docs[string(uri)] = whole.Text
			s.mu.Unlock()

			s.publishDiagnostics(ctx, uri, whole.Text)
		}
	}
	return nil
}

func (s *LspServer) textDocumentDidClose(ctx *glsp.Context, params *protocol.DidCloseTextDocumentParams) error {
	uri := params.TextDocument.URI

	s.mu.Lock()
	delete(s.docs, string(uri))
	s.mu.Unlock()

	// Clear diagnostics for the closed document
	go ctx.Notify(protocol.ServerTextDocumentPublishDiagnostics, protocol.PublishDiagnosticsParams{
		URI:         uri,
		Diagnostics: []protocol.Diagnostic{},
	})
	return nil
}

func (s *LspServer) document(uri protocol.DocumentUri) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	text, ok := s.docs[string(uri)]
	return text, ok
}

// --- Language features ---

func (s *LspServer) textDocumentCompletion(ctx *glsp.Context, params *protocol.CompletionParams) (any, error) {
	text, ok := s.document(params.TextDocument.URI)
	if !ok {
		return nil, nil
	}

	prefix := extractPrefix(text, params.Position)
	if prefix == "" {
		return nil, nil
	}

	return s.worker.Do(context.Background(), func(e *engine.Engine) (any, error) {
		return complete(e, text, prefix), nil
	})
}

func (s *LspServer) textDocumentHover(ctx *glsp.Context, params *protocol.HoverParams) (*protocol.Hover, error) {
	text, ok := s.document(params.TextDocument.URI)
	if !ok {
		return nil, nil
	}

	word := extractWord(text, params.Position)
	if word == "" {
		return nil, nil
	}

	result, err := s.worker.Do(context.Background(), func(e *engine.Engine) (any, error) {
		return hover(e, text, word), nil
	})
	if err != nil || result == nil {
		return nil, nil
	}
	return result.(*protocol.Hover), nil
}

func (s *LspServer) textDocumentDefinition(ctx *glsp.Context, params *protocol.DefinitionParams) (any, error) {
	uri := params.TextDocument.URI
	text, ok := s.document(uri)
	if !ok {
		return nil, nil
	}

	word := extractWord(text, params.Position)
	if word == "" {
		return nil, nil
	}

	locations := definition(uri, text, word)
	if len(locations) == 0 {
		return nil, nil
	}
	return locations, nil
}

func (s *LspServer) textDocumentReferences(ctx *glsp.Context, params *protocol.ReferenceParams) ([]protocol.Location, error) {
	uri := params.TextDocument.URI
	text, ok := s.document(uri)
	if !ok {
		return nil, nil
	}

	word := extractWord(text, params.Position)
	if word == "" {
		return nil, nil
	}

	return references(uri, text, word), nil
}

// --- Engine-backed logic (called on worker goroutine) ---

// complete offers opcodes and the document's variables starting with prefix.
func complete(e *engine.Engine, text, prefix string) []protocol.CompletionItem {
	var items []protocol.CompletionItem

	for _, info := range e.Ops.Metadata() {
		if !strings.HasPrefix(info.Opcode, prefix) {
			continue
		}
		kind := protocol.CompletionItemKindFunction
		detail := info.Label
		if detail == "" {
			detail = "opcode"
		}
		name := info.Opcode
		item := protocol.CompletionItem{
			Label:      name,
			Kind:       &kind,
			Detail:     &detail,
			InsertText: &name,
		}
		if info.Description != "" {
			item.Documentation = info.Description
		}
		items = append(items, item)
	}

	seen := map[string]bool{}
	for _, b := range scan(text).bindings {
		name := b.name.Literal
		if seen[name] || !strings.HasPrefix(name, prefix) {
			continue
		}
		seen[name] = true
		kind := protocol.CompletionItemKindVariable
		detail := "variable"
		nameCopy := name
		items = append(items, protocol.CompletionItem{
			Label:      name,
			Kind:       &kind,
			Detail:     &detail,
			InsertText: &nameCopy,
		})
	}

	// Limit results
	const maxItems = 100
	if len(items) > maxItems {
		items = items[:maxItems]
	}

	return items
}

// hover documents an opcode, or names a variable bound in the document.
func hover(e *engine.Engine, text, word string) *protocol.Hover {
	if op, ok := e.Ops.Lookup(word); ok {
		return markdown(opcodeDoc(word, op.Metadata))
	}
	for _, b := range scan(text).bindings {
		if b.name.Literal == word && b.defines {
			return markdown(fmt.Sprintf("variable `%s`, bound by `%s` on line %d", word, b.by, b.name.Pos.Line))
		}
	}
	return nil
}

func opcodeDoc(name string, meta vm.Metadata) string {
	var b strings.Builder
	fmt.Fprintf(&b, "**%s**", name)
	if meta.Label != "" {
		fmt.Fprintf(&b, " (%s)", meta.Label)
	}
	b.WriteString("\n\n")

	params := make([]string, len(meta.Parameters))
	for i, p := range meta.Parameters {
		params[i] = p.Name
		if p.Optional {
			params[i] = "[" + p.Name + "]"
		}
	}
	ret := meta.ReturnType
	if ret == "" {
		ret = "any"
	}
	fmt.Fprintf(&b, "`(%s)` → `%s`\n", strings.TrimSpace(name+" "+strings.Join(params, " ")), ret)

	if meta.Description != "" {
		fmt.Fprintf(&b, "\n%s\n", meta.Description)
	}
	if len(meta.Parameters) > 0 {
		b.WriteString("\n")
		for _, p := range meta.Parameters {
			fmt.Fprintf(&b, "- `%s` %s", p.Name, p.Type)
			if p.Description != "" {
				fmt.Fprintf(&b, ": %s", p.Description)
			}
			b.WriteString("\n")
		}
	}
	if meta.Lazy {
		b.WriteString("\nArguments are evaluated by the opcode itself.\n")
	}
	return b.String()
}

func markdown(s string) *protocol.Hover {
	return &protocol.Hover{
		Contents: protocol.MarkupContent{
			Kind:  protocol.MarkupKindMarkdown,
			Value: s,
		},
	}
}

// definition returns where word is bound in the document.
func definition(uri protocol.DocumentUri, text, word string) []protocol.Location {
	var locations []protocol.Location
	for _, b := range scan(text).bindings {
		if b.defines && b.name.Literal == word {
			locations = append(locations, protocol.Location{URI: uri, Range: tokenRange(b.name)})
		}
	}
	return locations
}

// references returns every binding and use of the variable word.
func references(uri protocol.DocumentUri, text, word string) []protocol.Location {
	var locations []protocol.Location
	for _, b := range scan(text).bindings {
		if b.name.Literal == word {
			locations = append(locations, protocol.Location{URI: uri, Range: tokenRange(b.name)})
		}
	}
	return locations
}

// --- Diagnostics ---

func (s *LspServer) publishDiagnostics(ctx *glsp.Context, uri protocol.DocumentUri, text string) {
	result, err := s.worker.Do(context.Background(), func(e *engine.Engine) (any, error) {
		return diagnose(e, text), nil
	})
	if err != nil {
		log.Warningf("diagnostics for %s: %s", uri, err)
		return
	}

	go ctx.Notify(protocol.ServerTextDocumentPublishDiagnostics, protocol.PublishDiagnosticsParams{
		URI:         uri,
		Diagnostics: result.([]protocol.Diagnostic),
	})
}

// diagnose reports syntax errors, references to unregistered opcodes and
// programs the compiler rejects.
func diagnose(e *engine.Engine, text string) []protocol.Diagnostic {
	diagnostics := []protocol.Diagnostic{}

	nodes, err := syntax.Parse(text)
	if err != nil {
		var se *syntax.Error
		rng := protocol.Range{}
		msg := err.Error()
		if errors.As(err, &se) {
			rng = pointRange(se.Pos)
			msg = se.Msg
		}
		return append(diagnostics, diagnostic(rng, protocol.DiagnosticSeverityError, msg))
	}

	doc := scan(text)
	i := 0
	var walk func(n vm.Node)
	walk = func(n vm.Node) {
		expr, ok := n.(*vm.Expr)
		if !ok {
			return
		}
		open := i
		i++
		if expr.Op != "" {
			if _, ok := e.Ops.Lookup(expr.Op); !ok && open < len(doc.heads) {
				diagnostics = append(diagnostics, diagnostic(tokenRange(doc.heads[open]),
					protocol.DiagnosticSeverityWarning, vm.UnknownOpcode(expr.Op).Error()))
			}
		}
		for _, a := range expr.Args {
			walk(a)
		}
	}
	for _, n := range nodes {
		walk(n)
	}

	for _, n := range nodes {
		if _, err := compiler.Compile(n, e.Ops); err != nil {
			rng := protocol.Range{}
			if tok, ok := doc.find(vm.DangerousKeys()); ok {
				rng = tokenRange(tok)
			}
			diagnostics = append(diagnostics, diagnostic(rng, protocol.DiagnosticSeverityError, err.Error()))
		}
	}
	return diagnostics
}

func diagnostic(rng protocol.Range, severity protocol.DiagnosticSeverity, msg string) protocol.Diagnostic {
	source := lspName
	return protocol.Diagnostic{
		Range:    rng,
		Severity: &severity,
		Source:   &source,
		Message:  msg,
	}
}

// --- Text extraction helpers ---

// isWordChar matches the characters of a script symbol.
func isWordChar(ch rune) bool {
	if unicode.IsSpace(ch) {
		return false
	}
	switch ch {
	case '(', ')', '"', ';':
		return false
	}
	return unicode.IsPrint(ch)
}

// extractPrefix returns the symbol fragment before the cursor for completion.
func extractPrefix(text string, pos protocol.Position) string {
	lines := strings.Split(text, "\n")
	if int(pos.Line) >= len(lines) {
		return ""
	}
	line := []rune(lines[pos.Line])
	col := int(pos.Character)
	if col > len(line) {
		col = len(line)
	}

	// Walk backwards from cursor to find the start of the symbol
	start := col
	for start > 0 && isWordChar(line[start-1]) {
		start--
	}

	return string(line[start:col])
}

// extractWord returns the full symbol under the cursor.
func extractWord(text string, pos protocol.Position) string {
	lines := strings.Split(text, "\n")
	if int(pos.Line) >= len(lines) {
		return ""
	}
	line := []rune(lines[pos.Line])
	col := int(pos.Character)
	if col > len(line) {
		col = len(line)
	}

	start := col
	for start > 0 && isWordChar(line[start-1]) {
		start--
	}
	end := col
	for end < len(line) && isWordChar(line[end]) {
		end++
	}

	return string(line[start:end])
}

func boolPtr(b bool) *bool {
	return &b
}
