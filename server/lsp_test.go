package server

import (
	"strings"
	"testing"

	protocol "github.com/tliron/glsp/protocol_3_16"

	"github.com/viwo/viwo/engine"
	"github.com/viwo/viwo/store"
)

func newTestEngine(t *testing.T) *engine.Engine {
	t.Helper()
	s, err := store.Open(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })
	e, err := engine.New(nil, s)
	if err != nil {
		t.Fatal(err)
	}
	return e
}

// ---------------------------------------------------------------------------
// LSP text extraction helpers
// ---------------------------------------------------------------------------

func TestExtractPrefix(t *testing.T) {
	tests := []struct {
		name string
		text string
		pos  protocol.Position
		want string
	}{
		{"simple", "(list.ma", protocol.Position{Line: 0, Character: 8}, "list.ma"},
		{"operator", "(<=", protocol.Position{Line: 0, Character: 3}, "<="},
		{"empty line", "", protocol.Position{Line: 0, Character: 0}, ""},
		{"multi line", "(seq\n  (obj.g", protocol.Position{Line: 1, Character: 8}, "obj.g"},
		{"after paren", "(", protocol.Position{Line: 0, Character: 1}, ""},
		{"cursor at beginning", "hello", protocol.Position{Line: 0, Character: 0}, ""},
		{"line beyond document", "single", protocol.Position{Line: 5, Character: 0}, ""},
		{"past end of line", "(var x", protocol.Position{Line: 0, Character: 40}, "x"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := extractPrefix(tt.text, tt.pos); got != tt.want {
				t.Errorf("extractPrefix = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestExtractWord(t *testing.T) {
	tests := []struct {
		name string
		text string
		pos  protocol.Position
		want string
	}{
		{"middle", "(list.map xs f)", protocol.Position{Line: 0, Character: 4}, "list.map"},
		{"at end", "(var total)", protocol.Position{Line: 0, Character: 10}, "total"},
		{"in string", `(let "x" 1)`, protocol.Position{Line: 0, Character: 6}, "x"},
		{"at paren", "()", protocol.Position{Line: 0, Character: 1}, ""},
		{"second line", "(seq\n (str.len s))", protocol.Position{Line: 1, Character: 3}, "str.len"},
		{"line beyond document", "x", protocol.Position{Line: 3, Character: 0}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := extractWord(tt.text, tt.pos); got != tt.want {
				t.Errorf("extractWord = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestBoolPtr(t *testing.T) {
	p := boolPtr(true)
	if p == nil {
		t.Fatal("boolPtr should not return nil")
	}
	if *p != true {
		t.Errorf("boolPtr(true) = %v, want true", *p)
	}
}

// ---------------------------------------------------------------------------
// Document scanning
// ---------------------------------------------------------------------------

const sample = `(seq
  (let total 0)
  (for item (list.new 1 2 3)
    (set total (+ (var total) (var item))))
  (let double (lambda (n) (* (var n) 2)))
  (apply (var double) (var total)))`

func TestScanBindings(t *testing.T) {
	d := scan(sample)
	var defs, uses []string
	for _, b := range d.bindings {
		if b.defines {
			defs = append(defs, b.name.Literal)
		} else {
			uses = append(uses, b.name.Literal)
		}
	}
	if got := strings.Join(defs, " "); got != "total item double n" {
		t.Errorf("definitions = %q, want %q", got, "total item double n")
	}
	if got := strings.Join(uses, " "); got != "total total item n double total" {
		t.Errorf("uses = %q", got)
	}
}

func TestScanHeads(t *testing.T) {
	d := scan(`(seq (let x 1) () (nope))`)
	var heads []string
	for _, h := range d.heads {
		heads = append(heads, h.Literal)
	}
	if got := strings.Join(heads, ","); got != "seq,let,),nope" {
		t.Errorf("heads = %q, want seq,let,),nope", got)
	}
}

func TestTokenRange(t *testing.T) {
	d := scan("(let\n  \"name\" 1)")
	tok := d.bindings[0].name
	r := tokenRange(tok)
	if r.Start.Line != 1 || r.Start.Character != 2 || r.End.Character != 8 {
		t.Errorf("range = %+v, want line 1 chars 2-8", r)
	}
}

// ---------------------------------------------------------------------------
// Engine-backed logic
// ---------------------------------------------------------------------------

func TestComplete(t *testing.T) {
	e := newTestEngine(t)
	items := complete(e, sample, "list.")
	if len(items) == 0 {
		t.Fatal("complete for 'list.' returned nothing")
	}
	found := false
	for _, item := range items {
		if !strings.HasPrefix(item.Label, "list.") {
			t.Errorf("unexpected completion %q", item.Label)
		}
		if item.Label == "list.map" {
			found = true
			if item.Kind == nil || *item.Kind != protocol.CompletionItemKindFunction {
				t.Error("list.map completion should have Kind=Function")
			}
		}
	}
	if !found {
		t.Error("complete for 'list.' should include list.map")
	}

	items = complete(e, sample, "tot")
	if len(items) != 1 || items[0].Label != "total" || *items[0].Kind != protocol.CompletionItemKindVariable {
		t.Errorf("complete for 'tot' = %+v, want the variable total", items)
	}
}

func TestCompleteKernelOpcodes(t *testing.T) {
	items := complete(newTestEngine(t), "", "give_")
	if len(items) != 1 || items[0].Label != "give_capability" {
		t.Errorf("complete for 'give_' = %+v", items)
	}
}

func TestHoverOpcode(t *testing.T) {
	h := hover(newTestEngine(t), "", "list.map")
	if h == nil {
		t.Fatal("hover for list.map returned nil")
	}
	mc, ok := h.Contents.(protocol.MarkupContent)
	if !ok {
		t.Fatal("hover contents should be MarkupContent")
	}
	if mc.Kind != protocol.MarkupKindMarkdown {
		t.Errorf("hover markup kind = %q, want %q", mc.Kind, protocol.MarkupKindMarkdown)
	}
	for _, want := range []string{"**list.map**", "(Map)", "`(list.map list func)`"} {
		if !strings.Contains(mc.Value, want) {
			t.Errorf("hover missing %q:\n%s", want, mc.Value)
		}
	}
}

func TestHoverVariableAndUnknown(t *testing.T) {
	e := newTestEngine(t)
	h := hover(e, sample, "total")
	if h == nil {
		t.Fatal("hover for variable returned nil")
	}
	if mc := h.Contents.(protocol.MarkupContent); !strings.Contains(mc.Value, "bound by `let` on line 2") {
		t.Errorf("hover = %q", mc.Value)
	}
	if h := hover(e, sample, "nothing_here"); h != nil {
		t.Errorf("hover for unknown word = %+v, want nil", h)
	}
}

func TestDefinitionAndReferences(t *testing.T) {
	uri := protocol.DocumentUri("file:///sample.vs")
	defs := definition(uri, sample, "total")
	if len(defs) != 1 {
		t.Fatalf("definitions of total = %d, want 1", len(defs))
	}
	if defs[0].URI != uri || defs[0].Range.Start.Line != 1 || defs[0].Range.Start.Character != 7 {
		t.Errorf("definition = %+v, want line 1 char 7", defs[0])
	}
	if refs := references(uri, sample, "total"); len(refs) != 4 {
		t.Errorf("references of total = %d, want 4", len(refs))
	}
	if defs := definition(uri, sample, "list.new"); len(defs) != 0 {
		t.Errorf("definition of an opcode = %+v, want none", defs)
	}
}

func TestDiagnoseSyntaxError(t *testing.T) {
	diags := diagnose(newTestEngine(t), "(seq\n  (+ 1 2)")
	if len(diags) != 1 {
		t.Fatalf("diagnostics = %+v, want 1", diags)
	}
	if *diags[0].Severity != protocol.DiagnosticSeverityError {
		t.Errorf("severity = %v, want error", *diags[0].Severity)
	}
}

func TestDiagnoseUnknownOpcode(t *testing.T) {
	diags := diagnose(newTestEngine(t), "(seq\n  (frobnicate 1)\n  (+ 1 2))")
	if len(diags) != 1 {
		t.Fatalf("diagnostics = %+v, want 1", diags)
	}
	d := diags[0]
	if *d.Severity != protocol.DiagnosticSeverityWarning {
		t.Errorf("severity = %v, want warning", *d.Severity)
	}
	if d.Message != "Unknown opcode: frobnicate" {
		t.Errorf("message = %q", d.Message)
	}
	if d.Range.Start.Line != 1 || d.Range.Start.Character != 3 {
		t.Errorf("range = %+v, want line 1 char 3", d.Range)
	}
}

func TestDiagnoseDangerousKey(t *testing.T) {
	diags := diagnose(newTestEngine(t), `(obj.get (obj.new) "__proto__")`)
	if len(diags) != 1 {
		t.Fatalf("diagnostics = %+v, want 1", diags)
	}
	if !strings.Contains(diags[0].Message, "dangerous key") {
		t.Errorf("message = %q", diags[0].Message)
	}
	if diags[0].Range.Start.Character != 19 {
		t.Errorf("range = %+v, want char 19", diags[0].Range)
	}
}

func TestDiagnoseClean(t *testing.T) {
	if diags := diagnose(newTestEngine(t), sample); len(diags) != 0 {
		t.Errorf("diagnostics = %+v, want none", diags)
	}
}

// ---------------------------------------------------------------------------
// LSP document synchronization state
// ---------------------------------------------------------------------------

func TestDocumentStore(t *testing.T) {
	lsp := &LspServer{docs: make(map[string]string)}

	lsp.mu.Lock()
	lsp.docs["file:///test.vs"] = "(+ 1 2)"
	lsp.mu.Unlock()

	text, ok := lsp.document("file:///test.vs")
	if !ok || text != "(+ 1 2)" {
		t.Errorf("document = %q, %v", text, ok)
	}

	lsp.mu.Lock()
	delete(lsp.docs, "file:///test.vs")
	lsp.mu.Unlock()

	if _, ok := lsp.document("file:///test.vs"); ok {
		t.Error("document should be removed after close")
	}
}
