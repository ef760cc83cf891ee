package engine

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/viwo/viwo/manifest"
	"github.com/viwo/viwo/vm"
	"github.com/viwo/viwo/world"
)

const fixture = `
entities:
  - id: 1
    name: Lobby
    props: {description: "A quiet room."}
    verbs:
      look: '(str.concat "You see " (obj.get (this) "name") ". " (call (this) "describe"))'
      describe: '(obj.get (this) "description")'
      count: '(seq (let n 0) (for x (args) (set n (+ (var n) (var x)))) (var n))'
      spin: '(while true 1)'
  - id: 2
    name: Player
`

func openEngine(t *testing.T, mode string, extra string) *Engine {
	t.Helper()
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "seed.yaml"), []byte(fixture), 0644); err != nil {
		t.Fatal(err)
	}
	toml := "[engine]\nmode = \"" + mode + "\"\n" + extra + "\n[world]\nfixture = \"seed.yaml\"\n"
	if err := os.WriteFile(filepath.Join(dir, manifest.FileName), []byte(toml), 0644); err != nil {
		t.Fatal(err)
	}
	m, err := manifest.Load(dir)
	if err != nil {
		t.Fatal(err)
	}
	e, err := Open(m)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { e.Close() })
	return e
}

func verb(t *testing.T, e *Engine, id int64, name string) *world.Verb {
	t.Helper()
	v, err := e.Store.Verb(id, name)
	if err != nil {
		t.Fatal(err)
	}
	return v
}

func TestRunModes(t *testing.T) {
	for _, mode := range []string{manifest.ModeInterpret, manifest.ModeCompile} {
		t.Run(mode, func(t *testing.T) {
			e := openEngine(t, mode, "")
			res, err := e.Run(context.Background(), Invocation{Verb: verb(t, e, 1, "look"), Caller: 2, This: 1})
			if err != nil {
				t.Fatalf("Run: %v", err)
			}
			if want := "You see Lobby. A quiet room."; res.Value != want {
				t.Errorf("look = %v, want %q", res.Value, want)
			}
			if res.GasUsed <= 0 {
				t.Errorf("gas used = %d, want > 0", res.GasUsed)
			}

			res, err = e.Run(context.Background(), Invocation{Verb: verb(t, e, 1, "count"), This: 1, Args: []any{1.0, 2.0, 3.0}})
			if err != nil {
				t.Fatalf("Run: %v", err)
			}
			if res.Value != 6.0 {
				t.Errorf("count = %v, want 6", res.Value)
			}
		})
	}
}

func TestModesUseSameGas(t *testing.T) {
	used := map[string]int64{}
	for _, mode := range []string{manifest.ModeInterpret, manifest.ModeCompile} {
		e := openEngine(t, mode, "")
		res, err := e.Run(context.Background(), Invocation{Verb: verb(t, e, 1, "look"), This: 1})
		if err != nil {
			t.Fatalf("%s: %v", mode, err)
		}
		used[mode] = res.GasUsed
	}
	if used[manifest.ModeInterpret] != used[manifest.ModeCompile] {
		t.Errorf("gas used: interpret %d, compile %d", used[manifest.ModeInterpret], used[manifest.ModeCompile])
	}
}

func TestCompileCache(t *testing.T) {
	e := openEngine(t, manifest.ModeCompile, "")
	look := verb(t, e, 1, "look")
	for i := 0; i < 3; i++ {
		if _, err := e.Run(context.Background(), Invocation{Verb: look, This: 1}); err != nil {
			t.Fatal(err)
		}
	}
	// look and the describe verb it calls.
	if got := e.CachedPrograms(); got != 2 {
		t.Errorf("cached programs = %d, want 2", got)
	}

	edited := &world.Verb{ID: look.ID, Name: look.Name, Code: vm.Lit("changed")}
	res, err := e.Run(context.Background(), Invocation{Verb: edited, This: 1})
	if err != nil {
		t.Fatal(err)
	}
	if res.Value != "changed" {
		t.Errorf("edited verb = %v, want changed", res.Value)
	}
	if got := e.CachedPrograms(); got != 3 {
		t.Errorf("cached programs = %d, want 3 after edit", got)
	}
}

func TestInterpretDoesNotCache(t *testing.T) {
	e := openEngine(t, manifest.ModeInterpret, "")
	if _, err := e.Run(context.Background(), Invocation{Verb: verb(t, e, 1, "look"), This: 1}); err != nil {
		t.Fatal(err)
	}
	if got := e.CachedPrograms(); got != 0 {
		t.Errorf("cached programs = %d, want 0", got)
	}
}

func TestDisabledOpcodes(t *testing.T) {
	e := openEngine(t, manifest.ModeInterpret, `disabled = ["random.number", "send"]`)
	_, err := e.RunSource(context.Background(), `(random.number)`, Invocation{})
	if !errors.Is(err, vm.ErrUnknownOpcode) {
		t.Errorf("random.number = %v, want UnknownOpcode", err)
	}
	if _, ok := e.Ops.Lookup("send"); ok {
		t.Error("send still registered")
	}
	if _, ok := e.Ops.Lookup("create"); !ok {
		t.Error("kernel opcode create missing")
	}
}

func TestOutOfGas(t *testing.T) {
	for _, mode := range []string{manifest.ModeInterpret, manifest.ModeCompile} {
		e := openEngine(t, mode, "gas = 50")
		_, err := e.Run(context.Background(), Invocation{Verb: verb(t, e, 1, "spin"), This: 1})
		if !errors.Is(err, vm.ErrOutOfGas) {
			t.Errorf("%s: spin = %v, want OutOfGas", mode, err)
		}
	}
}

func TestGasOverride(t *testing.T) {
	e := openEngine(t, manifest.ModeInterpret, "")
	if _, err := e.RunSource(context.Background(), `(+ 1 2)`, Invocation{Gas: 2}); !errors.Is(err, vm.ErrOutOfGas) {
		t.Errorf("with gas 2: %v, want OutOfGas", err)
	}
	res, err := e.RunSource(context.Background(), `(+ 1 2)`, Invocation{Gas: 3})
	if err != nil {
		t.Fatalf("with gas 3: %v", err)
	}
	if res.GasUsed != 3 {
		t.Errorf("gas used = %d, want 3", res.GasUsed)
	}
}

func TestWarningsAndSend(t *testing.T) {
	e := openEngine(t, manifest.ModeCompile, "")
	var sent []string
	res, err := e.RunSource(context.Background(), `(seq (warn "careful") (send "message" "hi") 1)`, Invocation{
		Send: func(typ string, payload any) { sent = append(sent, typ+":"+vm.ToString(payload)) },
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Warnings) != 1 || res.Warnings[0] != "careful" {
		t.Errorf("warnings = %v, want [careful]", res.Warnings)
	}
	if len(sent) != 1 || sent[0] != "message:hi" {
		t.Errorf("sent = %v, want [message:hi]", sent)
	}
}

func TestStackTraceIncludesVerb(t *testing.T) {
	e := openEngine(t, manifest.ModeInterpret, "")
	_, err := e.RunSource(context.Background(), `(throw "boom")`, Invocation{})
	var se *vm.ScriptError
	if !errors.As(err, &se) {
		t.Fatalf("error = %v, want ScriptError", err)
	}
	if len(se.StackTrace) != 1 || se.StackTrace[0].Name != "<main>" {
		t.Errorf("stack = %v, want [<main>]", se.StackTrace)
	}
}

func TestRunErrors(t *testing.T) {
	e := openEngine(t, manifest.ModeInterpret, "")
	if _, err := e.Run(context.Background(), Invocation{}); err == nil {
		t.Error("Run without verb succeeded")
	}
	if _, err := e.Run(context.Background(), Invocation{Verb: &world.Verb{Code: vm.Lit(1)}, This: 99}); !errors.Is(err, world.ErrEntityNotFound) {
		t.Errorf("missing this = %v, want ErrEntityNotFound", err)
	}
	if _, err := e.RunSource(context.Background(), `(+ 1`, Invocation{}); err == nil {
		t.Error("RunSource of bad syntax succeeded")
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := e.RunSource(ctx, `1`, Invocation{}); !errors.Is(err, context.Canceled) {
		t.Errorf("cancelled run = %v, want context.Canceled", err)
	}
}

func TestNewRejectsBadManifest(t *testing.T) {
	m := manifest.Default()
	m.Engine.Mode = "jit"
	if _, err := New(m, nil); err == nil {
		t.Error("New accepted mode jit")
	}
}

func TestWorkerSerializes(t *testing.T) {
	e := openEngine(t, manifest.ModeCompile, "")
	w := NewWorker(e)
	defer w.Stop()

	count := verb(t, e, 1, "count")
	var wg sync.WaitGroup
	errs := make(chan error, 20)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(n float64) {
			defer wg.Done()
			res, err := w.Run(context.Background(), Invocation{Verb: count, This: 1, Args: []any{n, 1.0}})
			if err != nil {
				errs <- err
				return
			}
			if res.Value != n+1 {
				errs <- errors.New("wrong result")
			}
		}(float64(i))
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}
}

func TestWorkerRecoversPanic(t *testing.T) {
	w := NewWorker(openEngine(t, manifest.ModeInterpret, ""))
	defer w.Stop()

	if _, err := w.Do(context.Background(), func(*Engine) (any, error) { panic("boom") }); err == nil {
		t.Error("panic not reported")
	}
	v, err := w.Do(context.Background(), func(e *Engine) (any, error) { return len(e.Typedefs()) > 0, nil })
	if err != nil || v != true {
		t.Errorf("worker after panic = %v, %v", v, err)
	}
}

func TestWorkerStop(t *testing.T) {
	w := NewWorker(openEngine(t, manifest.ModeInterpret, ""))
	w.Stop()
	w.Stop()
	if _, err := w.Do(context.Background(), func(*Engine) (any, error) { return nil, nil }); !errors.Is(err, ErrStopped) {
		t.Errorf("Do after Stop = %v, want ErrStopped", err)
	}
}
