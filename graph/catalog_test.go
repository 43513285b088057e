package graph

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"reflect"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

const linearJSON = `{
	"nodes": [
		{"id": "start", "type": "start"},
		{"id": "review", "type": "approval", "role": "clerk"},
		{"id": "end", "type": "end"}
	],
	"transitions": [
		{"from": "start", "to": "review"},
		{"from": "review", "to": "end"}
	]
}`

func writeTemplate(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o600); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
}

func TestDirLoader(t *testing.T) {
	dir := t.TempDir()
	writeTemplate(t, dir, "contract.yaml", contractYAML)
	writeTemplate(t, dir, "linear.json", linearJSON)
	writeTemplate(t, dir, "mismatch.yml", "id: other\nnodes: []\n")
	writeTemplate(t, dir, "notes.txt", "not a template")

	load := DirLoader(dir)
	ctx := context.Background()

	t.Run("yaml", func(t *testing.T) {
		m, err := load(ctx, "contract")
		if err != nil {
			t.Fatalf("load: %v", err)
		}
		if m.ID != "contract" || len(m.Nodes) != 5 {
			t.Errorf("unexpected model %q with %d nodes", m.ID, len(m.Nodes))
		}
	})

	t.Run("json without id", func(t *testing.T) {
		m, err := load(ctx, "linear")
		if err != nil {
			t.Fatalf("load: %v", err)
		}
		if m.ID != "linear" {
			t.Errorf("expected id from file name, got %q", m.ID)
		}
	})

	t.Run("declared id mismatch", func(t *testing.T) {
		if _, err := load(ctx, "mismatch"); err == nil || errors.Is(err, fs.ErrNotExist) {
			t.Errorf("expected mismatch error, got %v", err)
		}
	})

	for _, id := range []string{"missing", "", "../contract", "sub/contract", `sub\contract`} {
		t.Run("not found "+id, func(t *testing.T) {
			if _, err := load(ctx, id); !errors.Is(err, fs.ErrNotExist) {
				t.Errorf("expected fs.ErrNotExist, got %v", err)
			}
		})
	}
}

func TestListTemplates(t *testing.T) {
	dir := t.TempDir()
	writeTemplate(t, dir, "b.yaml", contractYAML)
	writeTemplate(t, dir, "a.json", linearJSON)
	writeTemplate(t, dir, "a.yml", contractYAML)
	writeTemplate(t, dir, "readme.md", "#")
	if err := os.Mkdir(filepath.Join(dir, "c.json"), 0o700); err != nil {
		t.Fatal(err)
	}

	ids, err := ListTemplates(dir)
	if err != nil {
		t.Fatalf("ListTemplates: %v", err)
	}
	if !reflect.DeepEqual(ids, []string{"a", "b"}) {
		t.Errorf("expected [a b], got %v", ids)
	}

	if _, err := ListTemplates(filepath.Join(dir, "nope")); err == nil {
		t.Error("expected error for missing directory")
	}
}

func TestCatalog_Get(t *testing.T) {
	dir := t.TempDir()
	writeTemplate(t, dir, "contract.yaml", contractYAML)
	writeTemplate(t, dir, "broken.json", `{"nodes": [{"id": "end", "type": "end"}]}`)

	c := NewCatalog(DirLoader(dir))
	ctx := context.Background()

	ix, err := c.Get(ctx, "contract")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	again, _ := c.Get(ctx, "contract")
	if ix != again {
		t.Error("expected cached index on second Get")
	}
	if !reflect.DeepEqual(c.Cached(), []string{"contract"}) {
		t.Errorf("unexpected cache %v", c.Cached())
	}

	t.Run("not found", func(t *testing.T) {
		_, err := c.Get(ctx, "missing")
		if !HasCode(err, CodeTemplateNotFound) || !errors.Is(err, fs.ErrNotExist) {
			t.Errorf("expected TEMPLATE_NOT_FOUND, got %v", err)
		}
	})

	t.Run("invalid template", func(t *testing.T) {
		_, err := c.Get(ctx, "broken")
		if !errors.Is(err, ErrInvalidModel) {
			t.Errorf("expected ErrInvalidModel, got %v", err)
		}
		if len(c.Cached()) != 1 {
			t.Error("invalid templates must not be cached")
		}
	})

	t.Run("invalidate reloads", func(t *testing.T) {
		c.Invalidate("contract")
		if len(c.Cached()) != 0 {
			t.Fatalf("expected empty cache, got %v", c.Cached())
		}
		reloaded, err := c.Get(ctx, "contract")
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if reloaded == ix {
			t.Error("expected a fresh index after Invalidate")
		}
	})
}

func TestCatalog_SingleLoad(t *testing.T) {
	var loads atomic.Int32
	release := make(chan struct{})
	load := func(context.Context, string) (*Model, error) {
		loads.Add(1)
		<-release
		return linearModel(), nil
	}
	c := NewCatalog(load)

	const callers = 8
	var wg sync.WaitGroup
	results := make([]*Index, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ix, err := c.Get(context.Background(), "linear")
			if err != nil {
				t.Errorf("Get: %v", err)
			}
			results[i] = ix
		}(i)
	}
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	if n := loads.Load(); n != 1 {
		t.Errorf("expected a single load, got %d", n)
	}
	for i := 1; i < callers; i++ {
		if results[i] != results[0] {
			t.Fatal("all callers should share the same index")
		}
	}
}

func TestCatalog_LoadSurvivesCancelledCaller(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	load := func(ctx context.Context, _ string) (*Model, error) {
		close(started)
		<-release
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return linearModel(), nil
	}
	c := NewCatalog(load)

	first, cancel := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := c.Get(first, "linear")
		firstErr <- err
	}()
	<-started

	second := make(chan error, 1)
	go func() {
		_, err := c.Get(context.Background(), "linear")
		second <- err
	}()
	time.Sleep(20 * time.Millisecond)
	cancel()
	close(release)

	if err := <-second; err != nil {
		t.Errorf("expected the waiting caller to get the index, got %v", err)
	}
	if err := <-firstErr; err != nil {
		t.Errorf("expected the shared load to ignore cancellation, got %v", err)
	}
	if got := c.Cached(); len(got) != 1 || got[0] != "linear" {
		t.Errorf("expected linear cached, got %v", got)
	}
}

func TestCatalog_LoaderError(t *testing.T) {
	boom := errors.New("backend down")
	c := NewCatalog(func(context.Context, string) (*Model, error) { return nil, boom })

	_, err := c.Get(context.Background(), "x")
	if !errors.Is(err, boom) {
		t.Fatalf("expected loader error, got %v", err)
	}
	if HasCode(err, CodeTemplateNotFound) {
		t.Error("a failing loader is not a missing template")
	}
}

func TestCatalog_Put(t *testing.T) {
	c := NewCatalog(nil)

	if _, err := c.Put(&Model{}); !errors.Is(err, ErrInvalidModel) {
		t.Errorf("expected ErrInvalidModel for empty id, got %v", err)
	}

	m := linearModel()
	ix, err := c.Put(m)
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	m.Nodes[1].Role = "changed"
	if n, _ := ix.Node("review"); n.Role != "manager" {
		t.Error("catalog must hold a private copy")
	}

	got, err := c.Get(context.Background(), "linear")
	if err != nil || got != ix {
		t.Errorf("expected the put index, got %v (%v)", got, err)
	}
	if _, err := c.Get(context.Background(), "other"); !HasCode(err, CodeTemplateNotFound) {
		t.Errorf("expected TEMPLATE_NOT_FOUND without loader, got %v", err)
	}
}
