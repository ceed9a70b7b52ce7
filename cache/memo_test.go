package cache

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/lingetic/genmemo/observe"
	"github.com/lingetic/genmemo/store"
)

func newTestMemo(t *testing.T, opts ...Option) (*Memo, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "cache.jsonl")
	m, err := Open(context.Background(), store.Config{Path: path}, opts...)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { _ = m.Close() })
	return m, path
}

func constant(v string) ComputeFunc {
	return func(context.Context) (json.RawMessage, error) {
		return json.RawMessage(v), nil
	}
}

// waitForWaiters blocks until n callers hold the gate for key.
func waitForWaiters(t *testing.T, m *Memo, key string, n int) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		m.registry.mu.Lock()
		refs := 0
		if g, ok := m.registry.gates[key]; ok {
			refs = g.refs
		}
		m.registry.mu.Unlock()
		if refs >= n {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d callers on %q", n, key)
}

func countLines(t *testing.T, path string) int {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	n := 0
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		if strings.TrimSpace(sc.Text()) != "" {
			n++
		}
	}
	return n
}

func TestMemo_HitAfterCompute(t *testing.T) {
	m, _ := newTestMemo(t)
	ctx := context.Background()

	var calls atomic.Int32
	compute := func(context.Context) (json.RawMessage, error) {
		calls.Add(1)
		return json.RawMessage(`{"explanation":"hello"}`), nil
	}

	for range 3 {
		got, err := m.GetOrCompute(ctx, "k", compute)
		if err != nil {
			t.Fatalf("GetOrCompute() error = %v", err)
		}
		if string(got) != `{"explanation":"hello"}` {
			t.Errorf("GetOrCompute() = %s", got)
		}
	}
	if calls.Load() != 1 {
		t.Errorf("compute called %d times, want 1", calls.Load())
	}

	s := m.Stats()
	if s.Hits != 2 || s.Misses != 1 || s.Computes != 1 || s.Entries != 1 {
		t.Errorf("Stats() = %+v", s)
	}
}

func TestMemo_AtMostOnceUnderConcurrency(t *testing.T) {
	m, path := newTestMemo(t)
	ctx := context.Background()

	var calls atomic.Int32
	compute := func(context.Context) (json.RawMessage, error) {
		calls.Add(1)
		time.Sleep(20 * time.Millisecond)
		return json.RawMessage(`{"n":1}`), nil
	}

	const n = 50
	start := make(chan struct{})
	results := make([]string, n)
	var wg sync.WaitGroup
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			v, err := m.GetOrCompute(ctx, "shared", compute)
			if err != nil {
				t.Errorf("GetOrCompute() error = %v", err)
				return
			}
			results[i] = string(v)
		}()
	}
	close(start)
	wg.Wait()

	if calls.Load() != 1 {
		t.Errorf("compute called %d times, want 1", calls.Load())
	}
	for i, r := range results {
		if r != `{"n":1}` {
			t.Errorf("caller %d got %q", i, r)
		}
	}
	if p := m.Stats().Pending; p != 0 {
		t.Errorf("Pending = %d after all callers returned, want 0", p)
	}
	if got := countLines(t, path); got != 1 {
		t.Errorf("store has %d records, want 1", got)
	}
}

func TestMemo_ExplainBonjour(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "explanations.jsonl")
	key := Fingerprint("explain-sentence", "bonjour", "fr", "en")

	m, err := Open(ctx, store.Config{Path: path})
	if err != nil {
		t.Fatal(err)
	}

	var calls atomic.Int32
	compute := func(context.Context) (json.RawMessage, error) {
		calls.Add(1)
		time.Sleep(50 * time.Millisecond)
		return json.RawMessage(`{"translation":"hello","words":[["bonjour","hello"]]}`), nil
	}

	var wg sync.WaitGroup
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := m.GetOrCompute(ctx, key, compute); err != nil {
				t.Errorf("GetOrCompute() error = %v", err)
			}
		}()
	}
	wg.Wait()
	if err := m.Close(); err != nil {
		t.Fatal(err)
	}

	if calls.Load() != 1 {
		t.Errorf("compute called %d times, want 1", calls.Load())
	}
	if got := countLines(t, path); got != 1 {
		t.Errorf("store has %d records, want 1", got)
	}

	// A later run resumes without computing.
	m2, err := Open(ctx, store.Config{Path: path})
	if err != nil {
		t.Fatal(err)
	}
	defer m2.Close()
	v, err := m2.GetOrCompute(ctx, key, func(context.Context) (json.RawMessage, error) {
		t.Error("compute called after restart")
		return nil, errors.New("unreachable")
	})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(v), "hello") {
		t.Errorf("value after restart = %s", v)
	}
}

func TestMemo_PersistenceRoundTrip(t *testing.T) {
	ctx := context.Background()
	for _, mode := range store.Modes {
		t.Run(string(mode), func(t *testing.T) {
			cfg := store.Config{Path: filepath.Join(t.TempDir(), "cache"), Mode: mode}

			m, err := Open(ctx, cfg)
			if err != nil {
				t.Fatal(err)
			}
			for i := range 5 {
				key := fmt.Sprintf("key-%d", i)
				if _, err := m.GetOrCompute(ctx, key, constant(fmt.Sprintf(`{"i":%d}`, i))); err != nil {
					t.Fatal(err)
				}
			}
			if err := m.Close(); err != nil {
				t.Fatal(err)
			}

			m2, err := Open(ctx, cfg)
			if err != nil {
				t.Fatal(err)
			}
			defer m2.Close()
			if m2.Len() != 5 {
				t.Fatalf("Len() after reopen = %d, want 5", m2.Len())
			}
			v, ok := m2.Get("key-3")
			if !ok || string(v) != `{"i":3}` {
				t.Errorf("Get(key-3) = %s, %v", v, ok)
			}
			if keys := m2.Keys(); len(keys) != 5 || keys[0] != "key-0" {
				t.Errorf("Keys() = %v", keys)
			}
		})
	}
}

func TestMemo_ValuesIdenticalAcrossRestart(t *testing.T) {
	ctx := context.Background()
	raw := `{"b": "<i>x</i> & y",  "a": 1.50}`
	const want = `{"b":"<i>x</i> & y","a":1.50}`

	for _, mode := range store.Modes {
		t.Run(string(mode), func(t *testing.T) {
			cfg := store.Config{Path: filepath.Join(t.TempDir(), "cache"), Mode: mode}

			m, err := Open(ctx, cfg)
			if err != nil {
				t.Fatal(err)
			}
			first, err := m.GetOrCompute(ctx, "k", constant(raw))
			if err != nil {
				t.Fatal(err)
			}
			hit, _ := m.Get("k")
			if err := m.Close(); err != nil {
				t.Fatal(err)
			}

			m2, err := Open(ctx, cfg)
			if err != nil {
				t.Fatal(err)
			}
			defer m2.Close()
			reloaded, ok := m2.Get("k")
			if !ok {
				t.Fatal("entry missing after reopen")
			}
			for name, v := range map[string]json.RawMessage{"computed": first, "hit": hit, "reloaded": reloaded} {
				if string(v) != want {
					t.Errorf("%s = %s, want %s", name, v, want)
				}
			}
		})
	}
}

func TestMemo_ResumesAfterTornWrite(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "cache.jsonl")
	if err := os.WriteFile(path, []byte(`{"key":"a","value":1}`+"\n"+`{"key":"b","va`), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg := store.Config{Path: path}

	for run := range 3 {
		m, err := Open(ctx, cfg)
		if err != nil {
			t.Fatalf("run %d: Open() error = %v", run, err)
		}
		if _, err := m.GetOrCompute(ctx, "b", constant(`2`)); err != nil {
			t.Fatalf("run %d: GetOrCompute() error = %v", run, err)
		}
		if m.Len() != 2 {
			t.Errorf("run %d: Len() = %d, want 2", run, m.Len())
		}
		if err := m.Close(); err != nil {
			t.Fatal(err)
		}
	}
	if n := countLines(t, path); n != 2 {
		t.Errorf("file has %d records, want 2", n)
	}
}

func TestMemo_FailureNotCached(t *testing.T) {
	m, path := newTestMemo(t)
	ctx := context.Background()
	boom := errors.New("model overloaded")

	_, err := m.GetOrCompute(ctx, "k", func(context.Context) (json.RawMessage, error) {
		return nil, boom
	})
	if !errors.Is(err, ErrComputeFailed) || !errors.Is(err, boom) {
		t.Fatalf("GetOrCompute() error = %v, want compute failure wrapping boom", err)
	}
	if _, ok := m.Get("k"); ok {
		t.Error("failure was indexed")
	}
	if _, err := os.Stat(path); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("store file exists after failure only: %v", err)
	}

	v, err := m.GetOrCompute(ctx, "k", constant(`"ok"`))
	if err != nil {
		t.Fatalf("retry error = %v", err)
	}
	if string(v) != `"ok"` {
		t.Errorf("retry = %s", v)
	}
	if s := m.Stats(); s.Computes != 2 || s.Failures != 1 {
		t.Errorf("Stats() = %+v", s)
	}
}

func TestMemo_InvalidResultNotCached(t *testing.T) {
	m, _ := newTestMemo(t)
	_, err := m.GetOrCompute(context.Background(), "k", constant(`not json`))
	if !errors.Is(err, ErrInvalidResult) {
		t.Fatalf("error = %v, want ErrInvalidResult", err)
	}
	if m.Len() != 0 {
		t.Errorf("Len() = %d, want 0", m.Len())
	}
}

func TestMemo_WaitersShareFailure(t *testing.T) {
	m, _ := newTestMemo(t)
	ctx := context.Background()
	boom := errors.New("boom")

	started := make(chan struct{})
	release := make(chan struct{})
	var calls atomic.Int32
	compute := func(context.Context) (json.RawMessage, error) {
		if calls.Add(1) == 1 {
			close(started)
			<-release
		}
		return nil, boom
	}

	workerErr := make(chan error, 1)
	go func() {
		_, err := m.GetOrCompute(ctx, "k", compute)
		workerErr <- err
	}()
	<-started

	const waiters = 5
	errs := make(chan error, waiters)
	for range waiters {
		go func() {
			_, err := m.GetOrCompute(ctx, "k", compute)
			errs <- err
		}()
	}
	waitForWaiters(t, m, "k", waiters+1)
	close(release)

	var ce *ComputeError
	if err := <-workerErr; !errors.As(err, &ce) || ce.Shared {
		t.Errorf("worker error = %v, want unshared ComputeError", err)
	}
	for range waiters {
		err := <-errs
		if !errors.As(err, &ce) || !ce.Shared || !errors.Is(err, boom) {
			t.Errorf("waiter error = %v, want shared ComputeError wrapping boom", err)
		}
	}
	if calls.Load() != 1 {
		t.Errorf("compute called %d times, want 1", calls.Load())
	}
	if s := m.Stats(); s.SharedFailures != waiters {
		t.Errorf("SharedFailures = %d, want %d", s.SharedFailures, waiters)
	}

	// A caller arriving after the failure starts a new flight.
	if _, err := m.GetOrCompute(ctx, "k", constant(`1`)); err != nil {
		t.Errorf("fresh call error = %v", err)
	}
}

func TestMemo_CancelledWorkerIsNotShared(t *testing.T) {
	m, _ := newTestMemo(t)
	workerCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	started := make(chan struct{})
	var calls atomic.Int32
	compute := func(ctx context.Context) (json.RawMessage, error) {
		if calls.Add(1) == 1 {
			close(started)
			<-ctx.Done()
			return nil, ctx.Err()
		}
		return json.RawMessage(`"fresh"`), nil
	}

	workerErr := make(chan error, 1)
	go func() {
		_, err := m.GetOrCompute(workerCtx, "k", compute)
		workerErr <- err
	}()
	<-started

	const waiters = 3
	type result struct {
		v   json.RawMessage
		err error
	}
	results := make(chan result, waiters)
	for range waiters {
		go func() {
			v, err := m.GetOrCompute(context.Background(), "k", compute)
			results <- result{v, err}
		}()
	}
	waitForWaiters(t, m, "k", waiters+1)
	cancel()

	if err := <-workerErr; !errors.Is(err, context.Canceled) {
		t.Errorf("worker error = %v, want context.Canceled", err)
	}
	for range waiters {
		r := <-results
		if r.err != nil || string(r.v) != `"fresh"` {
			t.Errorf("waiter got %s, %v", r.v, r.err)
		}
	}
	if calls.Load() != 2 {
		t.Errorf("compute called %d times, want 2", calls.Load())
	}
}

func TestMemo_PanicReleasesGate(t *testing.T) {
	m, _ := newTestMemo(t)
	ctx := context.Background()

	started := make(chan struct{})
	release := make(chan struct{})
	compute := func(context.Context) (json.RawMessage, error) {
		close(started)
		<-release
		panic("model client bug")
	}

	recovered := make(chan any, 1)
	go func() {
		defer func() { recovered <- recover() }()
		_, _ = m.GetOrCompute(ctx, "k", compute)
	}()
	<-started

	waiterErr := make(chan error, 1)
	go func() {
		_, err := m.GetOrCompute(ctx, "k", constant(`1`))
		waiterErr <- err
	}()
	waitForWaiters(t, m, "k", 2)
	close(release)

	if r := <-recovered; r != "model client bug" {
		t.Errorf("recovered %v, want the original panic", r)
	}
	if err := <-waiterErr; !errors.Is(err, ErrComputePanicked) {
		t.Errorf("waiter error = %v, want ErrComputePanicked", err)
	}

	done := make(chan error, 1)
	go func() {
		_, err := m.GetOrCompute(ctx, "k", constant(`2`))
		done <- err
	}()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("call after panic error = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("gate was not released after panic")
	}
	if p := m.Stats().Pending; p != 0 {
		t.Errorf("Pending = %d, want 0", p)
	}
}

func TestMemo_WaiterCancellation(t *testing.T) {
	m, _ := newTestMemo(t)

	started := make(chan struct{})
	release := make(chan struct{})
	go func() {
		_, _ = m.GetOrCompute(context.Background(), "k", func(context.Context) (json.RawMessage, error) {
			close(started)
			<-release
			return json.RawMessage(`1`), nil
		})
	}()
	<-started
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := m.GetOrCompute(ctx, "k", constant(`2`))
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("error = %v, want context.DeadlineExceeded", err)
	}
}

func TestMemo_KeysDoNotInterfere(t *testing.T) {
	m, _ := newTestMemo(t)
	ctx := context.Background()

	started := make(chan struct{})
	release := make(chan struct{})
	go func() {
		_, _ = m.GetOrCompute(ctx, "slow", func(context.Context) (json.RawMessage, error) {
			close(started)
			<-release
			return json.RawMessage(`"slow"`), nil
		})
	}()
	<-started
	defer close(release)

	done := make(chan error, 1)
	go func() {
		_, err := m.GetOrCompute(ctx, "fast", constant(`"fast"`))
		done <- err
	}()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("fast key error = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("fast key blocked behind slow key")
	}
}

func TestMemo_CorruptStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.jsonl")
	if err := os.WriteFile(path, []byte("{{{{ not a cache\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	_, err := Open(context.Background(), store.Config{Path: path})
	if !errors.Is(err, store.ErrCorrupt) {
		t.Errorf("Open() error = %v, want store.ErrCorrupt", err)
	}
}

// failingStore loads empty and refuses every write.
type failingStore struct {
	appends atomic.Int32
}

func (s *failingStore) Load(context.Context) (map[string]json.RawMessage, error) {
	return map[string]json.RawMessage{}, nil
}

func (s *failingStore) Append(context.Context, string, json.RawMessage) error {
	s.appends.Add(1)
	return errors.New("disk full")
}

func (s *failingStore) Close() error { return nil }

func TestMemo_WriteFailureKeepsValue(t *testing.T) {
	ctx := context.Background()
	var logs bytes.Buffer
	st := &failingStore{}
	m, err := New(ctx, st, WithLogger(observe.NewLoggerWithWriter("warn", &logs)))
	if err != nil {
		t.Fatal(err)
	}

	v, err := m.GetOrCompute(ctx, "k", constant(`"v"`))
	if err != nil || string(v) != `"v"` {
		t.Fatalf("GetOrCompute() = %s, %v", v, err)
	}
	// The value stays indexed, so there is no second write attempt.
	if _, err := m.GetOrCompute(ctx, "k", constant(`"other"`)); err != nil {
		t.Fatal(err)
	}
	if st.appends.Load() != 1 {
		t.Errorf("appends = %d, want 1", st.appends.Load())
	}
	if s := m.Stats(); s.WriteFailures != 1 {
		t.Errorf("WriteFailures = %d, want 1", s.WriteFailures)
	}
	if !strings.Contains(logs.String(), "failed to persist cache entry") {
		t.Errorf("missing warning in logs: %q", logs.String())
	}
}

func TestMemo_StrictWrites(t *testing.T) {
	ctx := context.Background()
	m, err := New(ctx, &failingStore{}, WithStrictWrites(true))
	if err != nil {
		t.Fatal(err)
	}

	v, err := m.GetOrCompute(ctx, "k", constant(`"v"`))
	var we *WriteError
	if !errors.As(err, &we) {
		t.Fatalf("error = %v, want *WriteError", err)
	}
	if string(v) != `"v"` {
		t.Errorf("value = %s, want it returned alongside the error", v)
	}
	if _, ok := m.Get("k"); !ok {
		t.Error("value should still be indexed")
	}
}

func TestMemo_CancelAfterComputeStillPersists(t *testing.T) {
	m, path := newTestMemo(t)
	ctx, cancel := context.WithCancel(context.Background())

	_, err := m.GetOrCompute(ctx, "k", func(context.Context) (json.RawMessage, error) {
		cancel()
		return json.RawMessage(`1`), nil
	})
	if err != nil {
		t.Fatalf("GetOrCompute() error = %v", err)
	}
	if got := countLines(t, path); got != 1 {
		t.Errorf("store has %d records, want 1", got)
	}
}

func TestMemo_InputErrors(t *testing.T) {
	m, _ := newTestMemo(t)
	ctx := context.Background()

	if _, err := m.GetOrCompute(ctx, "", constant(`1`)); !errors.Is(err, ErrInvalidKey) {
		t.Errorf("empty key error = %v", err)
	}
	if _, err := m.GetOrCompute(ctx, "a\nb", constant(`1`)); !errors.Is(err, ErrInvalidKey) {
		t.Errorf("newline key error = %v", err)
	}
	if _, err := m.GetOrCompute(ctx, "k", nil); !errors.Is(err, ErrNilCompute) {
		t.Errorf("nil compute error = %v", err)
	}
	if _, err := New(ctx, nil); !errors.Is(err, ErrNilStore) {
		t.Errorf("New(nil) error = %v", err)
	}

	_ = m.Close()
	if _, err := m.GetOrCompute(ctx, "k", constant(`1`)); !errors.Is(err, ErrClosed) {
		t.Errorf("after Close error = %v", err)
	}
	if err := m.Close(); err != nil {
		t.Errorf("second Close() = %v", err)
	}
}

func TestMemo_ReturnedValuesAreCopies(t *testing.T) {
	m, _ := newTestMemo(t)
	ctx := context.Background()

	v, err := m.GetOrCompute(ctx, "k", constant(`"abc"`))
	if err != nil {
		t.Fatal(err)
	}
	v[1] = 'X'

	got, _ := m.Get("k")
	if string(got) != `"abc"` {
		t.Errorf("index was mutated through a returned value: %s", got)
	}
}
