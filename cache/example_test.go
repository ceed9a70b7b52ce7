package cache_test

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/lingetic/genmemo/cache"
	"github.com/lingetic/genmemo/store"
)

func ExampleFingerprint() {
	key := cache.Fingerprint("explain-sentence", "bonjour", "fr", "en")
	fmt.Println(len(key), cache.ValidateKey(key))
	// Output:
	// 36 <nil>
}

func ExampleMemo_GetOrCompute() {
	dir, _ := os.MkdirTemp("", "genmemo")
	defer os.RemoveAll(dir)

	ctx := context.Background()
	m, err := cache.Open(ctx, store.Config{Path: filepath.Join(dir, "cache.jsonl")})
	if err != nil {
		fmt.Println("open:", err)
		return
	}
	defer m.Close()

	calls := 0
	explain := func(context.Context) (json.RawMessage, error) {
		calls++
		return json.RawMessage(`{"translation":"hello"}`), nil
	}

	v1, _ := m.GetOrCompute(ctx, "bonjour", explain)
	v2, _ := m.GetOrCompute(ctx, "bonjour", explain)
	fmt.Println(string(v1), string(v2), calls)
	// Output:
	// {"translation":"hello"} {"translation":"hello"} 1
}

func ExampleDo() {
	dir, _ := os.MkdirTemp("", "genmemo")
	defer os.RemoveAll(dir)

	ctx := context.Background()
	m, _ := cache.Open(ctx, store.Config{Path: filepath.Join(dir, "cache.db"), Mode: store.ModeBolt})
	defer m.Close()

	type result struct {
		Words int `json:"words"`
	}
	r, err := cache.Do(ctx, m, "count:bonjour le monde", func(context.Context) (result, error) {
		return result{Words: 3}, nil
	})
	fmt.Println(r.Words, err)
	// Output:
	// 3 <nil>
}

func ExampleWrap() {
	dir, _ := os.MkdirTemp("", "genmemo")
	defer os.RemoveAll(dir)

	ctx := context.Background()
	m, _ := cache.Open(ctx, store.Config{Path: filepath.Join(dir, "cache.json"), Mode: store.ModeSnapshot})
	defer m.Close()

	upper := cache.Wrap(m, "upper", nil, func(_ context.Context, s string) (string, error) {
		fmt.Println("computing", s)
		return fmt.Sprintf("%q!", s), nil
	})

	a, _ := upper(ctx, "salut")
	b, _ := upper(ctx, "salut")
	fmt.Println(a, a == b, m.Len())
	// Output:
	// computing salut
	// "salut"! true 1
}
