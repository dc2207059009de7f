package cache

import (
	"context"
	"strconv"
	"testing"

	"github.com/sightserver/querycache/semantic"
	"github.com/sightserver/querycache/store"
	"github.com/sightserver/querycache/store/memory"
)

func BenchmarkDefaultKeyer_Derive(b *testing.B) {
	k := NewDefaultKeyer()
	qc := DefaultContext()
	for b.Loop() {
		_, _ = k.Derive("  北京有哪些 5A 景区\n", qc)
	}
}

func BenchmarkManager_GetExact(b *testing.B) {
	ctx := context.Background()
	m, err := NewManager(ctx, Options{Store: memory.New(store.DefaultPolicy())})
	if err != nil {
		b.Fatal(err)
	}
	defer m.Close(ctx)
	_ = m.Set(ctx, "北京的5A景区", DefaultContext(), map[string]int{"count": 3})

	for b.Loop() {
		_, _, _ = m.Get(ctx, "北京的5A景区", DefaultContext())
	}
}

func BenchmarkManager_GetSemantic(b *testing.B) {
	ctx := context.Background()
	m, err := NewManager(ctx, Options{
		Store:    memory.New(store.Policy{}),
		Embedder: semantic.NgramEmbedder{},
	})
	if err != nil {
		b.Fatal(err)
	}
	defer m.Close(ctx)
	for i := range 500 {
		_ = m.Set(ctx, "景区查询 "+strconv.Itoa(i), DefaultContext(), i)
	}

	for b.Loop() {
		_, _, _ = m.Get(ctx, "景区查询 42 号", DefaultContext())
	}
}
