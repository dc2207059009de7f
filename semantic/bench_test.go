package semantic

import (
	"context"
	"fmt"
	"testing"
)

func BenchmarkNgramEmbedder(b *testing.B) {
	e := NgramEmbedder{}
	ctx := context.Background()
	texts := []string{"北京有哪些5a级景区"}
	for b.Loop() {
		_, _ = e.Embed(ctx, texts)
	}
}

func BenchmarkIndex_FindNearest(b *testing.B) {
	ctx := context.Background()
	ix, err := New(ctx, NgramEmbedder{}, Config{})
	if err != nil {
		b.Fatal(err)
	}
	for i := range 1000 {
		if err := ix.Add(ctx, fmt.Sprintf("k%04d", i), fmt.Sprintf("城市%d的景区有哪些", i), "s"); err != nil {
			b.Fatal(err)
		}
	}
	for b.Loop() {
		_, _, _ = ix.FindNearest(ctx, "城市42的景区", "s", 0.92)
	}
}

func BenchmarkCosine(b *testing.B) {
	e := NgramEmbedder{}
	v, _ := e.Embed(context.Background(), []string{"故宫", "颐和园"})
	for b.Loop() {
		_ = Cosine(v[0], v[1])
	}
}
