package cache_test

import (
	"context"
	"fmt"

	"github.com/sightserver/querycache/cache"
	"github.com/sightserver/querycache/store"
	"github.com/sightserver/querycache/store/memory"
)

func ExampleManager() {
	ctx := context.Background()
	m, err := cache.NewManager(ctx, cache.Options{Store: memory.New(store.DefaultPolicy())})
	if err != nil {
		panic(err)
	}
	defer m.Close(ctx)

	_ = m.Set(ctx, "北京的5A景区", cache.DefaultContext(), map[string]int{"count": 3})
	res, ok, _ := m.Get(ctx, " 北京的5A景区\n", cache.DefaultContext())
	fmt.Println(ok, res.Kind, string(res.Payload))

	_, ok, _ = m.Get(ctx, "北京的5A景区", cache.QueryContext{EnableSpatial: false})
	fmt.Println(ok)
	// Output:
	// true exact {"count":3}
	// false
}

func ExampleManager_Do() {
	ctx := context.Background()
	m, _ := cache.NewManager(ctx, cache.Options{Store: memory.New(store.DefaultPolicy())})
	defer m.Close(ctx)

	compute := func(context.Context) (any, error) {
		return []string{"故宫", "颐和园"}, nil
	}
	for i := 0; i < 2; i++ {
		p, kind, err := m.Do(ctx, "北京的5A景区", cache.DefaultContext(), compute)
		fmt.Println(string(p), kind, err)
	}
	// Output:
	// ["故宫","颐和园"] miss <nil>
	// ["故宫","颐和园"] exact <nil>
}

func ExampleNormalize() {
	fmt.Printf("%q\n", cache.Normalize("  Top 5A\n\tScenic   Areas "))
	// Output: "top 5a scenic areas"
}

func ExampleQueryContext_Canonical() {
	b, _ := cache.QueryContext{EnableSpatial: true}.Canonical()
	fmt.Println(string(b))
	// Output: {"enable_spatial":true,"include_sql":false,"query_intent":"query"}
}
