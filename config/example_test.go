package config_test

import (
	"fmt"

	"github.com/sightserver/querycache/config"
)

func ExampleParse() {
	cfg, err := config.Parse([]byte(`
cache:
  backend: sqlite
  dsn: /var/lib/querycache/cache.db
  ttl: 2h
semantic:
  similarity_threshold: 0.9
`))
	if err != nil {
		panic(err)
	}
	fmt.Println(cfg.Cache.Backend, cfg.Cache.Policy().TTL, cfg.Cache.MaxEntries, cfg.Semantic.SimilarityThreshold)
	fmt.Printf("%q\n", cfg.Cache.Snapshot())
	// Output:
	// sqlite 2h0m0s 1000 0.9
	// ""
}
