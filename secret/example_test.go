package secret_test

import (
	"context"
	"fmt"
	"os"

	"github.com/sightserver/querycache/secret"
)

func ExampleResolver_Resolve() {
	os.Setenv("EXAMPLE_EMBEDDING_KEY", "sk-example")
	defer os.Unsetenv("EXAMPLE_EMBEDDING_KEY")

	r := secret.NewResolver()
	v, err := r.Resolve(context.Background(), "Bearer secretref:env:EXAMPLE_EMBEDDING_KEY")
	fmt.Println(v, err)
	// Output: Bearer sk-example <nil>
}

func ExampleExpandEnvStrict() {
	_, err := secret.ExpandEnvStrict("dsn: postgres://${EXAMPLE_UNSET_USER}@db/cache")
	fmt.Println(err)
	// Output: missing required environment variables: EXAMPLE_UNSET_USER
}
