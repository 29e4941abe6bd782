package smbo

import (
	"math/rand"
	"reflect"
	"time"

	"github.com/copyleftdev/smbo/internal/optimization"
)

// ResolveRNG turns the polymorphic seed argument into a random source:
//
//   - nil: a time-seeded source
//   - any Go integer: a source seeded with that value
//   - *rand.Rand: used as is
//   - rand.Source: wrapped in a *rand.Rand
//
// Any other type fails with a TypeMismatch error.
func ResolveRNG(seed any) (*rand.Rand, error) {
	switch v := seed.(type) {
	case nil:
		return rand.New(rand.NewSource(time.Now().UnixNano())), nil
	case *rand.Rand:
		if v == nil {
			return nil, typeMismatch(seed)
		}
		return v, nil
	case rand.Source:
		return rand.New(v), nil
	}

	rv := reflect.ValueOf(seed)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rand.New(rand.NewSource(rv.Int())), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return rand.New(rand.NewSource(int64(rv.Uint()))), nil
	}
	return nil, typeMismatch(seed)
}

func typeMismatch(seed any) error {
	return optimization.NewErrorf(optimization.KindTypeMismatch,
		"unknown type %T for argument rng; only accepts nil, int or *rand.Rand", seed).
		WithComponent(component).WithOperation("ResolveRNG")
}

// child derives an independent source from rng.
func child(rng *rand.Rand) *rand.Rand {
	return rand.New(rand.NewSource(rng.Int63()))
}
