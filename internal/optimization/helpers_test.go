package optimization

import (
	"errors"
	"fmt"
	"testing"
)

// wrapN wraps err n times with plain fmt wrapping
func wrapN(err error, n int) error {
	for i := 0; i < n; i++ {
		err = fmt.Errorf("layer %d: %w", i, err)
	}
	return err
}

// assertKind checks that err carries the expected kind and matches its sentinel
func assertKind(t *testing.T, err error, want Kind, sentinel error) {
	t.Helper()

	if got := KindOf(err); got != want {
		t.Fatalf("kind mismatch: got %q, want %q (err=%v)", got, want, err)
	}
	if sentinel != nil && !errors.Is(err, sentinel) {
		t.Fatalf("errors.Is(%v, %v) = false, want true", err, sentinel)
	}
}
