package contracts

import "context"

// Source yields the bytes of a payload. Fetch may block and may fail.
type Source interface {
	Fetch(ctx context.Context) ([]byte, error)
}
