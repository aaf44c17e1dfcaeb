//go:build !unix

package build

import "context"

// lockFileAt is a no-op where advisory file locks are unavailable; slots
// are then only serialized within one process.
func lockFileAt(ctx context.Context, path string, strict bool) (func(), error) {
	return func() {}, nil
}
