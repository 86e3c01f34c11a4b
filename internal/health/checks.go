package health

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MrWong99/captionseek/pkg/layout"
)

// ErrNoRoot is reported by [DocumentChecker] when the tree is empty.
var ErrNoRoot = errors.New("layout tree has no root element")

// DocumentChecker reports whether tree currently has a root element. The
// root is released straight back to the tree.
func DocumentChecker(tree layout.Tree) Checker {
	return Checker{
		Name: "document",
		Check: func(ctx context.Context) error {
			if err := ctx.Err(); err != nil {
				return err
			}
			root := tree.Root()
			if root == nil {
				return ErrNoRoot
			}
			tree.Release(root)
			return nil
		},
	}
}

// RoundTracker exposes the round currently in flight. *throttle.Throttle
// implements it.
type RoundTracker interface {
	InFlight() (id uint64, age time.Duration, ok bool)
}

// ThrottleChecker fails when a round has been in flight for longer than
// maxAge, which means a collaborator stopped answering and scroll signals
// are being counted without ever starting a new round. A maxAge of zero
// disables the check.
func ThrottleChecker(rt RoundTracker, maxAge time.Duration) Checker {
	return Checker{
		Name: "throttle",
		Check: func(context.Context) error {
			if maxAge <= 0 {
				return nil
			}
			id, age, ok := rt.InFlight()
			if ok && age > maxAge {
				return fmt.Errorf("round %d in flight for %s (max %s)", id, age.Round(time.Millisecond), maxAge)
			}
			return nil
		},
	}
}
