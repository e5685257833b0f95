package proxy

import (
	"context"
	"io"
	"net"
	"sync"

	"golang.org/x/sync/errgroup"
)

type closeWriter interface {
	CloseWrite() error
}

// CopyBidirectional copies between left and right until both directions
// are done, then closes both. When one side stops sending, the other side's
// write half is closed so it sees EOF. Canceling ctx closes both
// immediately.
func CopyBidirectional(ctx context.Context, left, right net.Conn) error {
	g, gctx := errgroup.WithContext(ctx)

	var closeOnce sync.Once
	closeBoth := func() {
		closeOnce.Do(func() {
			_ = left.Close()
			_ = right.Close()
		})
	}
	defer closeBoth()

	// Unblocks both copies if ctx is canceled or one direction fails.
	stop := context.AfterFunc(gctx, closeBoth)
	defer stop()

	g.Go(func() error {
		return copyHalf(left, right)
	})

	g.Go(func() error {
		return copyHalf(right, left)
	})

	return g.Wait()
}

func copyHalf(dst, src net.Conn) error {
	buf := copyBuffers.Get()
	defer copyBuffers.Put(buf)

	_, err := io.CopyBuffer(dst, src, *buf)
	if cw, ok := dst.(closeWriter); ok {
		_ = cw.CloseWrite()
	} else if err == nil {
		_ = dst.Close()
	}
	return err
}
