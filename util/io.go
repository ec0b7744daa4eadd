package util

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"
)

// Bridge copies data in both directions between a and b until either
// side closes or ctx is cancelled.  Both connections are closed before
// Bridge returns.  The byte counts are a→b and b→a.
func Bridge(ctx context.Context, a, b net.Conn) (aToB, bToA int64, err error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	errCh := make(chan error, 2)
	wg.Add(2)

	go func() {
		defer wg.Done()
		n, err := copyPooled(b, a)
		aToB = n
		errCh <- err
		cancel()
	}()

	go func() {
		defer wg.Done()
		n, err := copyPooled(a, b)
		bToA = n
		errCh <- err
		cancel()
	}()

	<-ctx.Done()
	a.Close() // unblock any pending reads/writes
	b.Close()
	wg.Wait()
	close(errCh)

	for e := range errCh {
		if e != nil && !isHarmless(e) {
			return aToB, bToA, e
		}
	}
	return aToB, bToA, nil
}

func copyPooled(dst io.Writer, src io.Reader) (int64, error) {
	buf := GetBuf()
	defer PutBuf(buf)
	return io.CopyBuffer(dst, src, *buf)
}

// isHarmless returns true for errors that are expected during shutdown.
func isHarmless(err error) bool {
	if err == nil {
		return true
	}
	if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) || errors.Is(err, io.ErrClosedPipe) {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return errors.Is(opErr.Err, net.ErrClosed)
	}
	return false
}
