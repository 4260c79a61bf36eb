// Package iox provides I/O helpers for resource cleanup and stream accounting.
package iox

import "io"

// DiscardClose closes c and discards the error.
// Use in defer statements where close errors are unactionable:
//
//	defer iox.DiscardClose(f)
func DiscardClose(c io.Closer) { _ = c.Close() }

// CloseFunc returns a cleanup function that closes c.
// Designed for t.Cleanup and b.Cleanup registration:
//
//	t.Cleanup(iox.CloseFunc(client))
func CloseFunc(c io.Closer) func() {
	return func() { _ = c.Close() }
}

// DiscardErr calls fn and discards the returned error.
// Use for non-Close cleanup calls (e.g. Flush) where errors are unactionable:
//
//	defer iox.DiscardErr(w.Flush)
func DiscardErr(fn func() error) { _ = fn() }

// CountingReader wraps an io.Reader and counts the bytes read through it.
type CountingReader struct {
	R io.Reader
	N int64
}

func (c *CountingReader) Read(p []byte) (int, error) {
	n, err := c.R.Read(p)
	c.N += int64(n)
	return n, err
}
