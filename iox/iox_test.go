package iox

import (
	"errors"
	"io"
	"strings"
	"testing"
)

type spyCloser struct{ closed bool }

func (s *spyCloser) Close() error { s.closed = true; return errors.New("ignored") }

func TestDiscardClose(t *testing.T) {
	s := &spyCloser{}
	DiscardClose(s)
	if !s.closed {
		t.Fatal("Close was not called")
	}
}

func TestCloseFunc(t *testing.T) {
	s := &spyCloser{}
	fn := CloseFunc(s)
	if s.closed {
		t.Fatal("Close called before invoking returned func")
	}
	fn()
	if !s.closed {
		t.Fatal("Close was not called")
	}
}

func TestDiscardErr(t *testing.T) {
	called := false
	DiscardErr(func() error {
		called = true
		return errors.New("ignored")
	})
	if !called {
		t.Fatal("fn was not called")
	}
}

func TestCountingReader(t *testing.T) {
	cr := &CountingReader{R: strings.NewReader("hello world")}
	data, err := io.ReadAll(cr)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if string(data) != "hello world" {
		t.Errorf("data = %q", data)
	}
	if cr.N != 11 {
		t.Errorf("N = %d, want 11", cr.N)
	}
}
