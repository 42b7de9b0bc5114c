package shutdown

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestShutdownLIFO(t *testing.T) {
	m := New(time.Second, nil)
	var order []string
	for _, name := range []string{"first", "second", "third"} {
		name := name
		m.Register(name, func(context.Context) error {
			order = append(order, name)
			return nil
		})
	}

	if err := m.Shutdown(); err != nil {
		t.Fatal(err)
	}
	want := []string{"third", "second", "first"}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("order = %v, want %v", order, want)
		}
	}

	// second call is a no-op
	_ = m.Shutdown()
	if len(order) != 3 {
		t.Errorf("hooks ran twice: %v", order)
	}
}

func TestShutdownContinuesAfterError(t *testing.T) {
	m := New(time.Second, nil)
	ran := false
	m.Register("later", func(context.Context) error { ran = true; return nil })
	m.Register("broken", func(context.Context) error { return errors.New("boom") })

	err := m.Shutdown()
	if err == nil || !ran {
		t.Errorf("err=%v ran=%v", err, ran)
	}
}

type closer struct{ closed bool }

func (c *closer) Close() error { c.closed = true; return nil }

func TestCloseResource(t *testing.T) {
	c := &closer{}
	if err := CloseResource(c)(context.Background()); err != nil || !c.closed {
		t.Errorf("err=%v closed=%v", err, c.closed)
	}
}
