package socket

import (
	"reflect"
	"testing"
)

func TestEmitterCallsInRegistrationOrder(t *testing.T) {
	e := NewEmitter()
	var got []int
	e.On("x", func(any) { got = append(got, 1) })
	e.On("x", func(any) { got = append(got, 2) })
	e.On("y", func(any) { got = append(got, 99) })
	e.On("x", func(any) { got = append(got, 3) })

	e.Emit("x", nil)

	if !reflect.DeepEqual(got, []int{1, 2, 3}) {
		t.Fatalf("unexpected call order %v", got)
	}
}

func TestEmitterPassesData(t *testing.T) {
	e := NewEmitter()
	var got any
	e.On("x", func(data any) { got = data })

	e.Emit("x", 7)

	if got != 7 {
		t.Fatalf("expected 7, got %v", got)
	}
}

func TestEmitterWithoutListenersIsNoop(t *testing.T) {
	e := NewEmitter()
	e.Emit("nobody", "data")
	e.Off("nobody")
	e.Off("nobody", 12)
}

func TestEmitterOffByID(t *testing.T) {
	e := NewEmitter()
	var got []string
	e.On("x", func(any) { got = append(got, "a") })
	b := e.On("x", func(any) { got = append(got, "b") })

	e.Off("x", b)
	e.Emit("x", nil)

	if !reflect.DeepEqual(got, []string{"a"}) {
		t.Fatalf("unexpected calls %v", got)
	}
	if e.Count("x") != 1 {
		t.Fatalf("expected 1 listener left, got %d", e.Count("x"))
	}
}

func TestEmitterOffAll(t *testing.T) {
	e := NewEmitter()
	called := false
	e.On("x", func(any) { called = true })
	e.On("x", func(any) { called = true })

	e.Off("x")
	e.Emit("x", nil)

	if called || e.Count("x") != 0 {
		t.Fatalf("expected every listener removed")
	}
}

func TestEmitterSameHandlerTwiceRunsTwice(t *testing.T) {
	e := NewEmitter()
	n := 0
	fn := func(any) { n++ }
	first := e.On("x", fn)
	e.On("x", fn)

	e.Emit("x", nil)
	if n != 2 {
		t.Fatalf("expected 2 calls, got %d", n)
	}

	e.Off("x", first)
	e.Emit("x", nil)
	if n != 3 {
		t.Fatalf("expected 3 calls, got %d", n)
	}
}

func TestEmitterOffDuringEmit(t *testing.T) {
	e := NewEmitter()
	var got []string
	var second ListenerID
	e.On("x", func(any) {
		got = append(got, "first")
		e.Off("x", second)
	})
	second = e.On("x", func(any) { got = append(got, "second") })

	e.Emit("x", nil)

	if !reflect.DeepEqual(got, []string{"first"}) {
		t.Fatalf("removed listener still called: %v", got)
	}
}

func TestEmitterOnDuringEmit(t *testing.T) {
	e := NewEmitter()
	var got []string
	e.On("x", func(any) {
		got = append(got, "outer")
		e.On("x", func(any) { got = append(got, "inner") })
	})

	e.Emit("x", nil)
	if !reflect.DeepEqual(got, []string{"outer"}) {
		t.Fatalf("listener added mid-emit was called: %v", got)
	}

	got = nil
	e.Emit("x", nil)
	if !reflect.DeepEqual(got, []string{"outer", "inner"}) {
		t.Fatalf("unexpected second emission %v", got)
	}
}

func TestEmitterSelfRemovalKeepsSiblings(t *testing.T) {
	e := NewEmitter()
	var got []string
	var self ListenerID
	e.On("x", func(any) { got = append(got, "a") })
	self = e.On("x", func(any) {
		got = append(got, "b")
		e.Off("x", self)
	})
	e.On("x", func(any) { got = append(got, "c") })

	e.Emit("x", nil)
	e.Emit("x", nil)

	if !reflect.DeepEqual(got, []string{"a", "b", "c", "a", "c"}) {
		t.Fatalf("unexpected calls %v", got)
	}
	if e.Count("x") != 2 {
		t.Fatalf("expected 2 listeners left, got %d", e.Count("x"))
	}
}
