package docasync

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/kartikbazzad/bunbase/docasync/engine"
)

func TestLoopRunPendingIsSerialAndOrdered(t *testing.T) {
	l := NewLoop(nil)
	var got []int
	for i := 0; i < 5; i++ {
		l.Post(func() { got = append(got, i) })
	}
	if l.Len() != 5 {
		t.Errorf("Len = %d, want 5", l.Len())
	}
	if n := l.RunPending(); n != 5 {
		t.Errorf("RunPending = %d, want 5", n)
	}
	for i, v := range got {
		if v != i {
			t.Fatalf("order = %v", got)
		}
	}
}

func TestLoopRunDrainsOnClose(t *testing.T) {
	l := NewLoop(nil)
	done := make(chan error, 1)
	go func() { done <- l.Run(context.Background()) }()

	ran := make(chan struct{})
	l.Post(func() { close(ran) })
	select {
	case <-ran:
	case <-time.After(waitFor):
		t.Fatal("Run did not process a posted callback")
	}

	l.Close()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run = %v, want nil after Close", err)
		}
	case <-time.After(waitFor):
		t.Fatal("Run did not return after Close")
	}

	called := false
	l.Post(func() { called = true })
	if l.RunPending() != 0 || called {
		t.Error("callback posted after Close was not dropped")
	}
	l.Close()
}

func TestLoopRunStopsOnContext(t *testing.T) {
	l := NewLoop(nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := l.Run(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("Run = %v, want Canceled", err)
	}
}

func TestLoopSurvivesPanickingCallback(t *testing.T) {
	l := NewLoop(nil)
	after := false
	l.Post(func() { panic("sink bug") })
	l.Post(func() { after = true })
	l.RunPending()
	if !after {
		t.Error("callback after a panic did not run")
	}
}

func TestDispatcherFunc(t *testing.T) {
	var posted int
	d := DispatcherFunc(func(fn func()) {
		posted++
		fn()
	})
	ran := false
	d.Post(func() { ran = true })
	if posted != 1 || !ran {
		t.Errorf("posted=%d ran=%v", posted, ran)
	}
}

func TestSinkFuncsNilSafe(t *testing.T) {
	var s SinkFuncs[int]
	s.OnComplete(1, nil)
	s.OnError("x", nil)
}

func TestOutcome(t *testing.T) {
	ok := Outcome[int]{Value: 3, Context: "c"}
	if !ok.OK() || ok.Message() != "" {
		t.Errorf("success outcome = %+v", ok)
	}
	bad := Outcome[int]{Err: errors.New("nope")}
	if bad.OK() || bad.Message() != "nope" {
		t.Errorf("error outcome = %+v", bad)
	}
}

func TestFutureResolvesOnce(t *testing.T) {
	f := newFuture[int]("tok")
	if _, ok := f.Outcome(); ok {
		t.Fatal("fresh future reports an outcome")
	}
	if !f.resolve(Outcome[int]{Value: 1}) {
		t.Fatal("first resolve lost")
	}
	if f.resolve(Outcome[int]{Value: 2}) {
		t.Error("second resolve won")
	}
	o, ok := f.Outcome()
	if !ok || o.Value != 1 {
		t.Errorf("Outcome = (%+v, %v), want value 1", o, ok)
	}
	select {
	case <-f.Done():
	default:
		t.Error("Done not closed")
	}
}

func TestTaskErrorMessage(t *testing.T) {
	cause := engine.Wrap("save", "app", engine.ErrSchema)
	err := &TaskError{Op: "save document", Database: "app", Err: cause}
	if got, want := err.Error(), "failed to save document: "+cause.Error(); got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
	if !errors.Is(err, engine.ErrSchema) {
		t.Error("TaskError does not unwrap to the engine sentinel")
	}
}

func TestParseAction(t *testing.T) {
	for _, a := range []Action{ActionCreate, ActionUpdate, ActionDelete} {
		got, err := ParseAction(a.String())
		if err != nil || got != a {
			t.Errorf("ParseAction(%q) = (%v, %v)", a.String(), got, err)
		}
	}
	if _, err := ParseAction("upsert"); !errors.Is(err, ErrBadAction) {
		t.Errorf("ParseAction(upsert) = %v, want ErrBadAction", err)
	}
}
