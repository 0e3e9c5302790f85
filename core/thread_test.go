//go:build linux

// File: core/thread_test.go
// Author: momentics <momentics@gmail.com>

package core_test

import (
	"errors"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jamesmaino/libcamera-willfork/api"
	"github.com/jamesmaino/libcamera-willfork/core"
)

func startThread(t *testing.T, name string) *core.Thread {
	t.Helper()
	th, err := core.NewThread(name)
	if err != nil {
		t.Fatal(err)
	}
	if err := th.Start(); err != nil {
		t.Fatal(err)
	}
	return th
}

func TestThreadLifecycle(t *testing.T) {
	th, err := core.NewThread("worker")
	if err != nil {
		t.Fatal(err)
	}
	if th.Name() != "worker" {
		t.Errorf("unexpected thread name %q", th.Name())
	}
	if th.State() != core.ThreadNotStarted {
		t.Errorf("unexpected initial state %v", th.State())
	}
	if err := th.Start(); err != nil {
		t.Fatal(err)
	}
	if err := th.Start(); !errors.Is(err, api.ErrThreadRunning) {
		t.Errorf("second Start returned %v, want ErrThreadRunning", err)
	}
	th.Exit(7)
	if code := th.Wait(); code != 7 {
		t.Errorf("Wait returned %d, want 7", code)
	}
	if th.State() != core.ThreadStopped {
		t.Errorf("state after Wait is %v, want stopped", th.State())
	}
}

func TestThreadWaitBeforeStart(t *testing.T) {
	th, err := core.NewThread("idle")
	if err != nil {
		t.Fatal(err)
	}
	if code := th.Wait(); code != 0 {
		t.Errorf("Wait on a never-started thread returned %d", code)
	}
}

// CurrentThread adopts the calling goroutine once and keeps returning the
// same thread afterwards.
func TestCurrentThreadStable(t *testing.T) {
	a := core.CurrentThread()
	b := core.CurrentThread()
	if a != b {
		t.Fatal("CurrentThread returned different threads for one goroutine")
	}
}

func TestQueuedInvokeExecutesExactlyOnce(t *testing.T) {
	th := startThread(t, "queued")
	defer func() {
		th.Exit(0)
		th.Wait()
	}()

	obj := core.NewObject()
	obj.MoveToThread(th)
	defer obj.Destroy()

	var calls atomic.Int32
	done := make(chan struct{})
	usable := core.InvokeMethod0(obj, func() {
		calls.Add(1)
		close(done)
	}, core.ConnectionQueued)
	if usable {
		t.Error("queued invocation reported a usable return value")
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("queued invocation did not execute")
	}
	time.Sleep(10 * time.Millisecond)
	if n := calls.Load(); n != 1 {
		t.Fatalf("queued invocation executed %d times", n)
	}
}

// A blocking invocation runs on the receiver's thread and hands the return
// value back to the caller.
func TestBlockingInvokeReturnsValue(t *testing.T) {
	th := startThread(t, "blocking")
	defer func() {
		th.Exit(0)
		th.Wait()
	}()

	obj := core.NewObject()
	obj.MoveToThread(th)
	defer obj.Destroy()

	var ranOn *core.Thread
	v, usable := core.InvokeMethodR(obj, func(x int) int {
		ranOn = core.CurrentThread()
		return x * 2
	}, core.ConnectionBlocking, 21)
	if !usable {
		t.Fatal("blocking invocation reported an unusable return value")
	}
	if v != 42 {
		t.Errorf("blocking invocation returned %d, want 42", v)
	}
	if ranOn != th {
		t.Error("blocking invocation did not run on the receiver's thread")
	}
}

// Blocking on an object owned by the calling thread would deadlock; it
// must panic instead.
func TestBlockingInvokeSameThreadPanics(t *testing.T) {
	obj := core.NewObject()
	defer obj.Destroy()

	defer func() {
		r := recover()
		if r == nil {
			t.Fatal("same-thread blocking invocation did not panic")
		}
		e, ok := r.(*api.Error)
		if !ok || e.Code != api.ErrCodeWrongThread {
			t.Fatalf("unexpected panic value %v", r)
		}
	}()
	core.InvokeMethod0(obj, func() {}, core.ConnectionBlocking)
}

// Auto resolves to direct on the owning thread and to queued otherwise.
func TestAutoConnectionResolution(t *testing.T) {
	local := core.NewObject()
	defer local.Destroy()

	direct := false
	core.InvokeMethod0(local, func() { direct = true }, core.ConnectionAuto)
	if !direct {
		t.Error("auto invocation on the owning thread was not synchronous")
	}

	th := startThread(t, "auto")
	defer func() {
		th.Exit(0)
		th.Wait()
	}()

	remote := core.NewObject()
	remote.MoveToThread(th)
	defer remote.Destroy()

	done := make(chan *core.Thread, 1)
	usable := core.InvokeMethod0(remote, func() {
		done <- core.CurrentThread()
	}, core.ConnectionAuto)
	if usable {
		t.Error("cross-thread auto invocation reported a usable return value")
	}
	select {
	case ranOn := <-done:
		if ranOn != th {
			t.Error("cross-thread auto invocation ran on the wrong thread")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("cross-thread auto invocation did not execute")
	}
}

func TestPostMessageFIFO(t *testing.T) {
	th := startThread(t, "fifo")
	defer func() {
		th.Exit(0)
		th.Wait()
	}()

	obj := core.NewObject()
	obj.MoveToThread(th)
	defer obj.Destroy()

	const n = 64
	got := make(chan int, n)
	obj.SetMessageHandler(func(msg *core.Message) {
		got <- msg.Data.(int)
	})

	for i := 0; i < n; i++ {
		obj.PostMessage(core.NewMessage(i))
	}
	for i := 0; i < n; i++ {
		select {
		case v := <-got:
			if v != i {
				t.Fatalf("message %d delivered out of order as %d", i, v)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("message %d never delivered", i)
		}
	}
}

// Adopting a goroutine must not allocate kernel resources: only threads
// that run a loop or register fd interest own a dispatcher.
func TestCurrentThreadAdoptionAllocatesNoFDs(t *testing.T) {
	countFDs := func() int {
		t.Helper()
		ents, err := os.ReadDir("/proc/self/fd")
		if err != nil {
			t.Fatal(err)
		}
		return len(ents)
	}

	before := countFDs()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			obj := core.NewObject() // adopts the goroutine via CurrentThread
			obj.Destroy()
		}()
	}
	wg.Wait()

	if after := countFDs(); after > before+2 {
		t.Fatalf("goroutine adoption leaked file descriptors: %d before, %d after", before, after)
	}
}

// Per-object delivery order holds while the object migrates between two
// live loops and a producer keeps posting through the handoffs.
func TestMoveToThreadFIFOUnderConcurrentHandoff(t *testing.T) {
	a := startThread(t, "handoff-a")
	b := startThread(t, "handoff-b")
	defer func() {
		a.Exit(0)
		b.Exit(0)
		a.Wait()
		b.Wait()
	}()

	obj := core.NewObject()
	obj.MoveToThread(a)
	defer obj.Destroy()

	const n = 2000
	got := make(chan int, n)
	obj.SetMessageHandler(func(msg *core.Message) {
		got <- msg.Data.(int)
	})

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < n; i++ {
			obj.PostMessage(core.NewMessage(i))
		}
	}()

	threads := [2]*core.Thread{b, a}
	for i := 0; ; i++ {
		obj.MoveToThread(threads[i%2])
		select {
		case <-done:
		default:
			continue
		}
		break
	}

	for i := 0; i < n; i++ {
		select {
		case v := <-got:
			if v != i {
				t.Fatalf("message %d delivered as %d after handoff", i, v)
			}
		case <-time.After(10 * time.Second):
			t.Fatalf("delivery stalled after %d messages", i)
		}
	}
}

// Concurrent producers each keep their own post order; the consumer sees
// every producer's messages as an order-preserving subsequence.
func TestPostMessageMultiProducerOrder(t *testing.T) {
	th := startThread(t, "producers")
	defer func() {
		th.Exit(0)
		th.Wait()
	}()

	obj := core.NewObject()
	obj.MoveToThread(th)
	defer obj.Destroy()

	const producers = 4
	const perProducer = 50

	type tagged struct{ producer, seq int }
	got := make(chan tagged, producers*perProducer)
	obj.SetMessageHandler(func(msg *core.Message) {
		got <- msg.Data.(tagged)
	})

	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				obj.PostMessage(core.NewMessage(tagged{producer: p, seq: i}))
			}
		}(p)
	}
	wg.Wait()

	next := make([]int, producers)
	for i := 0; i < producers*perProducer; i++ {
		select {
		case m := <-got:
			if m.seq != next[m.producer] {
				t.Fatalf("producer %d: got seq %d, want %d", m.producer, m.seq, next[m.producer])
			}
			next[m.producer]++
		case <-time.After(5 * time.Second):
			t.Fatalf("only %d of %d messages delivered", i, producers*perProducer)
		}
	}
}

// Messages queued before a move are delivered on the new thread, in order,
// ahead of messages posted after the move.
func TestMoveToThreadPreservesBacklog(t *testing.T) {
	obj := core.NewObject() // owned by the adopted test thread, no loop runs

	got := make(chan int, 8)
	obj.SetMessageHandler(func(msg *core.Message) {
		got <- msg.Data.(int)
	})

	obj.PostMessage(core.NewMessage(1))
	obj.PostMessage(core.NewMessage(2))

	th := startThread(t, "mover")
	defer func() {
		th.Exit(0)
		th.Wait()
	}()

	obj.MoveToThread(th)
	obj.PostMessage(core.NewMessage(3))
	defer obj.Destroy()

	for want := 1; want <= 3; want++ {
		select {
		case v := <-got:
			if v != want {
				t.Fatalf("expected message %d, got %d", want, v)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("message %d never delivered after move", want)
		}
	}
}

// Posting to a destroyed object drops the message; a blocking invocation
// of a destroyed object returns without executing instead of hanging.
func TestDestroyDiscardsPending(t *testing.T) {
	th := startThread(t, "drain")
	defer func() {
		th.Exit(0)
		th.Wait()
	}()

	obj := core.NewObject()
	obj.MoveToThread(th)

	delivered := false
	obj.SetMessageHandler(func(*core.Message) { delivered = true })

	obj.Destroy()
	obj.Destroy() // idempotent

	obj.PostMessage(core.NewMessage("late"))

	executed := false
	core.InvokeMethod0(obj, func() { executed = true }, core.ConnectionBlocking)

	// Flush the worker loop so anything wrongly queued would have run.
	flush := core.NewObject()
	flush.MoveToThread(th)
	core.InvokeMethod0(flush, func() {}, core.ConnectionBlocking)
	flush.Destroy()

	if delivered || executed {
		t.Fatal("work delivered to a destroyed object")
	}
}
