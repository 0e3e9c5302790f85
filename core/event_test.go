//go:build linux

// File: core/event_test.go
// Author: momentics <momentics@gmail.com>
//
// End-to-end coverage of fd notifiers and timers running on thread loops,
// including object migration between loops.

package core_test

import (
	"testing"
	"time"

	"golang.org/x/sys/unix"

	"github.com/jamesmaino/libcamera-willfork/core"
	"github.com/jamesmaino/libcamera-willfork/reactor"
)

func makePipe(t *testing.T) (rd, wr int) {
	t.Helper()
	var p [2]int
	if err := unix.Pipe2(p[:], unix.O_NONBLOCK|unix.O_CLOEXEC); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		unix.Close(p[0])
		unix.Close(p[1])
	})
	return p[0], p[1]
}

type activation struct {
	thread *core.Thread
	data   string
}

func TestEventNotifierActivatesOnReadable(t *testing.T) {
	th := startThread(t, "notifier")
	defer func() {
		th.Exit(0)
		th.Wait()
	}()

	rd, wr := makePipe(t)

	ctl := core.NewObject()
	ctl.MoveToThread(th)

	got := make(chan activation, 1)
	core.InvokeMethod0(ctl, func() {
		n, err := core.NewEventNotifier(rd, reactor.InterestRead, ctl)
		if err != nil {
			t.Error(err)
			return
		}
		n.Activated.Connect(ctl, func(en *core.EventNotifier) {
			buf := make([]byte, 16)
			cnt, _ := unix.Read(en.FD(), buf)
			got <- activation{thread: core.CurrentThread(), data: string(buf[:cnt])}
		})
	}, core.ConnectionBlocking)

	if _, err := unix.Write(wr, []byte("ping")); err != nil {
		t.Fatal(err)
	}

	select {
	case act := <-got:
		if act.thread != th {
			t.Error("notifier slot ran on the wrong thread")
		}
		if act.data != "ping" {
			t.Errorf("slot read %q, want %q", act.data, "ping")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("notifier never activated")
	}

	core.InvokeMethod0(ctl, func() { ctl.Destroy() }, core.ConnectionBlocking)
}

// Readiness that arrived while the object still lived on its old thread
// must be reported again on the thread it moves to.
func TestMoveToThreadKeepsPendingReadiness(t *testing.T) {
	rd, wr := makePipe(t)

	obj := core.NewObject() // owned by the adopted test thread

	got := make(chan activation, 1)
	n, err := core.NewEventNotifier(rd, reactor.InterestRead, obj)
	if err != nil {
		t.Fatal(err)
	}
	n.Activated.Connect(obj, func(en *core.EventNotifier) {
		buf := make([]byte, 16)
		cnt, _ := unix.Read(en.FD(), buf)
		got <- activation{thread: core.CurrentThread(), data: string(buf[:cnt])}
	})

	// The fd becomes readable before the move; the adopted thread runs no
	// loop, so nothing observes it here.
	if _, err := unix.Write(wr, []byte("pend")); err != nil {
		t.Fatal(err)
	}

	th := startThread(t, "adoptive")
	defer func() {
		th.Exit(0)
		th.Wait()
	}()

	obj.MoveToThread(th)

	select {
	case act := <-got:
		if act.thread != th {
			t.Error("activation after move ran on the wrong thread")
		}
		if act.data != "pend" {
			t.Errorf("slot read %q, want %q", act.data, "pend")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("readiness pending before the move was lost")
	}

	core.InvokeMethod0(obj, func() { obj.Destroy() }, core.ConnectionBlocking)
}

func TestOneShotTimerFiresOnce(t *testing.T) {
	th := startThread(t, "oneshot")
	defer func() {
		th.Exit(0)
		th.Wait()
	}()

	ctl := core.NewObject()
	ctl.MoveToThread(th)

	fires := make(chan time.Time, 4)
	var timer *core.Timer
	core.InvokeMethod0(ctl, func() {
		timer = core.NewTimer(ctl)
		timer.Timeout.Connect(ctl, func(*core.Timer) {
			fires <- time.Now()
		})
		timer.Start(20*time.Millisecond, false)
	}, core.ConnectionBlocking)

	select {
	case <-fires:
	case <-time.After(2 * time.Second):
		t.Fatal("one-shot timer never fired")
	}

	running, _ := core.InvokeMethod0R(ctl, timer.Running, core.ConnectionBlocking)
	if running {
		t.Error("one-shot timer still running after expiry")
	}

	select {
	case <-fires:
		t.Fatal("one-shot timer fired twice")
	case <-time.After(100 * time.Millisecond):
	}

	core.InvokeMethod0(ctl, func() { ctl.Destroy() }, core.ConnectionBlocking)
}

func TestRepeatingTimerFiresUntilStopped(t *testing.T) {
	th := startThread(t, "repeat")
	defer func() {
		th.Exit(0)
		th.Wait()
	}()

	ctl := core.NewObject()
	ctl.MoveToThread(th)

	fires := make(chan struct{}, 16)
	var timer *core.Timer
	core.InvokeMethod0(ctl, func() {
		timer = core.NewTimer(ctl)
		timer.Timeout.Connect(ctl, func(*core.Timer) {
			select {
			case fires <- struct{}{}:
			default:
			}
		})
		timer.Start(10*time.Millisecond, true)
	}, core.ConnectionBlocking)

	for i := 0; i < 3; i++ {
		select {
		case <-fires:
		case <-time.After(2 * time.Second):
			t.Fatalf("repeating timer stalled after %d fires", i)
		}
	}

	core.InvokeMethod0(ctl, timer.Stop, core.ConnectionBlocking)
	for len(fires) > 0 {
		<-fires // drop fires raced with Stop
	}
	select {
	case <-fires:
		t.Fatal("timer fired after Stop")
	case <-time.After(60 * time.Millisecond):
	}

	core.InvokeMethod0(ctl, func() { ctl.Destroy() }, core.ConnectionBlocking)
}

// Arming a timer from a thread other than its owner's is a programming
// error.
func TestTimerStartForeignThreadPanics(t *testing.T) {
	th := startThread(t, "foreign")
	defer func() {
		th.Exit(0)
		th.Wait()
	}()

	ctl := core.NewObject()
	ctl.MoveToThread(th)
	defer ctl.Destroy()

	timer := core.NewTimer(ctl)
	defer func() {
		if recover() == nil {
			t.Fatal("Start from a foreign thread did not panic")
		}
	}()
	timer.Start(time.Second, false)
}

// A running timer keeps its deadline when its owner moves threads.
func TestTimerSurvivesMove(t *testing.T) {
	src := startThread(t, "src")
	dst := startThread(t, "dst")
	defer func() {
		src.Exit(0)
		dst.Exit(0)
		src.Wait()
		dst.Wait()
	}()

	ctl := core.NewObject()
	ctl.MoveToThread(src)

	fired := make(chan *core.Thread, 1)
	core.InvokeMethod0(ctl, func() {
		timer := core.NewTimer(ctl)
		timer.Timeout.Connect(ctl, func(*core.Timer) {
			fired <- core.CurrentThread()
		})
		timer.Start(50*time.Millisecond, false)
	}, core.ConnectionBlocking)

	ctl.MoveToThread(dst)

	select {
	case ranOn := <-fired:
		if ranOn != dst {
			t.Error("timer fired on the old thread after a move")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timer lost across the move")
	}

	core.InvokeMethod0(ctl, func() { ctl.Destroy() }, core.ConnectionBlocking)
}
