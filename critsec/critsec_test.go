package critsec

import (
	"testing"
	"time"
)

func TestNestingSameGoroutine(t *testing.T) {
	Enter()
	Enter()
	if !InSection() {
		t.Fatal("expected to be in section after nested Enter")
	}
	Exit()
	if !InSection() {
		t.Fatal("expected still in section after one Exit of two")
	}
	Exit()
	if InSection() {
		t.Fatal("expected section vacated after matching Exit")
	}
}

func TestConcurrentCallerBlocks(t *testing.T) {
	Enter()
	defer Exit()

	entered := make(chan struct{})
	go func() {
		Enter()
		close(entered)
		Exit()
	}()

	select {
	case <-entered:
		t.Fatal("second goroutine entered while section was held")
	case <-time.After(50 * time.Millisecond):
	}
}

// TestHandoffAcrossGoroutines exercises the property Exit relies on: a
// section entered by one goroutine can be exited by another, the same
// shape as a scheduler context switch performed mid-section.
func TestHandoffAcrossGoroutines(t *testing.T) {
	Enter()

	done := make(chan struct{})
	go func() {
		Exit()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("handoff exit never completed")
	}

	if InSection() {
		t.Fatal("expected section vacated after cross-goroutine exit")
	}
}
