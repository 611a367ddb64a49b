package p2pchat

import (
	"sync"
	"testing"
	"time"
)

func TestInlineExecutor(t *testing.T) {
	ran := false
	InlineExecutor{}.Execute(func() { ran = true })

	if !ran {
		t.Error("task should run before Execute returns")
	}
}

func TestSerialExecutor_Order(t *testing.T) {
	e := NewSerialExecutor(4)
	defer e.Close()

	var mu sync.Mutex
	var got []int
	done := make(chan struct{})

	for i := 0; i < 100; i++ {
		i := i
		e.Execute(func() {
			mu.Lock()
			got = append(got, i)
			mu.Unlock()
			if i == 99 {
				close(done)
			}
		})
	}

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for tasks")
	}

	mu.Lock()
	defer mu.Unlock()
	for i, v := range got {
		if v != i {
			t.Fatalf("task %d ran at position %d", v, i)
		}
	}
}

func TestSerialExecutor_OneAtATime(t *testing.T) {
	e := NewSerialExecutor(0)
	defer e.Close()

	var mu sync.Mutex
	running, maxRunning := 0, 0
	var wg sync.WaitGroup

	for i := 0; i < 20; i++ {
		wg.Add(1)
		e.Execute(func() {
			defer wg.Done()
			mu.Lock()
			running++
			if running > maxRunning {
				maxRunning = running
			}
			mu.Unlock()

			time.Sleep(time.Millisecond)

			mu.Lock()
			running--
			mu.Unlock()
		})
	}
	wg.Wait()

	if maxRunning != 1 {
		t.Errorf("max concurrent tasks = %d, want 1", maxRunning)
	}
}

func TestSerialExecutor_ExecuteAfterClose(t *testing.T) {
	e := NewSerialExecutor(1)
	e.Close()

	ran := make(chan struct{}, 1)
	e.Execute(func() { ran <- struct{}{} })

	select {
	case <-ran:
		t.Error("task should be dropped after Close")
	case <-time.After(50 * time.Millisecond):
	}

	// Close is idempotent.
	e.Close()
}

func TestSerialExecutor_CloseUnblocksExecute(t *testing.T) {
	e := NewSerialExecutor(1)

	block := make(chan struct{})
	started := make(chan struct{})
	e.Execute(func() {
		close(started)
		<-block
	})
	<-started

	// Fill the queue, then one more Execute blocks.
	e.Execute(func() {})
	returned := make(chan struct{})
	go func() {
		e.Execute(func() {})
		close(returned)
	}()

	go func() {
		time.Sleep(50 * time.Millisecond)
		close(block)
	}()
	e.Close()

	select {
	case <-returned:
	case <-time.After(5 * time.Second):
		t.Fatal("Execute still blocked after Close")
	}
}
