package utils

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSafeGoRunsFunction(t *testing.T) {
	done := make(chan struct{})

	SafeGo(func() {
		close(done)
	}, nil)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("function was not executed")
	}
}

func TestSafeGoInvokesPanicHandler(t *testing.T) {
	var mu sync.Mutex
	var recovered interface{}
	var recordedStack []byte
	done := make(chan struct{})

	SafeGo(func() {
		panic("boom")
	}, func(r interface{}, stack []byte) {
		mu.Lock()
		recovered = r
		recordedStack = stack
		mu.Unlock()
		close(done)
	})

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("panic handler was not invoked")
	}

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "boom", recovered)
	require.NotEmpty(t, recordedStack)
}

func TestSafeGoNilHandlerDoesNotCrash(t *testing.T) {
	done := make(chan struct{})

	SafeGo(func() {
		defer close(done)
		panic("unhandled")
	}, nil)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("goroutine did not finish")
	}
}
