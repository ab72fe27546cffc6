package utils

import (
	"context"
	"sync/atomic"
	"testing"

	"go.viam.com/test"
)

func TestStoppableWorkers(t *testing.T) {
	var ran, sawCancel atomic.Bool
	workers := NewStoppableWorkers(func(ctx context.Context) {
		ran.Store(true)
		<-ctx.Done()
		sawCancel.Store(true)
	})

	test.That(t, workers.Context().Err(), test.ShouldBeNil)
	workers.Stop()
	test.That(t, ran.Load(), test.ShouldBeTrue)
	test.That(t, sawCancel.Load(), test.ShouldBeTrue)
	test.That(t, workers.Context().Err(), test.ShouldNotBeNil)
}

func TestAddWorkersAfterStop(t *testing.T) {
	workers := NewStoppableWorkers()
	workers.Stop()

	// Never runs; Stop already cancelled the shared context.
	workers.AddWorkers(func(ctx context.Context) {
		t.Error("worker ran after stop")
	})
	workers.Stop()
}

func TestStopWaitsForWorkers(t *testing.T) {
	var finished atomic.Int32
	started := make(chan struct{})
	workers := NewStoppableWorkers(func(ctx context.Context) {
		close(started)
		<-ctx.Done()
		finished.Add(1)
	})
	<-started

	workers.AddWorkers(func(ctx context.Context) {
		<-ctx.Done()
		finished.Add(1)
	})

	workers.Stop()
	test.That(t, finished.Load(), test.ShouldEqual, 2)
}
