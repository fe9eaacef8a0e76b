// Package benchmarks measures the fiber scheduler and the work-stealing
// task manager under varying worker counts and job sizes, the same axes
// the teacher's workerpool benchmarks swept.
package benchmarks

import (
	"fmt"
	"sync/atomic"
	"testing"

	"github.com/lpanian/lptoolkit-sub000/fiber"
	"github.com/lpanian/lptoolkit-sub000/taskmgr"
)

func BenchmarkFiberWorkerCounts(b *testing.B) {
	for _, numWorkers := range []int{1, 2, 4, 8, 16} {
		b.Run(fmt.Sprintf("Workers_%d", numWorkers), func(b *testing.B) {
			for i := 0; i < b.N; i++ {
				runFiberBatch(b, numWorkers, 100)
			}
		})
	}
}

func BenchmarkFiberJobSizes(b *testing.B) {
	for _, jobs := range []int{10, 100, 1000, 10000} {
		b.Run(fmt.Sprintf("Jobs_%d", jobs), func(b *testing.B) {
			for i := 0; i < b.N; i++ {
				runFiberBatch(b, 4, jobs)
			}
		})
	}
}

func runFiberBatch(b *testing.B, numWorkers, numJobs int) {
	b.Helper()
	s, err := fiber.NewScheduler(fiber.Config{NumWorkerThreads: uint(numWorkers), Logger: fiber.NopLogger()})
	if err != nil {
		b.Fatal(err)
	}
	defer func() {
		if err := s.Purge(); err != nil {
			b.Fatal(err)
		}
	}()

	var done atomic.Int64
	tasks := make([]*fiber.Task, numJobs)
	for i := range tasks {
		tasks[i] = fiber.NewTask(func(any) { done.Add(1) }, nil, false)
	}

	counter := &fiber.Counter{}
	s.RunTasks(tasks, counter, fiber.Low)
	s.WaitForCounter(counter)

	if done.Load() != int64(numJobs) {
		b.Fatalf("expected %d completions, got %d", numJobs, done.Load())
	}
}

func BenchmarkTaskmgrWorkerCounts(b *testing.B) {
	for _, numWorkers := range []int{1, 2, 4, 8, 16} {
		b.Run(fmt.Sprintf("Workers_%d", numWorkers), func(b *testing.B) {
			for i := 0; i < b.N; i++ {
				runTaskmgrBatch(b, numWorkers, 100)
			}
		})
	}
}

func BenchmarkTaskmgrJobSizes(b *testing.B) {
	for _, jobs := range []int{10, 100, 1000, 10000} {
		b.Run(fmt.Sprintf("Jobs_%d", jobs), func(b *testing.B) {
			for i := 0; i < b.N; i++ {
				runTaskmgrBatch(b, 4, jobs)
			}
		})
	}
}

func runTaskmgrBatch(b *testing.B, numWorkers, numJobs int) {
	b.Helper()
	// LogSize 14 (capacity 16384) fits the largest sweep, 10,000 jobs.
	m, err := taskmgr.NewManagerWithConfig(taskmgr.Config{NumWorkers: numWorkers, LogSize: 14})
	if err != nil {
		b.Fatal(err)
	}
	defer m.Shutdown()

	var done atomic.Int64
	handles := make([]taskmgr.Handle, numJobs)
	for i := range handles {
		h, err := m.CreateTask(func(*taskmgr.Job, []byte) { done.Add(1) })
		if err != nil {
			b.Fatal(err)
		}
		handles[i] = h
	}
	for _, h := range handles {
		if err := m.Run(h); err != nil {
			b.Fatal(err)
		}
	}
	for _, h := range handles {
		m.Wait(h)
		m.Release(h)
	}

	if done.Load() != int64(numJobs) {
		b.Fatalf("expected %d completions, got %d", numJobs, done.Load())
	}
}
