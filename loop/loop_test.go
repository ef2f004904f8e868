package loop

import (
	"sync"
	"testing"

	. "github.com/fulldump/biff"
)

func TestLoop_Order(t *testing.T) {
	l := New()
	defer l.Close()

	result := []int{}
	for i := 0; i < 100; i++ {
		i := i
		l.Post(func() {
			result = append(result, i)
		})
	}
	l.Call(func() {})

	AssertEqual(len(result), 100)
	for i, v := range result {
		if v != i {
			t.Fatalf("task %d ran at position %d", v, i)
		}
	}
}

func TestLoop_PostFromTask(t *testing.T) {
	l := New()
	defer l.Close()

	order := []string{}
	l.Call(func() {
		l.Post(func() {
			order = append(order, "nested")
		})
		order = append(order, "outer")
	})
	l.Call(func() {})

	AssertEqual(order, []string{"outer", "nested"})
}

func TestLoop_ConcurrentPost(t *testing.T) {
	l := New()
	defer l.Close()

	n := 0
	wg := &sync.WaitGroup{}
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			l.Post(func() { n++ })
		}()
	}
	wg.Wait()
	l.Call(func() {})

	AssertEqual(n, 50)
}

func TestLoop_Close(t *testing.T) {
	l := New()

	ran := false
	l.Post(func() { ran = true })
	l.Close()

	AssertTrue(ran)
	AssertEqual(l.Post(func() {}), false)
	AssertEqual(l.Call(func() {}), false)
}
