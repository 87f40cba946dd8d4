package queue

import (
	"strings"
	"sync"
	"testing"
	"time"
)

func TestPushPopFIFOAndFull(t *testing.T) {
	q := New(4)

	for i := 0; i < 4; i++ {
		if err := q.Push(42, 1, "msg "+string(rune('0'+i))); err != nil {
			t.Fatalf("push %d: %v", i, err)
		}
	}
	if err := q.Push(42, 1, "msg 4"); err != ErrFull {
		t.Fatalf("expected ErrFull, got %v", err)
	}

	for i := 0; i < 4; i++ {
		msg, err := q.Pop()
		if err != nil {
			t.Fatalf("pop %d: %v", i, err)
		}
		want := "msg " + string(rune('0'+i))
		if msg.Text != want {
			t.Fatalf("pop %d: got %q, want %q", i, msg.Text, want)
		}
	}

	if err := q.Push(42, 1, "msg after drain"); err != nil {
		t.Fatalf("push after drain: %v", err)
	}
}

func TestFairRotationAcrossSenders(t *testing.T) {
	q := New(8)
	senders := []SenderID{1, 2, 3}
	for _, s := range senders {
		for i := 0; i < 3; i++ {
			if err := q.Push(s, ChatID(s), "m"); err != nil {
				t.Fatalf("push: %v", err)
			}
		}
	}

	seen := map[SenderID]int{}
	round := map[SenderID]bool{}
	for i := 0; i < 9; i++ {
		msg, err := q.Pop()
		if err != nil {
			t.Fatalf("pop %d: %v", i, err)
		}
		seen[msg.Sender]++
		if i%len(senders) == 0 {
			round = map[SenderID]bool{}
		}
		if round[msg.Sender] {
			t.Fatalf("sender %d ran twice before others got a turn", msg.Sender)
		}
		round[msg.Sender] = true
	}
	for _, s := range senders {
		if seen[s] != 3 {
			t.Fatalf("sender %d: got %d pops, want 3", s, seen[s])
		}
	}
}

func TestPushTruncatesOversizedText(t *testing.T) {
	q := New(4)
	big := strings.Repeat("x", 2000)
	if err := q.Push(1, 1, big); err != nil {
		t.Fatalf("push: %v", err)
	}
	msg, err := q.Pop()
	if err != nil {
		t.Fatalf("pop: %v", err)
	}
	if len(msg.Text) != maxTextSize {
		t.Fatalf("got %d bytes, want %d", len(msg.Text), maxTextSize)
	}
}

func TestShutdownDrainsThenReturnsEnd(t *testing.T) {
	q := New(4)
	if err := q.Push(1, 1, "a"); err != nil {
		t.Fatalf("push: %v", err)
	}
	q.Shutdown()

	msg, err := q.Pop()
	if err != nil {
		t.Fatalf("expected drain before shutdown sentinel, got %v", err)
	}
	if msg.Text != "a" {
		t.Fatalf("unexpected message: %+v", msg)
	}

	if _, err := q.Pop(); err != ErrShutdown {
		t.Fatalf("expected ErrShutdown, got %v", err)
	}

	// push after shutdown is still accepted
	if err := q.Push(1, 1, "b"); err != nil {
		t.Fatalf("push after shutdown: %v", err)
	}
}

func TestPopBlocksUntilPush(t *testing.T) {
	q := New(4)
	var wg sync.WaitGroup
	wg.Add(1)

	done := make(chan Message, 1)
	go func() {
		defer wg.Done()
		msg, err := q.Pop()
		if err != nil {
			t.Errorf("pop: %v", err)
			return
		}
		done <- msg
	}()

	time.Sleep(20 * time.Millisecond)
	if err := q.Push(7, 7, "hello"); err != nil {
		t.Fatalf("push: %v", err)
	}

	select {
	case msg := <-done:
		if msg.Text != "hello" {
			t.Fatalf("unexpected text %q", msg.Text)
		}
	case <-time.After(time.Second):
		t.Fatal("pop never returned")
	}
	wg.Wait()
}

func TestRingFreedOnDrain(t *testing.T) {
	q := New(4)
	if err := q.Push(1, 1, "a"); err != nil {
		t.Fatalf("push: %v", err)
	}
	if n := q.RingCount(); n != 1 {
		t.Fatalf("ring count = %d, want 1", n)
	}
	if _, err := q.Pop(); err != nil {
		t.Fatalf("pop: %v", err)
	}
	if n := q.RingCount(); n != 0 {
		t.Fatalf("ring count after drain = %d, want 0", n)
	}
}

func TestDepthMatchesRingCounts(t *testing.T) {
	q := New(8)
	for _, s := range []SenderID{1, 2, 3} {
		if err := q.Push(s, 1, "m"); err != nil {
			t.Fatalf("push: %v", err)
		}
	}
	if d := q.Depth(); d != 3 {
		t.Fatalf("depth = %d, want 3", d)
	}
}

func TestRoundRingSizeBounds(t *testing.T) {
	cases := map[int]int{
		0:    4,
		1:    4,
		3:    4,
		5:    8,
		30:   32,
		256:  256,
		500:  256,
		-100: 4,
	}
	for in, want := range cases {
		if got := roundRingSize(in); got != want {
			t.Errorf("roundRingSize(%d) = %d, want %d", in, got, want)
		}
	}
}
