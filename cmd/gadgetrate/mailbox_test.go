package main

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestMailbox_FIFO(t *testing.T) {
	m := NewMailbox()
	want := []Instruction{Start{Rate: 44100}, Stop{}, Start{Rate: 48000}, Quit{}}
	for _, in := range want {
		if err := m.Send(in); err != nil {
			t.Fatalf("Send: %v", err)
		}
	}
	for i, w := range want {
		got, err := m.Receive(context.Background())
		if err != nil {
			t.Fatalf("Receive #%d: %v", i, err)
		}
		if got != w {
			t.Fatalf("Receive #%d = %v, want %v", i, got, w)
		}
	}
}

func TestMailbox_DiscardPending(t *testing.T) {
	m := NewMailbox()
	_ = m.Send(Start{Rate: 1})
	_ = m.Send(Start{Rate: 2})
	if n := m.DiscardPending(); n != 2 {
		t.Fatalf("DiscardPending = %d, want 2", n)
	}
	if n := m.DiscardPending(); n != 0 {
		t.Fatalf("second DiscardPending = %d, want 0", n)
	}
	_ = m.Send(Stop{})
	got, err := m.Receive(context.Background())
	if err != nil || got != (Stop{}) {
		t.Fatalf("Receive = %v, %v; want Stop()", got, err)
	}
}

func TestMailbox_ReceiveBlocksUntilSend(t *testing.T) {
	m := NewMailbox()
	got := make(chan Instruction, 1)
	go func() {
		in, err := m.Receive(context.Background())
		if err == nil {
			got <- in
		}
	}()

	time.Sleep(20 * time.Millisecond)
	select {
	case in := <-got:
		t.Fatalf("Receive returned %v before any send", in)
	default:
	}

	_ = m.Send(Start{Rate: 96000})
	select {
	case in := <-got:
		if in != (Start{Rate: 96000}) {
			t.Fatalf("Receive = %v", in)
		}
	case <-time.After(time.Second):
		t.Fatalf("Receive did not wake up")
	}
}

func TestMailbox_ReceiveHonorsContext(t *testing.T) {
	m := NewMailbox()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := m.Receive(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Receive = %v, want deadline exceeded", err)
	}
}

func TestMailbox_Close(t *testing.T) {
	m := NewMailbox()
	_ = m.Send(Start{Rate: 48000})

	blocked := NewMailbox()
	errc := make(chan error, 1)
	go func() {
		_, err := blocked.Receive(context.Background())
		errc <- err
	}()

	m.Close()
	blocked.Close()

	if err := m.Send(Stop{}); !errors.Is(err, ErrMailboxClosed) {
		t.Fatalf("Send after Close = %v, want ErrMailboxClosed", err)
	}
	if n := m.Len(); n != 0 {
		t.Fatalf("Len after Close = %d, want 0", n)
	}
	select {
	case err := <-errc:
		if !errors.Is(err, ErrMailboxClosed) {
			t.Fatalf("blocked Receive = %v, want ErrMailboxClosed", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("Close did not wake a blocked Receive")
	}
}
