package world

import (
	"context"
	"testing"

	"github.com/yysun/agent-world/internal/shell"
)

func TestStopMessageProcessingAbortsControllers(t *testing.T) {
	w := newTestWorld(t, &fakeProvider{})

	ctx1, release1 := w.BeginChatMessageProcessing(context.Background(), "chat-1")
	ctx2, release2 := w.BeginChatMessageProcessing(context.Background(), "chat-1")
	other, releaseOther := w.BeginChatMessageProcessing(context.Background(), "chat-2")
	defer release1()
	defer release2()
	defer releaseOther()

	res := w.StopMessageProcessing("chat-1", nil)

	if !res.Success || !res.Stopped || res.Reason != "stopped" {
		t.Fatalf("result = %+v", res)
	}
	if res.Processing.AbortedActive != 2 || res.StoppedOperations != 2 {
		t.Fatalf("result = %+v, want two aborted operations", res)
	}
	if ctx1.Err() == nil || ctx2.Err() == nil {
		t.Fatal("chat-1 contexts should be canceled")
	}
	if other.Err() != nil {
		t.Fatal("chat-2 context must not be canceled")
	}
}

func TestStopMessageProcessingNoActive(t *testing.T) {
	w := newTestWorld(t, &fakeProvider{})
	res := w.StopMessageProcessing("chat-1", nil)
	if !res.Success || res.Stopped || res.Reason != "no-active-process" {
		t.Fatalf("result = %+v", res)
	}
}

func TestStopMessageProcessingKillsShell(t *testing.T) {
	w := newTestWorld(t, &fakeProvider{})
	reg := shell.NewRegistry(nil)

	rec := reg.Create(shell.ExecutionRecord{
		ExecutionID: "exec-1",
		Command:     "sleep 100",
		Directory:   "/tmp",
		WorldID:     w.Data.ID,
		ChatID:      "chat-1",
	})
	h := &stubHandle{}
	reg.Attach(rec.ExecutionID, h)
	if err := reg.Transition(rec.ExecutionID, shell.StatusStarting, shell.Patch{}); err != nil {
		t.Fatalf("Transition: %v", err)
	}
	if err := reg.Transition(rec.ExecutionID, shell.StatusRunning, shell.Patch{}); err != nil {
		t.Fatalf("Transition: %v", err)
	}

	res := w.StopMessageProcessing("chat-1", reg)
	if res.Shell.Killed != 1 {
		t.Fatalf("result = %+v, want one shell kill", res)
	}
	if !h.terminated {
		t.Fatal("handle was not terminated")
	}
}

type stubHandle struct{ terminated bool }

func (s *stubHandle) Terminate() error {
	s.terminated = true
	return nil
}

func TestReleaseRemovesController(t *testing.T) {
	w := newTestWorld(t, &fakeProvider{})
	_, release := w.BeginChatMessageProcessing(context.Background(), "chat-1")
	release()
	release()

	res := w.StopMessageProcessing("chat-1", nil)
	if res.Stopped {
		t.Fatalf("released controller still counted: %+v", res)
	}
}
