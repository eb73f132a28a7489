package conversation

import (
	"fmt"
	"sync"
	"testing"

	"github.com/xiaozhi-esp32-server/streamtts/internal/llm"
)

func TestRegistryCreatesOnFirstUse(t *testing.T) {
	r := NewRegistry(Profile{Voice: "v1", Speed: 1.0}, "sys", 0)
	if r.Len() != 0 {
		t.Fatalf("Len() = %d, want 0", r.Len())
	}
	p := r.Get("alice")
	if p.Voice != "v1" || p.Speed != 1.0 {
		t.Errorf("Get() = %+v, want defaults", p)
	}
	if r.Len() != 1 {
		t.Errorf("Len() = %d, want 1", r.Len())
	}
}

func TestRegistryUpdateIsPerUser(t *testing.T) {
	r := NewRegistry(Profile{Voice: "v1"}, "", 10)
	got := r.Update("alice", func(p *Profile) { p.Voice = "v2"; p.DeepThinking = true })
	if got.Voice != "v2" || !got.DeepThinking {
		t.Errorf("Update() = %+v", got)
	}
	if p := r.Get("bob"); p.Voice != "v1" || p.DeepThinking {
		t.Errorf("bob = %+v, want defaults", p)
	}
	if p := r.Get("alice"); p.Voice != "v2" {
		t.Errorf("alice = %+v", p)
	}
}

func TestRegistrySnapshotIsolation(t *testing.T) {
	r := NewRegistry(Profile{}, "", 10)
	r.AppendExchange("alice", "q", "a")

	p := r.Get("alice")
	p.History[0].Content = "changed"
	p.History = append(p.History, llm.Message{Role: llm.RoleUser, Content: "extra"})

	again := r.Get("alice")
	if len(again.History) != 2 || again.History[0].Content != "q" {
		t.Errorf("History = %+v, want untouched", again.History)
	}
}

func TestRegistryHistoryBound(t *testing.T) {
	r := NewRegistry(Profile{}, "sys", 3)
	for i := 0; i < 5; i++ {
		r.AppendExchange("alice", fmt.Sprintf("q%d", i), fmt.Sprintf("a%d", i))
	}

	h := r.Get("alice").History
	if len(h) != 6 {
		t.Fatalf("len(History) = %d, want 6", len(h))
	}
	if h[0].Content != "q2" || h[5].Content != "a4" {
		t.Errorf("History = %+v, want last three exchanges", h)
	}
}

func TestRegistryMessages(t *testing.T) {
	r := NewRegistry(Profile{}, "sys", 10)
	r.AppendExchange("alice", "q0", "a0")

	msgs := r.Messages("alice", "q1")
	want := []llm.Message{
		{Role: llm.RoleSystem, Content: "sys"},
		{Role: llm.RoleUser, Content: "q0"},
		{Role: llm.RoleAssistant, Content: "a0"},
		{Role: llm.RoleUser, Content: "q1"},
	}
	if len(msgs) != len(want) {
		t.Fatalf("Messages() = %+v", msgs)
	}
	for i := range want {
		if msgs[i] != want[i] {
			t.Errorf("msgs[%d] = %+v, want %+v", i, msgs[i], want[i])
		}
	}

	if got := NewRegistry(Profile{}, "", 10).Messages("bob", "hi"); len(got) != 1 || got[0].Role != llm.RoleUser {
		t.Errorf("Messages() without system prompt = %+v", got)
	}
}

func TestRegistryClear(t *testing.T) {
	r := NewRegistry(Profile{Voice: "v1"}, "", 10)
	r.Update("alice", func(p *Profile) { p.Voice = "v2" })
	r.AppendExchange("alice", "q", "a")

	if !r.Clear("alice") {
		t.Error("Clear() = false for existing user")
	}
	if r.Clear("alice") {
		t.Error("Clear() = true for missing user")
	}
	if p := r.Get("alice"); p.Voice != "v1" || len(p.History) != 0 {
		t.Errorf("after Clear Get() = %+v, want fresh defaults", p)
	}
}

func TestRegistryConcurrentAccess(t *testing.T) {
	r := NewRegistry(Profile{}, "", 10)
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			user := fmt.Sprintf("u%d", i%4)
			r.AppendExchange(user, "q", "a")
			r.Update(user, func(p *Profile) { p.Speed += 0.1 })
			_ = r.Messages(user, "next")
		}(i)
	}
	wg.Wait()
	if r.Len() != 4 {
		t.Errorf("Len() = %d, want 4", r.Len())
	}
}
