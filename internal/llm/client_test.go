package llm

import (
	"context"
	"errors"
	"io"
	"testing"
)

func TestReadAll(t *testing.T) {
	s := NewSliceStream(
		&ResponseChunk{Kind: ChunkReasoning, Content: "想一想"},
		&ResponseChunk{Kind: ChunkText, Content: "你好，"},
		&ResponseChunk{Kind: ChunkText, Content: "世界。"},
	)
	got, err := ReadAll(context.Background(), s)
	if err != nil {
		t.Fatalf("ReadAll() error = %v", err)
	}
	if got != "你好，世界。" {
		t.Errorf("ReadAll() = %q", got)
	}
}

func TestSliceStreamError(t *testing.T) {
	boom := errors.New("upstream reset")
	s := TextStream("a")
	s.Err = boom

	if _, err := s.Next(context.Background()); err != nil {
		t.Fatalf("first Next() error = %v", err)
	}
	if _, err := s.Next(context.Background()); !errors.Is(err, boom) {
		t.Fatalf("second Next() error = %v, want %v", err, boom)
	}
}

func TestSliceStreamCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := TextStream("a").Next(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("Next() error = %v", err)
	}
}

func TestManagerRequiresInitialize(t *testing.T) {
	m := NewManager(nil)
	m.RegisterProvider("mock", NewMockProvider(""))
	if _, err := m.StreamChat(context.Background(), nil, ChatOptions{}); !errors.Is(err, ErrNotInitialized) {
		t.Fatalf("StreamChat() error = %v, want ErrNotInitialized", err)
	}
	if err := m.SetDefaultProvider("missing"); !errors.Is(err, ErrProviderNotFound) {
		t.Fatalf("SetDefaultProvider() error = %v", err)
	}
}

func TestMockProviderDeepThinking(t *testing.T) {
	p := NewMockProvider("")
	p.delay = 0
	if err := p.Initialize(); err != nil {
		t.Fatal(err)
	}
	s, err := p.StreamChat(context.Background(), []Message{{Role: RoleUser, Content: "你好"}}, ChatOptions{DeepThinking: true})
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	first, err := s.Next(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if first.Kind != ChunkReasoning {
		t.Errorf("first chunk kind = %s, want reasoning", first.Kind)
	}
	var n int
	for {
		c, err := s.Next(context.Background())
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			t.Fatal(err)
		}
		if c.Kind != ChunkText {
			t.Errorf("chunk kind = %s, want text", c.Kind)
		}
		n++
	}
	if n == 0 {
		t.Error("no text chunks")
	}
}
