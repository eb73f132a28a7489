package main

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/xiaozhi-esp32-server/streamtts/internal/tts"
)

func TestSayStream(t *testing.T) {
	provider := tts.NewMockProvider(slog.New(slog.NewTextHandler(io.Discard, nil)))
	provider.BytesPerRune = 1
	if err := provider.Initialize(); err != nil {
		t.Fatal(err)
	}

	in := strings.NewReader("第一句。第二句！\n{{mock:wave}}（笑）最后一句")
	var out bytes.Buffer
	n, err := sayStream(context.Background(), provider, in, &out, tts.Options{})
	if err != nil {
		t.Fatalf("sayStream() error = %v", err)
	}
		want := len([]rune("第一句。")) + len([]rune("第二句！")) + len([]rune("最后一句"))
	if n != want || out.Len() != want {
		t.Errorf("wrote %d (%d buffered), want %d", n, out.Len(), want)
	}
}

func TestFeedSentences(t *testing.T) {
	texts := make(chan string, 10)
	err := feedSentences(context.Background(), strings.NewReader("你好。\n世界！\n\n"), texts)
	close(texts)
	if err != nil {
		t.Fatal(err)
	}
	var got []string
	for s := range texts {
		got = append(got, s)
	}
	if len(got) != 2 || got[0] != "你好。" || got[1] != "世界！" {
		t.Errorf("sentences = %q", got)
	}
}

func TestFeedSentencesCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	texts := make(chan string)
	if err := feedSentences(ctx, strings.NewReader("一。二。"), texts); err == nil {
		t.Error("feedSentences() = nil after cancel")
	}
}
