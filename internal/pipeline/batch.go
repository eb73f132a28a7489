package pipeline

import (
	"context"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/xiaozhi-esp32-server/streamtts/internal/segment"
)

// BatchResult 是批量合成的结果
type BatchResult struct {
	// Audio 为按句子顺序拼接的音频
	Audio     []byte
	FullText  string
	Sentences int
	Succeeded int
}

// Batch 对一段完整文本做与 Run 相同的切句，并发合成所有句子，
// 按序号排序后拼接。失败的句子被跳过；全部失败时返回 ErrNoAudio。
// WAV 音频拼接后只保留一个文件头。
func (p *Pipeline) Batch(ctx context.Context, text string, opts RunOptions) (*BatchResult, error) {
	var splitter segment.Splitter
	sentences := append(splitter.Feed(text), splitter.Flush()...)

	var cleaned []string
	for _, s := range sentences {
		if c := segment.Clean(s); c != "" {
			cleaned = append(cleaned, c)
		}
	}

	var sem *semaphore.Weighted
	if p.maxConcurrent > 0 {
		sem = semaphore.NewWeighted(int64(p.maxConcurrent))
	}

	// results[i] 对应序号 i+1
	results := make([]result, len(cleaned))
	g, gctx := errgroup.WithContext(ctx)
	for i, s := range cleaned {
		g.Go(func() error {
			audio, err := p.synthesize(gctx, sem, i+1, s, opts.Synthesis)
			results[i] = result{seq: i + 1, text: s, audio: audio, err: err}
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	out := &BatchResult{FullText: text, Sentences: len(cleaned)}
	var segments [][]byte
	for _, r := range results {
		if r.err != nil || len(r.audio) == 0 {
			p.logger.Warn("sentence synthesis failed, skipping", "sequence", r.seq, "text", r.text, "error", r.err)
			continue
		}
		out.Succeeded++
		segments = append(segments, r.audio)
	}
	if out.Succeeded == 0 {
		return nil, ErrNoAudio
	}
	out.Audio = joinAudio(segments)
	p.logger.Info("batch finished", "sentences", out.Sentences, "succeeded", out.Succeeded, "bytes", len(out.Audio))
	return out, nil
}
