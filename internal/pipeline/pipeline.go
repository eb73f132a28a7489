// Package pipeline 把流式文本切句，并发合成每一句，并按完成顺序回报音频。
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/xiaozhi-esp32-server/streamtts/internal/llm"
	"github.com/xiaozhi-esp32-server/streamtts/internal/segment"
	"github.com/xiaozhi-esp32-server/streamtts/internal/tts"
)

// TextSource 产生文本片段，结束时返回 io.EOF
type TextSource interface {
	Next(ctx context.Context) (*llm.ResponseChunk, error)
}

// RunOptions 是单次运行的参数
type RunOptions struct {
	Synthesis tts.Options

	// RequireAudio 为 true 时，文本结束却没有任何音频会以 error 事件结束
	RequireAudio bool
}

// Option 配置 Pipeline
type Option func(*Pipeline)

// WithMaxConcurrent 限制同时进行的合成数，n <= 0 表示不限制
func WithMaxConcurrent(n int) Option {
	return func(p *Pipeline) { p.maxConcurrent = n }
}

// WithLogger 设置日志
func WithLogger(logger *slog.Logger) Option {
	return func(p *Pipeline) { p.logger = logger }
}

// Pipeline 可以被多个运行并发复用
type Pipeline struct {
	synth         tts.Synthesizer
	logger        *slog.Logger
	maxConcurrent int
	metrics       *instruments
}

// New 创建流水线
func New(synth tts.Synthesizer, opts ...Option) *Pipeline {
	p := &Pipeline{synth: synth, logger: slog.Default()}
	for _, opt := range opts {
		opt(p)
	}
	p.logger = p.logger.With("component", "pipeline")
	p.metrics = newInstruments(p.logger)
	return p
}

type fragment struct {
	chunk *llm.ResponseChunk
	err   error
}

type result struct {
	seq   int
	text  string
	audio []byte
	err   error
}

// Run 消费 src，边读边切句，每句开启一个独立的合成任务。
//
// 事件都在调用 Run 的 goroutine 中按顺序交给 onEvent：
// text/reasoning 事件与到达顺序一致，audio 事件按合成完成的顺序发出，
// 携带句子序号和当时已知的句子总数；最后恰好一个 done 或 error。
// 单句合成失败只记录日志并跳过。
//
// ctx 取消或 onEvent 返回错误时，所有未完成的合成都会被取消，
// Run 在它们全部退出后才返回。
func (p *Pipeline) Run(ctx context.Context, src TextSource, opts RunOptions, onEvent EventHandler) error {
	ctx, cancel := context.WithCancel(ctx)
	g, gctx := errgroup.WithContext(ctx)
	defer func() {
		cancel()
		_ = g.Wait()
	}()

	var sem *semaphore.Weighted
	if p.maxConcurrent > 0 {
		sem = semaphore.NewWeighted(int64(p.maxConcurrent))
	}

	fragments := make(chan fragment)
	results := make(chan result)

	g.Go(func() error {
		for {
			chunk, err := src.Next(gctx)
			select {
			case fragments <- fragment{chunk: chunk, err: err}:
			case <-gctx.Done():
				return nil
			}
			if err != nil {
				return nil
			}
		}
	})

	var (
		splitter  segment.Splitter
		fullText  strings.Builder
		seq       int
		pending   int
		succeeded int
		textDone  bool
	)

	launch := func(sentence string) {
		text := segment.Clean(sentence)
		if text == "" {
			return
		}
		seq++
		pending++
		n := seq
		p.logger.Debug("sentence queued", "sequence", n, "text", text)
		g.Go(func() error {
			audio, err := p.synthesize(gctx, sem, n, text, opts.Synthesis)
			select {
			case results <- result{seq: n, text: text, audio: audio, err: err}:
			case <-gctx.Done():
			}
			return nil
		})
	}

	fail := func(err error) error {
		if herr := onEvent(Event{Type: EventError, Err: err}); herr != nil {
			p.logger.Warn("error event not delivered", "error", herr)
		}
		return err
	}

	in := fragments
	for !textDone || pending > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case f := <-in:
			if errors.Is(f.err, io.EOF) {
				for _, s := range splitter.Flush() {
					launch(s)
				}
				textDone = true
				in = nil
				continue
			}
			if f.err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				return fail(fmt.Errorf("pipeline: text source: %w", f.err))
			}
			if f.chunk == nil || f.chunk.Content == "" {
				continue
			}
			if f.chunk.Kind == llm.ChunkReasoning {
				if err := onEvent(Event{Type: EventReasoning, Content: f.chunk.Content}); err != nil {
					return err
				}
				continue
			}
			fullText.WriteString(f.chunk.Content)
			if err := onEvent(Event{Type: EventText, Content: f.chunk.Content}); err != nil {
				return err
			}
			for _, s := range splitter.Feed(f.chunk.Content) {
				launch(s)
			}

		case r := <-results:
			pending--
			if r.err != nil || len(r.audio) == 0 {
				p.logger.Warn("sentence synthesis failed, skipping", "sequence", r.seq, "text", r.text, "error", r.err)
				continue
			}
			succeeded++
			if err := onEvent(Event{Type: EventAudio, Sequence: r.seq, TotalExpected: seq, Audio: r.audio}); err != nil {
				return err
			}
		}
	}

	if opts.RequireAudio && succeeded == 0 {
		return fail(ErrNoAudio)
	}

	p.logger.Info("run finished", "sentences", seq, "succeeded", succeeded)
	return onEvent(Event{Type: EventDone, FullText: strings.TrimSpace(fullText.String())})
}

// synthesize 合成一句，受并发上限约束并记录指标
func (p *Pipeline) synthesize(ctx context.Context, sem *semaphore.Weighted, seq int, text string, opts tts.Options) ([]byte, error) {
	if sem != nil {
		if err := sem.Acquire(ctx, 1); err != nil {
			return nil, err
		}
		defer sem.Release(1)
	}

	start := time.Now()
	audio, err := p.synth.Synthesize(ctx, text, opts)
	status := "ok"
	switch {
	case err != nil:
		status = "failed"
		err = fmt.Errorf("%w: sentence %d: %w", tts.ErrSynthesisFailed, seq, err)
	case len(audio) == 0:
		status = "empty"
	}
	p.metrics.record(ctx, time.Since(start), len(audio), status)
	return audio, err
}

type instruments struct {
	duration metric.Float64Histogram
	segments metric.Int64Counter
	bytes    metric.Int64Counter
}

func newInstruments(logger *slog.Logger) *instruments {
	meter := otel.Meter("github.com/xiaozhi-esp32-server/streamtts/internal/pipeline")
	in := &instruments{}
	var err error
	if in.duration, err = meter.Float64Histogram("streamtts.synthesis.duration",
		metric.WithDescription("Per-sentence synthesis latency"),
		metric.WithUnit("s")); err != nil {
		logger.Warn("create histogram", "error", err)
	}
	if in.segments, err = meter.Int64Counter("streamtts.synthesis.segments",
		metric.WithDescription("Sentences synthesized, by status")); err != nil {
		logger.Warn("create counter", "error", err)
	}
	if in.bytes, err = meter.Int64Counter("streamtts.synthesis.audio_bytes",
		metric.WithUnit("By")); err != nil {
		logger.Warn("create counter", "error", err)
	}
	return in
}

func (in *instruments) record(ctx context.Context, d time.Duration, n int, status string) {
	attrs := metric.WithAttributes(attribute.String("status", status))
	if in.duration != nil {
		in.duration.Record(ctx, d.Seconds(), attrs)
	}
	if in.segments != nil {
		in.segments.Add(ctx, 1, attrs)
	}
	if in.bytes != nil && n > 0 {
		in.bytes.Add(ctx, int64(n))
	}
}
