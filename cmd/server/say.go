package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/xiaozhi-esp32-server/streamtts/internal/pipeline"
	"github.com/xiaozhi-esp32-server/streamtts/internal/segment"
	"github.com/xiaozhi-esp32-server/streamtts/internal/tts"
)

var sayFlags struct {
	output  string
	voice   string
	speed   float64
	emotion string
	stream  bool
}

var sayCmd = &cobra.Command{
	Use:   "say [text]",
	Short: "Synthesize text to an audio file",
	Long: `Synthesize text to an audio file.

Without --stream the text (argument or stdin) is split into sentences that are
synthesized concurrently and concatenated in order.

With --stream stdin is read line by line and every complete sentence is sent
to a single incremental session as soon as it is available.

Examples:
  server say "你好。今天天气不错！" -o hello.wav
  cat story.txt | server say --stream -o story.wav`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if sayFlags.output == "" {
			return errors.New("output file is required, use -o flag")
		}
		cfg, logger, err := loadConfig()
		if err != nil {
			return err
		}
		svc, err := newServices(cfg, logger, false)
		if err != nil {
			return err
		}
		defer svc.close()

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		opts := tts.Options{Voice: sayFlags.voice, Speed: sayFlags.speed, Emotion: sayFlags.emotion}

		out, err := os.Create(sayFlags.output)
		if err != nil {
			return err
		}
		defer out.Close()

		if sayFlags.stream {
			provider, err := svc.tts.GetProvider("")
			if err != nil {
				return err
			}
			n, err := sayStream(ctx, provider, cmd.InOrStdin(), out, opts)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %d bytes to %s\n", n, sayFlags.output)
			return nil
		}

		text := ""
		if len(args) == 1 {
			text = args[0]
		} else {
			data, err := io.ReadAll(cmd.InOrStdin())
			if err != nil {
				return err
			}
			text = string(data)
		}
		if strings.TrimSpace(text) == "" {
			return errors.New("no text to synthesize")
		}

		res, err := svc.pipeline.Batch(ctx, text, pipeline.RunOptions{Synthesis: opts})
		if err != nil {
			return err
		}
		if _, err := out.Write(res.Audio); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "wrote %d bytes to %s (%d/%d sentences)\n",
			len(res.Audio), sayFlags.output, res.Succeeded, res.Sentences)
		return nil
	},
}

func init() {
	sayCmd.Flags().StringVarP(&sayFlags.output, "output", "o", "", "output audio file")
	sayCmd.Flags().StringVar(&sayFlags.voice, "voice", "", "voice id")
	sayCmd.Flags().Float64Var(&sayFlags.speed, "speed", 0, "speed multiplier, 1.0 is normal")
	sayCmd.Flags().StringVar(&sayFlags.emotion, "emotion", "", "emotion for voices that support it")
	sayCmd.Flags().BoolVar(&sayFlags.stream, "stream", false, "read stdin incrementally into one session")
}

// streamSynthesizer 是增量合成能力，tts.Provider 满足它
type streamSynthesizer interface {
	SynthesizeStream(ctx context.Context, texts <-chan string, opts tts.Options, onAudio func([]byte) error) error
}

// sayStream 把 r 中的文本切句后送入一个增量会话，音频写入 w
func sayStream(ctx context.Context, synth streamSynthesizer, r io.Reader, w io.Writer, opts tts.Options) (int, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	texts := make(chan string)
	readErr := make(chan error, 1)
	go func() {
		defer close(texts)
		readErr <- feedSentences(ctx, r, texts)
	}()

	written := 0
	err := synth.SynthesizeStream(ctx, texts, opts, func(audio []byte) error {
		n, err := w.Write(audio)
		written += n
		return err
	})
	cancel()
	if rerr := <-readErr; err == nil && rerr != nil && !errors.Is(rerr, context.Canceled) {
		err = rerr
	}
	return written, err
}

func feedSentences(ctx context.Context, r io.Reader, texts chan<- string) error {
	var splitter segment.Splitter
	send := func(sentences []string) error {
		for _, s := range sentences {
			if s = segment.Clean(s); s == "" {
				continue
			}
			select {
			case texts <- s:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		return nil
	}

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		if err := send(splitter.Feed(scanner.Text() + "\n")); err != nil {
			return err
		}
	}
	if err := scanner.Err(); err != nil {
		return err
	}
	return send(splitter.Flush())
}
