package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/xiaozhi-esp32-server/streamtts/internal/models"
	"github.com/xiaozhi-esp32-server/streamtts/internal/pipeline"
	"github.com/xiaozhi-esp32-server/streamtts/internal/tts"
)

const maxTTSRequestBytes = 64 << 10

// VoiceLister 返回可用声音，tts.Provider 满足它
type VoiceLister interface {
	GetVoices() []tts.Voice
}

// VoicesHandler 处理 GET /api/tts/voices
func VoicesHandler(provider VoiceLister) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		writeJSON(w, http.StatusOK, provider.GetVoices())
	}
}

// TTSHandler 处理 POST /api/tts：整段文本批量合成，返回拼接后的音频
func TTSHandler(p *pipeline.Pipeline, contentType string, logger *slog.Logger) http.HandlerFunc {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "api")

	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}

		var req models.TTSRequest
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxTTSRequestBytes)).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, models.ErrorMessage{Type: models.TypeError, Error: "invalid request body"})
			return
		}
		if req.Text == "" {
			writeJSON(w, http.StatusBadRequest, models.ErrorMessage{Type: models.TypeError, Error: "text is required"})
			return
		}

		res, err := p.Batch(r.Context(), req.Text, pipeline.RunOptions{
			Synthesis: tts.Options{Voice: req.Voice, Speed: req.Speed, Emotion: req.Emotion},
		})
		if err != nil {
			status := http.StatusBadGateway
			if errors.Is(err, pipeline.ErrNoAudio) {
				status = http.StatusUnprocessableEntity
			}
			logger.Warn("batch synthesis failed", "error", err)
			writeJSON(w, status, models.ErrorMessage{Type: models.TypeError, Error: err.Error()})
			return
		}

		w.Header().Set("Content-Type", contentType)
		w.Header().Set("X-Sentences", strconv.Itoa(res.Sentences))
		w.Header().Set("X-Sentences-Succeeded", strconv.Itoa(res.Succeeded))
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write(res.Audio); err != nil {
			logger.Debug("write audio", "error", err)
		}
	}
}

// AudioContentType 把音频格式映射为 MIME 类型
func AudioContentType(format string) string {
	switch format {
	case "mp3":
		return "audio/mpeg"
	case "wav":
		return "audio/wav"
	case "ogg_opus":
		return "audio/ogg"
	case "pcm":
		return "audio/L16"
	default:
		return "application/octet-stream"
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
