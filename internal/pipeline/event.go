package pipeline

import "errors"

// EventType 是流水线向调用方报告的事件种类
type EventType string

const (
	EventText      EventType = "text"
	EventReasoning EventType = "reasoning"
	EventAudio     EventType = "audio"
	EventDone      EventType = "done"
	EventError     EventType = "error"
)

// Event 是一条流水线事件。每次运行恰好以一个 done 或 error 事件结束。
type Event struct {
	Type EventType

	// Content 对应 text / reasoning 事件的片段
	Content string

	// 以下字段仅用于 audio 事件
	Sequence      int
	TotalExpected int
	Audio         []byte

	// FullText 对应 done 事件：本次运行的完整正文
	FullText string

	// Err 对应 error 事件
	Err error
}

// EventHandler 按顺序接收事件。返回错误会中止本次运行。
type EventHandler func(Event) error

// ErrNoAudio 表示要求有音频，但没有任何句子合成成功
var ErrNoAudio = errors.New("pipeline: no audio was synthesized")
