package segment

import "strings"

// Splitter 是 Segment 的有状态前端：累积流式片段，
// 并丢弃 { ... } 括起来的指令文本。
//
// 指令开始时，已缓冲的文本立即作为句子输出（即使没有结束符），
// 指令内部的内容全部丢弃，直到花括号配平。不在指令中的 '}' 被忽略。
// Splitter 不是并发安全的。
type Splitter struct {
	buffer string
	depth  int
}

// Feed 接收一个片段，返回此时已经完整的句子
func (s *Splitter) Feed(fragment string) []string {
	var (
		out  []string
		text strings.Builder
	)
	for _, r := range fragment {
		if s.depth > 0 {
			switch r {
			case '{':
				s.depth++
			case '}':
				s.depth--
			}
			continue
		}
		switch r {
		case '{':
			out = append(out, s.drain(text.String())...)
			text.Reset()
			s.depth = 1
		case '}':
			// 多余的右括号
		default:
			text.WriteRune(r)
		}
	}

	if text.Len() > 0 {
		sentences, rest := Segment(s.buffer, text.String())
		out = append(out, sentences...)
		s.buffer = rest
	}
	return out
}

// Flush 在输入结束时调用：输出剩余文本，未闭合的指令内容被丢弃
func (s *Splitter) Flush() []string {
	s.depth = 0
	return s.drain("")
}

// InDirective 报告当前是否处于指令中
func (s *Splitter) InDirective() bool { return s.depth > 0 }

// Pending 返回尚未成句的缓冲文本
func (s *Splitter) Pending() string { return s.buffer }

func (s *Splitter) drain(extra string) []string {
	sentences, rest := Segment(s.buffer, extra)
	s.buffer = ""
	if rest = strings.TrimSpace(rest); rest != "" {
		sentences = append(sentences, rest)
	}
	return sentences
}
