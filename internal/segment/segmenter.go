// Package segment 把流式到达的文本切成适合逐句合成的句子。
package segment

import (
	"strings"
)

// IsTerminator 报告 r 是否为句子结束符
func IsTerminator(r rune) bool {
	switch r {
	case '。', '！', '？', '.', '!', '?', '；', ';':
		return true
	}
	return false
}

// Segment 在 buffer+incoming 中找出完整的句子，返回去掉首尾空白的句子和剩余文本。
//
// 两个及以上连续的 '.' 视为省略号，不切分。落在文本末尾的 '.' 序列
// 无法确定是句号还是省略号的开头，会留在剩余文本里等待后续输入。
// 因此对同一段文本，无论如何拆分成多次调用，得到的句子序列都相同。
func Segment(buffer, incoming string) (sentences []string, remainder string) {
	runes := []rune(buffer + incoming)
	start := 0

	for i := 0; i < len(runes); i++ {
		if !IsTerminator(runes[i]) {
			continue
		}
		if runes[i] == '.' {
			j := i + 1
			for j < len(runes) && runes[j] == '.' {
				j++
			}
			if j == len(runes) {
				break
			}
			if j-i >= 2 {
				i = j - 1
				continue
			}
		}
		if s := strings.TrimSpace(string(runes[start : i+1])); s != "" {
			sentences = append(sentences, s)
		}
		start = i + 1
	}

	return sentences, string(runes[start:])
}
