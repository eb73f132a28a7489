package segment

import (
	"reflect"
	"strings"
	"testing"
)

func TestSegment(t *testing.T) {
	tests := []struct {
		name          string
		buffer        string
		incoming      string
		wantSentences []string
		wantRemainder string
	}{
		{"chinese", "", "你好。今天天气不错！要出门吗", []string{"你好。", "今天天气不错！"}, "要出门吗"},
		{"buffer joins incoming", "今天", "天气好；", []string{"今天天气好；"}, ""},
		{"ellipsis does not split", "", "嗯...我想想。", []string{"嗯...我想想。"}, ""},
		{"two dots are an ellipsis", "", "好..行。", []string{"好..行。"}, ""},
		{"single dot splits", "", "好.不好.", []string{"好."}, "不好."},
		{"trailing ellipsis deferred", "", "等等...", nil, "等等..."},
		{"ascii terminators", "", "Hi! OK? Yes; ", []string{"Hi!", "OK?", "Yes;"}, " "},
		{"trimmed", "", "  第一句。  第二句。", []string{"第一句。", "第二句。"}, ""},
		{"no terminator", "", "还没说完", nil, "还没说完"},
		{"empty", "", "", nil, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sentences, remainder := Segment(tt.buffer, tt.incoming)
			if !reflect.DeepEqual(sentences, tt.wantSentences) {
				t.Errorf("sentences = %q, want %q", sentences, tt.wantSentences)
			}
			if remainder != tt.wantRemainder {
				t.Errorf("remainder = %q, want %q", remainder, tt.wantRemainder)
			}
		})
	}
}

func TestSegmentSplitPointsAgree(t *testing.T) {
	inputs := []string{
		"你好，今天天气不错。我们去公园吧！好吗？",
		"嗯...让我想想. 好的.",
		"A.B..C...D.",
		"第一句；第二句;第三句。。结尾",
		"没有任何结束符",
		"..开头就是点。",
	}

	for _, text := range inputs {
		wantSentences, wantRemainder := Segment("", text)
		runes := []rune(text)
		for cut := 0; cut <= len(runes); cut++ {
			first, rest := Segment("", string(runes[:cut]))
			second, remainder := Segment(rest, string(runes[cut:]))
			got := append(append([]string{}, first...), second...)
			if len(got) == 0 {
				got = nil
			}
			if !reflect.DeepEqual(got, wantSentences) || remainder != wantRemainder {
				t.Errorf("%q cut at %d: got %q + %q, want %q + %q", text, cut, got, remainder, wantSentences, wantRemainder)
			}
		}
	}
}

func TestSegmentRuneByRune(t *testing.T) {
	text := "他说...算了。明天见! 再见"
	var (
		got    []string
		buffer string
	)
	for _, r := range text {
		var s []string
		s, buffer = Segment(buffer, string(r))
		got = append(got, s...)
	}
	want := []string{"他说...算了。", "明天见!"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("sentences = %q, want %q", got, want)
	}
	if strings.TrimSpace(buffer) != "再见" {
		t.Errorf("remainder = %q", buffer)
	}
}

func TestClean(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"你好（微笑）。", "你好。"},
		{"好的(nods)，我们走吧。", "好的，我们走吧。"},
		{"【旁白】天黑了。", "天黑了。"},
		{"[sigh] 算了。", "算了。"},
		{"「内心」没事。", "没事。"},
		{"<break/>继续。", "继续。"},
		{"开始{{search:天气}}结束。", "开始结束。"},
		{"说到一半{{tool", "说到一半"},
		{"半截{open", "半截"},
		{"多个   空格\t和\n换行。", "多个 空格 和 换行。"},
		{"全角　空格。", "全角 空格。"},
		{"  （只有动作）  ", ""},
	}

	for _, tt := range tests {
		if got := Clean(tt.in); got != tt.want {
			t.Errorf("Clean(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
