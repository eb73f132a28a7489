package segment

import (
	"regexp"
	"strings"
)

var (
	directivePattern     = regexp.MustCompile(`\{\{[^}]+\}\}`)
	openDirectivePattern = regexp.MustCompile(`\{\{?[^}]*$`)
	asidePatterns        = []*regexp.Regexp{
		regexp.MustCompile(`[（(].*?[）)]`),
		regexp.MustCompile(`[\[【].*?[\]】]`),
		regexp.MustCompile(`[「『].*?[」』]`),
		regexp.MustCompile(`<.*?>`),
	}
	spacePattern = regexp.MustCompile(`[\s\p{Zs}]+`)
)

// Clean 去掉不应朗读的内容：{{...}} 指令、未闭合的指令尾巴、
// 括号里的动作和心理描写、标签，并压缩空白。
func Clean(text string) string {
	text = directivePattern.ReplaceAllString(text, "")
	text = openDirectivePattern.ReplaceAllString(text, "")
	for _, re := range asidePatterns {
		text = re.ReplaceAllString(text, "")
	}
	text = spacePattern.ReplaceAllString(text, " ")
	return strings.TrimSpace(text)
}
