package format

import "regexp"

// digitRun 匹配连续数字串；Go 的 regexp 不支持环视，边界由整段匹配保证。
var digitRun = regexp.MustCompile(`\d+`)

const (
	minOTPDigits = 4
	maxOTPDigits = 8
)

// ExtractOTP 返回文本中第一个长度为 4 到 8 位、两侧不紧邻其他数字的数字串。
//
// 只取第一个匹配，存在多个候选时不做判断。
func ExtractOTP(text string) (string, bool) {
	for _, run := range digitRun.FindAllString(text, -1) {
		if len(run) >= minOTPDigits && len(run) <= maxOTPDigits {
			return run, true
		}
	}
	return "", false
}
