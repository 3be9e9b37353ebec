package notify

import (
	"strconv"
	"strings"
	"time"
)

// FormatETag 把版本号包装成带引号的 ETag，例如 3 -> "3"。
func FormatETag(v Version) string {
	return `"` + strconv.FormatUint(uint64(v), 10) + `"`
}

// ParseETag 从 If-None-Match 中取出版本号。
// 只做数值提取：去掉弱校验前缀 W/ 和引号；多个值时取第一个。
// 无法解析的值与缺失等价，即“从未见过任何版本”。
func ParseETag(header string) (Version, bool) {
	value := strings.TrimSpace(header)
	if i := strings.IndexByte(value, ','); i >= 0 {
		value = strings.TrimSpace(value[:i])
	}
	value = strings.TrimPrefix(value, "W/")
	value = strings.Trim(value, `"`)
	if value == "" {
		return 0, false
	}

	n, err := strconv.ParseUint(value, 10, 64)
	if err != nil {
		return 0, false
	}
	return Version(n), true
}

// ParsePreferWait 解析 Prefer 头里的 wait=<seconds>，其他偏好项忽略。
func ParsePreferWait(header string) (time.Duration, bool) {
	fields := strings.FieldsFunc(header, func(r rune) bool {
		return r == ',' || r == ';'
	})
	for _, field := range fields {
		name, value, ok := strings.Cut(strings.TrimSpace(field), "=")
		if !ok || !strings.EqualFold(strings.TrimSpace(name), "wait") {
			continue
		}
		seconds, err := strconv.Atoi(strings.Trim(strings.TrimSpace(value), `"`))
		if err != nil || seconds < 0 {
			return 0, false
		}
		return time.Duration(seconds) * time.Second, true
	}
	return 0, false
}
