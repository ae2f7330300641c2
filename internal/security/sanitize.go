package security

import (
	"mime"
	"path"
	"strings"
	"unicode"
	"unicode/utf8"

	"mailboxsaas/backend/internal/domain"
)

const (
	// MaxFilenameLength 附件文件名最大字节数
	MaxFilenameLength = 255
	// MaxHeaderTextLength 主题、发件人等头部文本最大字节数
	MaxHeaderTextLength = 998
)

// SanitizeFilename 清理附件文件名
//
// 去掉路径部分与控制字符，截断到 MaxFilenameLength，结果为空时返回默认文件名。
func SanitizeFilename(name string) string {
	name = strings.ReplaceAll(name, "\\", "/")
	name = path.Base(strings.TrimSpace(name))
	name = stripControl(name)
	name = strings.Trim(name, " .")
	if name == "" || name == "/" {
		return domain.DefaultAttachmentName
	}
	return truncateUTF8(name, MaxFilenameLength)
}

// NormalizeContentType 规范化 MIME 类型，丢弃参数，无法解析时返回默认类型
func NormalizeContentType(contentType string) string {
	if strings.TrimSpace(contentType) == "" {
		return domain.DefaultAttachmentMimeType
	}
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil || !strings.Contains(mediaType, "/") {
		return domain.DefaultAttachmentMimeType
	}
	return mediaType
}

// SanitizeHeaderText 把头部文本折叠为单行并去掉控制字符
func SanitizeHeaderText(s string) string {
	s = strings.Join(strings.Fields(stripControl(s)), " ")
	return truncateUTF8(s, MaxHeaderTextLength)
}

func stripControl(s string) string {
	if !utf8.ValidString(s) {
		s = strings.ToValidUTF8(s, "\uFFFD")
	}
	return strings.Map(func(r rune) rune {
		switch {
		case r == '\t' || r == '\n' || r == '\r':
			return ' '
		case unicode.IsControl(r):
			return -1
		}
		return r
	}, s)
}

// truncateUTF8 按字节截断且不切断多字节字符
func truncateUTF8(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	cut := limit
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}
