package security

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
)

func TestSanitizeFilename(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"普通文件名", "report.pdf", "report.pdf"},
		{"去掉 Unix 路径", "../../etc/passwd", "passwd"},
		{"去掉 Windows 路径", `C:\Users\bob\invoice.xlsx`, "invoice.xlsx"},
		{"去掉控制字符", "a\x00b\x07.txt", "ab.txt"},
		{"空文件名", "", "untitled"},
		{"只有点号", "..", "untitled"},
		{"只有斜杠", "/", "untitled"},
		{"保留中文", "季度报告.docx", "季度报告.docx"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, SanitizeFilename(tt.input))
		})
	}

	t.Run("超长文件名按字符边界截断", func(t *testing.T) {
		got := SanitizeFilename(strings.Repeat("文", 200) + ".txt")
		assert.LessOrEqual(t, len(got), MaxFilenameLength)
		assert.True(t, utf8.ValidString(got))
	})
}

func TestNormalizeContentType(t *testing.T) {
	assert.Equal(t, "application/pdf", NormalizeContentType("application/pdf; name=\"a.pdf\""))
	assert.Equal(t, "text/plain", NormalizeContentType("TEXT/Plain; charset=utf-8"))
	assert.Equal(t, "application/octet-stream", NormalizeContentType(""))
	assert.Equal(t, "application/octet-stream", NormalizeContentType("garbage"))
}

func TestSanitizeHeaderText(t *testing.T) {
	assert.Equal(t, "Hello World", SanitizeHeaderText("  Hello\r\n\tWorld "))
	assert.Equal(t, "ab", SanitizeHeaderText("a\x00b"))
	assert.Len(t, SanitizeHeaderText(strings.Repeat("x", 2000)), MaxHeaderTextLength)
}
