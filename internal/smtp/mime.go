package smtp

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/emersion/go-message"
	_ "github.com/emersion/go-message/charset" // 注册非 UTF-8 字符集解码
	"github.com/emersion/go-message/mail"

	"mailboxsaas/backend/internal/domain"
	"mailboxsaas/backend/internal/security"
)

// ErrMalformedMessage 邮件无法解析
var ErrMalformedMessage = errors.New("malformed message")

// ParsedEmail 表示解析后的邮件内容。
type ParsedEmail struct {
	Subject     string
	From        string
	To          string
	Text        string
	HTML        string
	Attachments []domain.Attachment
}

// AttachmentSizes 返回各附件大小
func (p *ParsedEmail) AttachmentSizes() []int64 {
	sizes := make([]int64, 0, len(p.Attachments))
	for _, att := range p.Attachments {
		sizes = append(sizes, att.Size)
	}
	return sizes
}

// ParseEmail 解析邮件，提取主题、发件人、第一个文本与 HTML 正文以及附件。
//
// 头部或 MIME 结构损坏时返回 ErrMalformedMessage，此时不产生任何结果。
func ParseEmail(r io.Reader) (*ParsedEmail, error) {
	mr, err := mail.CreateReader(r)
	if err != nil && (mr == nil || !message.IsUnknownCharset(err)) {
		return nil, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	defer mr.Close()

	parsed := &ParsedEmail{
		Subject:     headerText(mr.Header, "Subject"),
		From:        formatAddressList(mr.Header, "From"),
		To:          formatAddressList(mr.Header, "To"),
		Attachments: make([]domain.Attachment, 0),
	}
	if parsed.Subject == "" {
		parsed.Subject = domain.DefaultSubject
	}

	for {
		p, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil && (p == nil || !message.IsUnknownCharset(err)) {
			return nil, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
		}

		switch h := p.Header.(type) {
		case *mail.InlineHeader:
			if err := parsed.addInline(h, p.Body); err != nil {
				return nil, err
			}
		case *mail.AttachmentHeader:
			filename, _ := h.Filename()
			contentType, _, _ := h.ContentType()
			if err := parsed.addAttachment(filename, contentType, p.Body); err != nil {
				return nil, err
			}
		}
	}

	return parsed, nil
}

// addInline 处理内联部分：第一个 text/plain 与 text/html 作为正文，带文件名或非文本的部分当作附件
func (p *ParsedEmail) addInline(h *mail.InlineHeader, body io.Reader) error {
	contentType, params, err := h.ContentType()
	if err != nil || contentType == "" {
		contentType = "text/plain"
	}

	filename := params["name"]
	if _, dparams, err := h.ContentDisposition(); err == nil && dparams["filename"] != "" {
		filename = dparams["filename"]
	}

	if filename == "" {
		switch {
		case contentType == "text/plain" && p.Text == "":
			data, err := readPart(body)
			if err != nil {
				return err
			}
			p.Text = string(data)
			return nil
		case contentType == "text/html" && p.HTML == "":
			data, err := readPart(body)
			if err != nil {
				return err
			}
			p.HTML = string(data)
			return nil
		case strings.HasPrefix(contentType, "text/"):
			// 后续的文本部分不作为附件保存
			_, err := io.Copy(io.Discard, body)
			return wrapReadErr(err)
		}
	}

	return p.addAttachment(filename, contentType, body)
}

func (p *ParsedEmail) addAttachment(filename, contentType string, body io.Reader) error {
	data, err := readPart(body)
	if err != nil {
		return err
	}
	p.Attachments = append(p.Attachments, domain.Attachment{
		Filename:    security.SanitizeFilename(filename),
		ContentType: security.NormalizeContentType(contentType),
		Size:        int64(len(data)),
		Content:     data,
	})
	return nil
}

func readPart(body io.Reader) ([]byte, error) {
	data, err := io.ReadAll(body)
	return data, wrapReadErr(err)
}

// wrapReadErr 传输编码损坏（如非法 base64）视为邮件损坏
func wrapReadErr(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %v", ErrMalformedMessage, err)
}

// headerText 解码 RFC 2047 编码的头部，解码失败时退回原文
func headerText(h mail.Header, key string) string {
	text, err := h.Text(key)
	if err != nil {
		text = h.Get(key)
	}
	return security.SanitizeHeaderText(text)
}

// formatAddressList 把地址头格式化为 "Name <addr>, ..."，解析失败时退回解码后的原文
func formatAddressList(h mail.Header, key string) string {
	addrs, err := h.AddressList(key)
	if err != nil || len(addrs) == 0 {
		return headerText(h, key)
	}

	parts := make([]string, 0, len(addrs))
	for _, a := range addrs {
		if a.Name != "" {
			parts = append(parts, fmt.Sprintf("%s <%s>", a.Name, a.Address))
		} else {
			parts = append(parts, a.Address)
		}
	}
	return security.SanitizeHeaderText(strings.Join(parts, ", "))
}
