package domain

import (
	"errors"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// 地址校验相关的错误定义
var (
	ErrInvalidEmail     = errors.New("invalid email format")
	ErrEmailTooLong     = errors.New("email address too long")
	ErrLocalPartTooLong = errors.New("local part too long (max 64 chars)")
	ErrDomainTooLong    = errors.New("domain too long (max 253 chars)")
	ErrInvalidDomain    = errors.New("invalid domain format")
)

// RFC 5321 地址长度限制
const (
	MaxEmailLength     = 254
	MaxLocalPartLength = 64
	MaxDomainLength    = 253
	maxLabelLength     = 63
)

// NormalizeAddress 把信封地址规范化为目录中的存储形式。
//
// 去掉首尾空白与尖括号，转小写，并做 Unicode NFC 规范化，
// 使 SMTPUTF8 地址在不同客户端的组合形式下得到相同的键。
func NormalizeAddress(addr string) (string, error) {
	addr = strings.TrimSpace(addr)
	addr = strings.TrimPrefix(addr, "<")
	addr = strings.TrimSuffix(addr, ">")
	addr = norm.NFC.String(strings.ToLower(strings.TrimSpace(addr)))

	if addr == "" {
		return "", ErrInvalidEmail
	}
	if len(addr) > MaxEmailLength {
		return "", ErrEmailTooLong
	}

	local, domainPart, err := SplitAddress(addr)
	if err != nil {
		return "", err
	}
	if len(local) > MaxLocalPartLength {
		return "", ErrLocalPartTooLong
	}
	if err := validateDomain(domainPart); err != nil {
		return "", err
	}
	return addr, nil
}

// SplitAddress 拆分本地部分与域名，要求恰好一个 @。
func SplitAddress(addr string) (local, domainPart string, err error) {
	parts := strings.Split(addr, "@")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", ErrInvalidEmail
	}
	return parts[0], parts[1], nil
}

func validateDomain(d string) error {
	if len(d) > MaxDomainLength {
		return ErrDomainTooLong
	}
	if strings.ContainsAny(d, " \t\r\n") {
		return ErrInvalidDomain
	}
	for _, label := range strings.Split(d, ".") {
		if label == "" || len(label) > maxLabelLength {
			return ErrInvalidDomain
		}
	}
	return nil
}
