package utils

import (
	"net"
	"net/url"
	"regexp"
)

var phonePattern = regexp.MustCompile(`^\+?[1-9]\d{6,14}$`)

// ValidatePhone 接受 E.164 风格号码
func ValidatePhone(phone string) bool {
	return phonePattern.MatchString(phone)
}

// ValidateWebhookURL 只允许 http/https 绝对地址
func ValidateWebhookURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

// NormalizeIP 统一 IP 文本形式，非法时返回 false
func NormalizeIP(ip string) (string, bool) {
	parsed := net.ParseIP(ip)
	if parsed == nil {
		return "", false
	}
	return parsed.String(), true
}
