package utils

import (
	"crypto/sha256"
	"encoding/hex"

	"LegacyVault/config"
)

// HashIP 访问日志不落明文 IP，盐 + ":" + ip 防彩虹表
func HashIP(ip string) string {
	if ip == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(config.Cfg.AccessLogIPSalt + ":" + ip))
	return hex.EncodeToString(sum[:])
}
