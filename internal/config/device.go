package config

import "strings"

// TerminalParams 设备串解析结果，启动后只读
type TerminalParams struct {
	BaseURL  string
	Secret   string
	Currency string
}

// ParseDevice 按位置解析 "baseURL,secret,currency"
// 缺失的字段返回空字符串，不报错；由调用方决定空密钥是否致命
func ParseDevice(s string) TerminalParams {
	return TerminalParams{
		BaseURL:  field(s, 0),
		Secret:   field(s, 1),
		Currency: field(s, 2),
	}
}

func field(s string, index int) string {
	if s == "" {
		return ""
	}
	parts := strings.Split(s, ",")
	if index >= len(parts) {
		return ""
	}
	return parts[index]
}
