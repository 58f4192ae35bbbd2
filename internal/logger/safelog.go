package logger

import "strings"

// MaskID маскирует session_id / subject_id в логах (в prod не светить полный id).
func MaskID(s string) string {
	s = strings.TrimSpace(s)
	if len(s) <= 4 {
		return "****"
	}
	return s[:4] + "***"
}
