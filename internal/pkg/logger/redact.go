package logger

import "strings"

// RedactEmail masks the local part of an address for safe logging.
//
//	"marie.dupont@orange.fr" → "ma***@orange.fr"
//	"jo@free.fr"             → "***@free.fr"
//
// Anything that is not a single-@ address is masked entirely.
func RedactEmail(email string) string {
	email = strings.TrimSpace(email)
	at := strings.LastIndex(email, "@")
	if at <= 0 || at == len(email)-1 || strings.Count(email, "@") != 1 {
		return "***@***"
	}
	local, domain := email[:at], email[at+1:]
	if len(local) > 2 {
		return local[:2] + "***@" + domain
	}
	return "***@" + domain
}
