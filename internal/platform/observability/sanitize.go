package observability

import (
	"strings"
	"unicode"
)

const (
	maxRouteRunes  = 180
	maxMethodRunes = 10
	maxActorRunes  = 64
)

// logSafe drops control characters so request input cannot forge log lines, then keeps at most
// limit runes.
func logSafe(value string, limit int) string {
	cleaned := strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, value)
	if runes := []rune(cleaned); len(runes) > limit {
		return string(runes[:limit])
	}
	return cleaned
}

func SanitizeRoute(route string) string {
	if route == "" {
		return "/"
	}
	return logSafe(route, maxRouteRunes)
}

func SanitizeMethod(method string) string { return logSafe(method, maxMethodRunes) }

// SanitizeActor bounds cart owner keys written to request logs.
func SanitizeActor(actor string) string { return logSafe(actor, maxActorRunes) }
