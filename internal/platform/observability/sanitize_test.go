package observability

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestSanitizeDropsControlCharacters(t *testing.T) {
	require.Equal(t, "GETinjected", SanitizeMethod("GET\ninjected"))
	require.Equal(t, "/", SanitizeRoute(""))
	require.Equal(t, "guest:abc", SanitizeActor("guest:abc\x00"))
}

func TestSanitizeTruncatesRunes(t *testing.T) {
	got := SanitizeActor(strings.Repeat("é", 100))
	require.Len(t, []rune(got), maxActorRunes)
	require.Equal(t, "/api/v1/cart", SanitizeRoute("/api/v1/cart"))
}

func TestParseLevel(t *testing.T) {
	require.Equal(t, zapcore.DebugLevel, ParseLevel(" debug "))
	require.Equal(t, zapcore.WarnLevel, ParseLevel("WARN"))
	require.Equal(t, zapcore.InfoLevel, ParseLevel(""))
	require.Equal(t, zapcore.InfoLevel, ParseLevel("loud"))
}
