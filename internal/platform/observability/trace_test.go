package observability

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cimonstech/ventechfront-sub000/internal/platform/requestctx"
)

func TestParseCloudTraceContext(t *testing.T) {
	sc, ok := parseCloudTraceContext("105445aa7843bc8bf206b12000100000/1;o=1")
	require.True(t, ok)
	require.Equal(t, "105445aa7843bc8bf206b12000100000", sc.TraceID().String())
	require.Equal(t, "0000000000000001", sc.SpanID().String())
	require.True(t, sc.IsSampled())
	require.True(t, sc.IsRemote())

	_, ok = parseCloudTraceContext("not-a-trace")
	require.False(t, ok)
	_, ok = parseCloudTraceContext("105445aa7843bc8bf206b12000100000/")
	require.False(t, ok)
}

func TestTraceMiddlewareStoresProjectOnContext(t *testing.T) {
	var info requestctx.TraceInfo
	handler := TraceMiddleware("vt-prod")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		info, _ = requestctx.Trace(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/cart", nil)
	handler.ServeHTTP(httptest.NewRecorder(), req)

	require.Equal(t, "vt-prod", info.ProjectID)
}
