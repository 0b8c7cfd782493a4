package market

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleJSONP = `jsonpgz({"fundcode":"110022","name":"易方达消费行业股票","jzrq":"2026-08-27","dwjz":"1.1660","gsz":"1.1712","gszzl":"0.45","gztime":"2026-08-28 15:00"});`

func TestParseQuote(t *testing.T) {
	quote, err := parseQuote("110022", sampleJSONP)
	require.NoError(t, err)

	assert.Equal(t, "110022", quote.FundCode)
	assert.Equal(t, "易方达消费行业股票", quote.FundName)
	assert.InDelta(t, 1.1660, quote.Nav, 1e-9)
	assert.Equal(t, time.Date(2026, 8, 27, 0, 0, 0, 0, time.UTC), quote.Date)
}

func TestParseQuoteInvalid(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"非JSONP响应", "<html>not found</html>"},
		{"净值为空", `jsonpgz({"fundcode":"110022","jzrq":"2026-08-27","dwjz":""});`},
		{"净值为零", `jsonpgz({"fundcode":"110022","jzrq":"2026-08-27","dwjz":"0"});`},
		{"日期不可用", `jsonpgz({"fundcode":"110022","jzrq":"昨天","dwjz":"1.1660"});`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := parseQuote("110022", tt.raw)
			require.Error(t, err)
		})
	}
}

func TestLatestNavFetchesAndCaches(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		assert.Equal(t, "/js/110022.js", r.URL.Path)
		fmt.Fprint(w, sampleJSONP)
	}))
	defer srv.Close()

	client := NewClient(srv.URL, 5, 600)

	quote, err := client.LatestNav(context.Background(), "110022")
	require.NoError(t, err)
	assert.InDelta(t, 1.1660, quote.Nav, 1e-9)

	// 缓存期内重复查询不再出网
	_, err = client.LatestNav(context.Background(), "110022")
	require.NoError(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&hits))
}

func TestLatestNavHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	client := NewClient(srv.URL, 5, 600)
	_, err := client.LatestNav(context.Background(), "999999")
	require.Error(t, err)
}

func TestLatestNavEmptyCode(t *testing.T) {
	client := NewClient("http://example.invalid", 5, 600)
	_, err := client.LatestNav(context.Background(), "  ")
	require.Error(t, err)
}
