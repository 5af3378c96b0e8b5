package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/antoniostano/memochat/internal/prompt"
)

type upstream struct {
	srv      *httptest.Server
	hits     atomic.Int32
	lastBody atomic.Value
	lastKey  atomic.Value
}

func newUpstream(t *testing.T, status int, body string) *upstream {
	t.Helper()
	u := &upstream{}
	u.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u.hits.Add(1)
		raw, _ := io.ReadAll(r.Body)
		u.lastBody.Store(string(raw))
		u.lastKey.Store(r.Header.Get("x-goog-api-key"))
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = io.WriteString(w, body)
	}))
	t.Cleanup(u.srv.Close)
	return u
}

func backends(t *testing.T, baseURL, key string) map[string]Gateway {
	t.Helper()
	cfg := Config{APIKey: key, Model: "gemini-test", BaseURL: baseURL + "/v1beta"}
	genaiGW, err := NewGenAIGateway(context.Background(), cfg)
	require.NoError(t, err)
	return map[string]Gateway{
		"rest":  NewRESTGateway(cfg),
		"genai": genaiGW,
	}
}

var payload = prompt.Payload{Instruction: "say hi", Temperature: 0.5, MaxOutputTokens: 64, ResponseMIMEType: "application/json"}

func TestCompleteReturnsCandidateText(t *testing.T) {
	body := `{"candidates":[{"content":{"role":"model","parts":[{"text":"{\"reply\":\"hi\","},{"text":"\"memo\":null}"}]}}]}`
	for name := range backends(t, "http://unused", "k") {
		t.Run(name, func(t *testing.T) {
			up := newUpstream(t, http.StatusOK, body)
			gw := backends(t, up.srv.URL, "secret")[name]

			text, err := gw.Complete(context.Background(), payload)
			require.NoError(t, err)
			assert.Equal(t, `{"reply":"hi","memo":null}`, text)
			assert.EqualValues(t, 1, up.hits.Load())
			assert.Equal(t, "secret", up.lastKey.Load())

			var sent map[string]any
			require.NoError(t, json.Unmarshal([]byte(up.lastBody.Load().(string)), &sent))
			contents := sent["contents"].([]any)
			require.Len(t, contents, 1)
			parts := contents[0].(map[string]any)["parts"].([]any)
			assert.Equal(t, "say hi", parts[0].(map[string]any)["text"])
		})
	}
}

func TestCompleteMissingCredentialMakesNoRequest(t *testing.T) {
	up := newUpstream(t, http.StatusOK, `{}`)
	for name, gw := range backends(t, up.srv.URL, "") {
		_, err := gw.Complete(context.Background(), payload)
		assert.ErrorIs(t, err, ErrMissingCredential, name)
		assert.Equal(t, "credential", Kind(err), name)
	}
	assert.EqualValues(t, 0, up.hits.Load())
}

func TestCompleteUpstreamStatusPropagatesMessage(t *testing.T) {
	body := `{"error":{"code":403,"message":"API key not valid","status":"PERMISSION_DENIED"}}`
	for name := range backends(t, "http://unused", "k") {
		t.Run(name, func(t *testing.T) {
			up := newUpstream(t, http.StatusForbidden, body)
			gw := backends(t, up.srv.URL, "bad-key")[name]

			_, err := gw.Complete(context.Background(), payload)
			var upErr *UpstreamError
			require.True(t, errors.As(err, &upErr), "err = %v", err)
			assert.Equal(t, http.StatusForbidden, upErr.StatusCode)
			assert.Equal(t, "API key not valid", upErr.Message)
			assert.Equal(t, "upstream", Kind(err))
			assert.EqualValues(t, 1, up.hits.Load(), "no retry")
		})
	}
}

func TestRESTUpstreamStatusWithoutErrorBody(t *testing.T) {
	up := newUpstream(t, http.StatusServiceUnavailable, `<html>down</html>`)
	gw := NewRESTGateway(Config{APIKey: "k", BaseURL: up.srv.URL})

	_, err := gw.Complete(context.Background(), payload)
	var upErr *UpstreamError
	require.ErrorAs(t, err, &upErr)
	assert.Equal(t, "Failed to fetch from Gemini", upErr.Message)
	assert.EqualValues(t, 1, up.hits.Load())
}

func TestCompleteMissingCompletionIsMalformed(t *testing.T) {
	bodies := map[string]string{
		"no candidates": `{"candidates":[]}`,
		"no content":    `{"candidates":[{"finishReason":"SAFETY"}]}`,
		"no text parts": `{"candidates":[{"content":{"parts":[{"inlineData":{"mimeType":"image/png","data":""}}]}}]}`,
		"empty text":    `{"candidates":[{"content":{"parts":[{"text":""},{"text":""}]}}]}`,
	}
	for name := range backends(t, "http://unused", "k") {
		for label, body := range bodies {
			t.Run(name+"/"+label, func(t *testing.T) {
				up := newUpstream(t, http.StatusOK, body)
				gw := backends(t, up.srv.URL, "k")[name]
				_, err := gw.Complete(context.Background(), payload)
				assert.ErrorIs(t, err, ErrMalformedResponse)
				assert.Equal(t, "malformed", Kind(err))
			})
		}
	}
}

func TestRESTNonJSONSuccessIsMalformed(t *testing.T) {
	up := newUpstream(t, http.StatusOK, `not json`)
	gw := NewRESTGateway(Config{APIKey: "k", BaseURL: up.srv.URL})
	_, err := gw.Complete(context.Background(), payload)
	assert.ErrorIs(t, err, ErrMalformedResponse)
}

func TestRESTTransportFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	gw := NewRESTGateway(Config{APIKey: "super-secret", BaseURL: url})
	_, err := gw.Complete(context.Background(), payload)
	require.ErrorIs(t, err, ErrTransport)
	assert.Equal(t, "transport", Kind(err))
	assert.NotContains(t, err.Error(), "super-secret")
}

func TestRESTSkipsThoughtParts(t *testing.T) {
	body := `{"candidates":[{"content":{"parts":[{"text":"thinking...","thought":true},{"text":"answer"}]}}]}`
	up := newUpstream(t, http.StatusOK, body)
	gw := NewRESTGateway(Config{APIKey: "k", BaseURL: up.srv.URL})
	text, err := gw.Complete(context.Background(), payload)
	require.NoError(t, err)
	assert.Equal(t, "answer", text)
}

func TestMockGatewayEchoesMessage(t *testing.T) {
	p, err := prompt.Build("hello", prompt.Settings{}, time.Time{})
	require.NoError(t, err)
	text, err := NewMockGateway().Complete(context.Background(), p)
	require.NoError(t, err)
	assert.True(t, strings.Contains(text, "I heard you: hello"), text)
	assert.True(t, json.Valid([]byte(text)))
}

func TestNewModes(t *testing.T) {
	for _, mode := range []string{"", "rest", "genai", "mock"} {
		gw, err := New(Config{Mode: mode})
		require.NoError(t, err, mode)
		assert.NotNil(t, gw, mode)
	}
	_, err := New(Config{Mode: "telepathy"})
	assert.Error(t, err)
}

func TestSplitBaseURL(t *testing.T) {
	base, version := splitBaseURL("https://generativelanguage.googleapis.com/v1beta/")
	assert.Equal(t, "https://generativelanguage.googleapis.com/", base)
	assert.Equal(t, "v1beta", version)

	base, version = splitBaseURL("http://127.0.0.1:9999")
	assert.Equal(t, "http://127.0.0.1:9999/", base)
	assert.Equal(t, "", version)
}
