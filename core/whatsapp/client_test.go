package whatsapp

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestClientSendText(t *testing.T) {
	var gotPath, gotAuth string
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		raw, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(raw, &gotBody)
		w.WriteHeader(http.StatusOK)
		io.WriteString(w, `{"messages":[{"id":"wamid.out"}]}`)
	}))
	defer srv.Close()

	c := NewClient(Options{
		Token:      "secret-token",
		BaseURL:    srv.URL,
		HTTPClient: srv.Client(),
	})

	err := c.SendText(context.Background(), "100200300", "5215550002222", "hola")
	require.NoError(t, err)
	require.Equal(t, "/v22.0/100200300/messages", gotPath)
	require.Equal(t, "Bearer secret-token", gotAuth)
	require.Equal(t, "whatsapp", gotBody["messaging_product"])
	require.Equal(t, "text", gotBody["type"])
	require.Equal(t, "5215550002222", gotBody["to"])
}

func TestClientSendInteractive(t *testing.T) {
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(raw, &gotBody)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := NewClient(Options{Token: "t", BaseURL: srv.URL, HTTPClient: srv.Client()})

	payload, err := BuildInteractive("Menu", "", testOptions(2), StrategyAuto)
	require.NoError(t, err)
	require.NoError(t, c.SendInteractive(context.Background(), "100200300", "5215550002222", payload))

	require.Equal(t, "interactive", gotBody["type"])
	interactive, ok := gotBody["interactive"].(map[string]any)
	require.True(t, ok)
	require.Equal(t, "button", interactive["type"])
}

func TestClientAPIErrorSurfaced(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		io.WriteString(w, `{"error":{"message":"Invalid parameter","type":"OAuthException","code":100}}`)
	}))
	defer srv.Close()

	c := NewClient(Options{Token: "t", BaseURL: srv.URL, HTTPClient: srv.Client()})

	err := c.SendText(context.Background(), "100200300", "5215550002222", "hola")
	require.Error(t, err)
	require.Contains(t, err.Error(), "api status 400")
	require.Contains(t, err.Error(), "Invalid parameter")
	require.Contains(t, err.Error(), "code=100")
}

func TestClientRedactsTokenInErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		io.WriteString(w, `token leak-me rejected`)
	}))
	defer srv.Close()

	c := NewClient(Options{Token: "leak-me", BaseURL: srv.URL, HTTPClient: srv.Client()})

	err := c.SendText(context.Background(), "100200300", "5215550002222", "hola")
	require.Error(t, err)
	require.NotContains(t, err.Error(), "leak-me")
	require.Contains(t, err.Error(), "<redacted>")
}

func TestNewClientDefaults(t *testing.T) {
	c := NewClient(Options{Token: "t"})
	require.Equal(t, "https://graph.facebook.com", c.baseURL)
	require.Equal(t, "v22.0", c.version)
	require.NotNil(t, c.http)

	c = NewClient(Options{Token: "t", BaseURL: "https://example.com/", GraphVersion: "v20.0"})
	require.Equal(t, "https://example.com", c.baseURL)
	require.Equal(t, "v20.0", c.version)
}

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

func TestShouldRetry(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"plain error", errors.New("boom"), false},
		{"timeout", timeoutErr{}, true},
		{"dial op", &net.OpError{Op: "dial", Err: errors.New("connection refused")}, true},
		{"read op", &net.OpError{Op: "read", Err: errors.New("reset")}, false},
		{"url wrapped dial", &url.Error{Op: "Post", URL: "http://x", Err: &net.OpError{Op: "dial", Err: errors.New("refused")}}, true},
		{"url wrapped plain", &url.Error{Op: "Post", URL: "http://x", Err: errors.New("boom")}, false},
		{"context canceled", context.Canceled, false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, ShouldRetry(tc.err))
		})
	}
}

type flakyTransport struct {
	failures int
	calls    int
}

func (f *flakyTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	f.calls++
	if f.calls <= f.failures {
		return nil, &net.OpError{Op: "dial", Err: errors.New("connection refused")}
	}
	rec := httptest.NewRecorder()
	rec.WriteHeader(http.StatusOK)
	return rec.Result(), nil
}

func TestRetryTransportRetriesDialFailures(t *testing.T) {
	flaky := &flakyTransport{failures: 2}
	rt := &retryTransport{base: flaky, maxRetries: 3}

	req, err := http.NewRequest(http.MethodGet, "http://example.com", nil)
	require.NoError(t, err)
	resp, err := rt.RoundTrip(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, 3, flaky.calls)
}

func TestRetryTransportGivesUpAfterMaxRetries(t *testing.T) {
	flaky := &flakyTransport{failures: 10}
	rt := &retryTransport{base: flaky, maxRetries: 2}

	req, err := http.NewRequest(http.MethodGet, "http://example.com", nil)
	require.NoError(t, err)
	_, err = rt.RoundTrip(req)
	require.Error(t, err)
	require.Equal(t, 3, flaky.calls)
}

func TestRetryTransportDoesNotRetryPermanentErrors(t *testing.T) {
	perm := &permanentTransport{}
	rt := &retryTransport{base: perm, maxRetries: 3}

	req, err := http.NewRequest(http.MethodGet, "http://example.com", nil)
	require.NoError(t, err)
	_, err = rt.RoundTrip(req)
	require.Error(t, err)
	require.Equal(t, 1, perm.calls)
}

type permanentTransport struct {
	calls int
}

func (p *permanentTransport) RoundTrip(*http.Request) (*http.Response, error) {
	p.calls++
	return nil, errors.New("certificate invalid")
}
