package realtime_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/MrWong99/concierge/pkg/realtime"
)

func TestHTTPCredentialFetcher(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		status  int
		body    string
		want    string
		wantErr error
	}{
		{name: "ok", status: http.StatusOK, body: `{"client_secret":{"value":"ek_123","expires_at":1735689600}}`, want: "ek_123"},
		{name: "missing value", status: http.StatusOK, body: `{"client_secret":{}}`, wantErr: realtime.ErrAuth},
		{name: "unauthorized", status: http.StatusUnauthorized, body: `{"error":"no"}`, wantErr: realtime.ErrAuth},
		{name: "server error", status: http.StatusBadGateway, body: "upstream", wantErr: realtime.ErrNetwork},
		{name: "garbage", status: http.StatusOK, body: "<html>", wantErr: realtime.ErrNetwork},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.Method != http.MethodPost {
					t.Errorf("method = %s, want POST", r.Method)
				}
				w.WriteHeader(tc.status)
				_, _ = io.WriteString(w, tc.body)
			}))
			defer srv.Close()

			cred, err := realtime.NewHTTPCredentialFetcher(srv.URL, srv.Client()).Fetch(context.Background())
			if tc.wantErr != nil {
				if !errors.Is(err, tc.wantErr) {
					t.Fatalf("Fetch error = %v, want %v", err, tc.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("Fetch: %v", err)
			}
			if cred.Value != tc.want {
				t.Errorf("Value = %q, want %q", cred.Value, tc.want)
			}
			if !cred.ExpiresAt.Equal(time.Unix(1735689600, 0)) {
				t.Errorf("ExpiresAt = %v", cred.ExpiresAt)
			}
		})
	}
}

func TestHTTPCredentialFetcher_Unreachable(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := realtime.NewHTTPCredentialFetcher(url, nil).Fetch(context.Background())
	if !errors.Is(err, realtime.ErrNetwork) {
		t.Errorf("Fetch error = %v, want ErrNetwork", err)
	}
}

func TestHTTPNegotiator(t *testing.T) {
	t.Parallel()

	const offer = "v=0\r\no=- 1 2 IN IP4 127.0.0.1\r\n"
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		switch {
		case r.Header.Get("Content-Type") != "application/sdp":
			t.Errorf("Content-Type = %q", r.Header.Get("Content-Type"))
		case r.Header.Get("Authorization") != "Bearer ek_1":
			t.Errorf("Authorization = %q", r.Header.Get("Authorization"))
		case r.URL.Query().Get("model") != "gpt-test" || r.URL.Query().Get("voice") != "verse":
			t.Errorf("query = %s", r.URL.RawQuery)
		case string(body) != offer:
			t.Errorf("offer = %q", body)
		}
		w.Header().Set("Content-Type", "application/sdp")
		w.WriteHeader(http.StatusCreated)
		_, _ = io.WriteString(w, "v=0\r\nanswer\r\n")
	}))
	defer srv.Close()

	n := realtime.NewHTTPNegotiator(srv.URL, srv.Client())
	answer, err := n.Exchange(context.Background(), offer, realtime.DialRequest{
		Credential: realtime.Credential{Value: "ek_1"},
		Model:      "gpt-test",
		Voice:      "verse",
	})
	if err != nil {
		t.Fatalf("Exchange: %v", err)
	}
	if !strings.Contains(answer, "answer") {
		t.Errorf("answer = %q", answer)
	}
}

func TestHTTPNegotiator_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		status int
		body   string
		want   error
	}{
		{"rejected offer", http.StatusBadRequest, "bad sdp", realtime.ErrNegotiation},
		{"expired credential", http.StatusUnauthorized, "expired", realtime.ErrAuth},
		{"empty answer", http.StatusCreated, "  \r\n", realtime.ErrNegotiation},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tc.status)
				_, _ = io.WriteString(w, tc.body)
			}))
			defer srv.Close()

			_, err := realtime.NewHTTPNegotiator(srv.URL, srv.Client()).Exchange(context.Background(), "v=0", realtime.DialRequest{})
			if !errors.Is(err, tc.want) {
				t.Errorf("Exchange error = %v, want %v", err, tc.want)
			}
		})
	}
}

func TestHTTPContextLoader(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/properties/context" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"count":3,"properties":[{"id":"a"},{"id":"b"}]}`)
	}))
	defer srv.Close()

	pc, err := realtime.NewHTTPContextLoader(srv.URL+"/api/properties/context", srv.Client()).Load(context.Background())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if pc.Count != 3 || len(pc.Properties) != 2 {
		t.Errorf("context = %+v", pc)
	}

	_, err = realtime.NewHTTPContextLoader(srv.URL+"/missing", srv.Client()).Load(context.Background())
	if !errors.Is(err, realtime.ErrNetwork) {
		t.Errorf("Load error = %v, want ErrNetwork", err)
	}
}
