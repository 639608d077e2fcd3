package server

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/oauth2"

	"github.com/desertthunder/plup/internal/shared"
)

type fakeExchanger struct {
	token *oauth2.Token
	err   error
	codes []string
}

func (f *fakeExchanger) GetAuthURL(state string) string {
	return "https://accounts.example.com/authorize?state=" + url.QueryEscape(state)
}

func (f *fakeExchanger) Exchange(_ context.Context, code string) (*oauth2.Token, error) {
	f.codes = append(f.codes, code)
	return f.token, f.err
}

func callback(t *testing.T, h http.Handler, query string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/callback?"+query, nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestOAuthHandler(t *testing.T) {
	t.Run("exchanges the code", func(t *testing.T) {
		exchanger := &fakeExchanger{token: &oauth2.Token{AccessToken: "access"}}
		h := NewOAuthHandler(exchanger, "state-1")

		rec := callback(t, h, "state=state-1&code=abc")
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rec.Code)
		}
		if !strings.Contains(rec.Body.String(), "Authorization Successful") {
			t.Errorf("expected success page")
		}

		result := <-h.Result()
		if result.Error() != nil || result.Token.AccessToken != "access" {
			t.Errorf("unexpected result %+v", result)
		}
		if len(exchanger.codes) != 1 || exchanger.codes[0] != "abc" {
			t.Errorf("expected code abc to be exchanged, got %v", exchanger.codes)
		}
	})

	t.Run("rejects a wrong state", func(t *testing.T) {
		exchanger := &fakeExchanger{}
		h := NewOAuthHandler(exchanger, "state-1")

		if rec := callback(t, h, "state=other&code=abc"); rec.Code != http.StatusBadRequest {
			t.Errorf("expected 400, got %d", rec.Code)
		}
		result := <-h.Result()
		if !errors.Is(result.Error(), shared.ErrAuthFailed) {
			t.Errorf("expected ErrAuthFailed, got %v", result.Error())
		}
		if len(exchanger.codes) != 0 {
			t.Error("expected no exchange")
		}
	})

	t.Run("reports a denied consent", func(t *testing.T) {
		h := NewOAuthHandler(&fakeExchanger{}, "s")

		if rec := callback(t, h, "state=s&error=access_denied"); rec.Code != http.StatusBadRequest {
			t.Errorf("expected 400, got %d", rec.Code)
		}
		result := <-h.Result()
		if result.Error() == nil || !strings.Contains(result.Error().Error(), "access_denied") {
			t.Errorf("expected access_denied error, got %v", result.Error())
		}
	})

	t.Run("reports a failed exchange", func(t *testing.T) {
		h := NewOAuthHandler(&fakeExchanger{err: shared.ErrInvalidCredentials}, "s")

		if rec := callback(t, h, "state=s&code=abc"); rec.Code != http.StatusInternalServerError {
			t.Errorf("expected 500, got %d", rec.Code)
		}
		result := <-h.Result()
		if !errors.Is(result.Error(), shared.ErrInvalidCredentials) {
			t.Errorf("expected wrapped exchange error, got %v", result.Error())
		}
	})

	t.Run("handles one callback only", func(t *testing.T) {
		h := NewOAuthHandler(&fakeExchanger{token: &oauth2.Token{AccessToken: "a"}}, "s")

		callback(t, h, "state=s&code=abc")
		if rec := callback(t, h, "state=s&code=abc"); rec.Code != http.StatusBadRequest {
			t.Errorf("expected replay to be rejected, got %d", rec.Code)
		}
	})
}

func TestMux(t *testing.T) {
	t.Run("method routes", func(t *testing.T) {
		router := NewMux()
		router.Handle(http.MethodGet, "/health", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			io.WriteString(w, "ok")
		}))

		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
		if rec.Code != http.StatusOK || rec.Body.String() != "ok" {
			t.Errorf("unexpected response %d %q", rec.Code, rec.Body.String())
		}

		rec = httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/health", nil))
		if rec.Code != http.StatusMethodNotAllowed {
			t.Errorf("expected 405, got %d", rec.Code)
		}
	})

	t.Run("middleware order", func(t *testing.T) {
		var order []string
		mark := func(name string) Middleware {
			return func(next http.Handler) http.Handler {
				return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
					order = append(order, name)
					next.ServeHTTP(w, r)
				})
			}
		}

		router := NewMux()
		router.Use(mark("first"), mark("second"))
		router.Handler(NewOAuthHandler(&fakeExchanger{}, "s"))

		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/callback?state=s", nil))
		if strings.Join(order, ",") != "first,second" {
			t.Errorf("expected first,second, got %v", order)
		}
	})

	t.Run("handler routes answer GET only", func(t *testing.T) {
		router := NewMux()
		router.Handler(NewOAuthHandler(&fakeExchanger{}, "s"))

		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/callback?state=s", nil))
		if rec.Code != http.StatusMethodNotAllowed {
			t.Errorf("expected 405, got %d", rec.Code)
		}
	})

	t.Run("logging middleware keeps the status", func(t *testing.T) {
		var logs strings.Builder
		logger := log.New(&logs)
		logger.SetLevel(log.DebugLevel)

		router := NewMux()
		router.Use(LoggingMiddleware(logger))
		router.Handle(http.MethodGet, "/teapot", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusTeapot)
		}))

		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/teapot?code=secret", nil))
		if rec.Code != http.StatusTeapot {
			t.Errorf("expected 418, got %d", rec.Code)
		}
		if !strings.Contains(logs.String(), "status=418") {
			t.Errorf("expected status in log, got %q", logs.String())
		}
		if strings.Contains(logs.String(), "secret") {
			t.Errorf("expected query to stay out of the log, got %q", logs.String())
		}
	})
}

func freeAddr(t *testing.T) string {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to find a free port: %v", err)
	}
	addr := l.Addr().String()
	l.Close()
	return addr
}

func TestCallbackServer(t *testing.T) {
	t.Run("returns the exchanged token", func(t *testing.T) {
		addr := freeAddr(t)
		exchanger := &fakeExchanger{token: &oauth2.Token{AccessToken: "access"}}

		srv := &CallbackServer{
			Addr:    addr,
			Timeout: 5 * time.Second,
			Logger:  log.New(io.Discard),
			Open: func(authURL string) error {
				u, err := url.Parse(authURL)
				if err != nil {
					return err
				}
				go func() {
					resp, err := http.Get("http://" + addr + "/callback?code=abc&state=" + url.QueryEscape(u.Query().Get("state")))
					if err == nil {
						resp.Body.Close()
					}
				}()
				return nil
			},
		}

		token, err := srv.Authorize(context.Background(), exchanger)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if token.AccessToken != "access" {
			t.Errorf("expected access token, got %q", token.AccessToken)
		}
	})

	t.Run("times out", func(t *testing.T) {
		srv := &CallbackServer{Addr: freeAddr(t), Timeout: 30 * time.Millisecond, Logger: log.New(io.Discard)}

		if _, err := srv.Authorize(context.Background(), &fakeExchanger{}); !errors.Is(err, shared.ErrTimeout) {
			t.Errorf("expected ErrTimeout, got %v", err)
		}
	})

	t.Run("stops with the context", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		srv := &CallbackServer{Addr: freeAddr(t), Logger: log.New(io.Discard)}

		if _, err := srv.Authorize(ctx, &fakeExchanger{}); !errors.Is(err, context.Canceled) {
			t.Errorf("expected context.Canceled, got %v", err)
		}
	})
}
