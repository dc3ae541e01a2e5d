package upstream

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return New(srv.URL, "test-token", "pricing-proxy-test/1.0", time.Second, WithHTTPClient(srv.Client()))
}

func TestFetchRate_Success(t *testing.T) {
	t.Parallel()

	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("token") != "test-token" {
			t.Errorf("token header = %q, want test-token", r.Header.Get("token"))
		}
		var body requestBody
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if len(body.Attributes) != 1 || body.Attributes[0].Period != "Summer" {
			t.Fatalf("unexpected request body: %+v", body)
		}
		_ = json.NewEncoder(w).Encode(responseBody{Rates: []rateEntry{{Rate: "199.99"}}})
	})

	rate, err := c.FetchRate(context.Background(), "Summer", "FloatingPointResort", "SingletonRoom")
	if err != nil || rate != "199.99" {
		t.Fatalf("FetchRate = %q, %v, want 199.99, nil", rate, err)
	}
}

func TestFetchRate_ClientErrorDoesNotCountAsFailure(t *testing.T) {
	t.Parallel()

	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(responseBody{Error: "invalid attributes"})
	})

	_, err := c.FetchRate(context.Background(), "Summer", "FloatingPointResort", "SingletonRoom")
	var clientErr *ClientError
	if !errors.As(err, &clientErr) {
		t.Fatalf("err = %v, want *ClientError", err)
	}
	if clientErr.CountsAsFailure() {
		t.Fatal("ClientError must not count against the breaker")
	}
	if clientErr.Detail != "invalid attributes" {
		t.Fatalf("Detail = %q, want invalid attributes", clientErr.Detail)
	}
}

func TestFetchRate_ServerErrorCountsAsFailure(t *testing.T) {
	t.Parallel()

	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})

	_, err := c.FetchRate(context.Background(), "Summer", "FloatingPointResort", "SingletonRoom")
	var serverErr *ServerError
	if !errors.As(err, &serverErr) {
		t.Fatalf("err = %v, want *ServerError", err)
	}
	if !serverErr.CountsAsFailure() {
		t.Fatal("ServerError must count against the breaker")
	}
}

func TestFetchRate_ProtocolErrorOnMalformedBody(t *testing.T) {
	t.Parallel()

	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("not json"))
	})

	_, err := c.FetchRate(context.Background(), "Summer", "FloatingPointResort", "SingletonRoom")
	var protoErr *ProtocolError
	if !errors.As(err, &protoErr) {
		t.Fatalf("err = %v, want *ProtocolError", err)
	}
	if protoErr.CountsAsFailure() {
		t.Fatal("ProtocolError must not count against the breaker")
	}
}

func TestFetchRate_ProtocolErrorOnEmptyRates(t *testing.T) {
	t.Parallel()

	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(responseBody{Rates: nil})
	})

	_, err := c.FetchRate(context.Background(), "Summer", "FloatingPointResort", "SingletonRoom")
	var protoErr *ProtocolError
	if !errors.As(err, &protoErr) {
		t.Fatalf("err = %v, want *ProtocolError", err)
	}
}

func TestFetchRate_TimeoutClassifiedAsTimeoutError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(50 * time.Millisecond)
	}))
	t.Cleanup(srv.Close)

	c := New(srv.URL, "", "pricing-proxy-test/1.0", 5*time.Millisecond, WithHTTPClient(srv.Client()))
	_, err := c.FetchRate(context.Background(), "Summer", "FloatingPointResort", "SingletonRoom")

	var timeoutErr *TimeoutError
	if !errors.As(err, &timeoutErr) {
		t.Fatalf("err = %v, want *TimeoutError", err)
	}
	if !timeoutErr.CountsAsFailure() {
		t.Fatal("TimeoutError must count against the breaker")
	}
}

func TestFetchRate_OmitsTokenHeaderWhenEmpty(t *testing.T) {
	t.Parallel()

	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("token") != "" {
			t.Errorf("token header = %q, want empty", r.Header.Get("token"))
		}
		_ = json.NewEncoder(w).Encode(responseBody{Rates: []rateEntry{{Rate: "1.00"}}})
	})
	c.token = ""

	if _, err := c.FetchRate(context.Background(), "Winter", "GitawayHotel", "BooleanTwin"); err != nil {
		t.Fatalf("FetchRate: %v", err)
	}
}
