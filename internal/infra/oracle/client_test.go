package oracle

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
)

func TestFetchPrice(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"price": "1842.53", "round_id": 11068046444225731029, "updated_at": 1756600000}`))
	}))
	defer server.Close()

	client := NewClient(server.URL, 5)

	price, err := client.FetchPrice(context.Background())
	if err != nil {
		t.Fatalf("FetchPrice failed: %v", err)
	}
	if price.String() != "1842.53" {
		t.Errorf("Expected price 1842.53, got %s", price)
	}
}

func TestFetchPriceRetriesOnServerError(t *testing.T) {
	var calls int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt64(&calls, 1) == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Write([]byte(`{"price": "2000", "round_id": 1, "updated_at": 1756600000}`))
	}))
	defer server.Close()

	client := NewClient(server.URL, 5)

	price, err := client.FetchPrice(context.Background())
	if err != nil {
		t.Fatalf("FetchPrice failed: %v", err)
	}
	if price.String() != "2000" {
		t.Errorf("Expected price 2000, got %s", price)
	}
	if got := atomic.LoadInt64(&calls); got != 2 {
		t.Errorf("Expected 2 calls, got %d", got)
	}
}

func TestFetchPriceRejectsNegative(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"price": "-1", "round_id": 1, "updated_at": 1756600000}`))
	}))
	defer server.Close()

	client := NewClient(server.URL, 5)

	if _, err := client.FetchPrice(context.Background()); err == nil {
		t.Fatal("Expected error for negative price")
	}
}

func TestFetchPriceMalformed(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"price": "not-a-number"}`))
	}))
	defer server.Close()

	client := NewClient(server.URL, 5)

	if _, err := client.FetchPrice(context.Background()); err == nil {
		t.Fatal("Expected error for malformed price")
	}
}
