package rates

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestLookupRateParsesPayload(test *testing.T) {
	test.Parallel()
	server := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		if request.URL.Path != "/v1/rates" {
			test.Errorf("unexpected path %q", request.URL.Path)
		}
		if from := request.URL.Query().Get("from"); from != "GBP" {
			test.Errorf("unexpected from currency %q", from)
		}
		if to := request.URL.Query().Get("to"); to != "USD" {
			test.Errorf("unexpected to currency %q", to)
		}
		writer.Header().Set("Content-Type", "application/json")
		_, _ = writer.Write([]byte(`{"rate":1.27,"adjusted_rate":1.24}`))
	}))
	defer server.Close()

	client, err := NewClient(server.URL)
	if err != nil {
		test.Fatalf("client init: %v", err)
	}
	rate, err := client.LookupRate(context.Background(), "GBP", "USD")
	if err != nil {
		test.Fatalf("lookup: %v", err)
	}
	if rate.Rate != 1.27 || rate.AdjustedRate != 1.24 {
		test.Fatalf("unexpected rate: %+v", rate)
	}
}

func TestLookupRateSendsBearerToken(test *testing.T) {
	test.Parallel()
	server := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		if authorization := request.Header.Get("Authorization"); authorization != "Bearer secret-key" {
			test.Errorf("unexpected authorization header %q", authorization)
		}
		_, _ = writer.Write([]byte(`{"rate":1.1,"adjusted_rate":1.1}`))
	}))
	defer server.Close()

	client, err := NewClient(server.URL, WithAPIKey("secret-key"))
	if err != nil {
		test.Fatalf("client init: %v", err)
	}
	if _, err := client.LookupRate(context.Background(), "GBP", "EUR"); err != nil {
		test.Fatalf("lookup: %v", err)
	}
}

func TestLookupRateRejectsErrorStatus(test *testing.T) {
	test.Parallel()
	server := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, _ *http.Request) {
		writer.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	client, err := NewClient(server.URL)
	if err != nil {
		test.Fatalf("client init: %v", err)
	}
	if _, err := client.LookupRate(context.Background(), "GBP", "USD"); err == nil {
		test.Fatalf("expected error for bad gateway")
	}
}

func TestLookupRateRejectsNonPositiveRate(test *testing.T) {
	test.Parallel()
	server := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, _ *http.Request) {
		_, _ = writer.Write([]byte(`{"rate":0}`))
	}))
	defer server.Close()

	client, err := NewClient(server.URL)
	if err != nil {
		test.Fatalf("client init: %v", err)
	}
	if _, err := client.LookupRate(context.Background(), "GBP", "USD"); err == nil {
		test.Fatalf("expected error for zero rate")
	}
}

func TestNewClientRequiresBaseURL(test *testing.T) {
	test.Parallel()
	if _, err := NewClient("   "); err == nil {
		test.Fatalf("expected error for empty base url")
	}
}
