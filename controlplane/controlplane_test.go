package controlplane

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestAutoRegisterSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/measurementServer/auto-register" {
			t.Fatalf("path = %q", r.URL.Path)
		}
		if r.Header.Get("x-nettest-client") != "test-tag" {
			t.Fatalf("missing client tag header")
		}
		var req RegisterRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if req.Token == "" || req.TCPPort == 0 {
			t.Fatalf("req = %+v", req)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := New(srv.URL, "", "test-tag")
	err := c.AutoRegister(context.Background(), RegisterRequest{
		Token:   "abc",
		TCPPort: 5005,
		Version: "1.2.0",
	})
	if err != nil {
		t.Fatalf("AutoRegister: %v", err)
	}
}

func TestAutoRegisterNon2xxIsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := New(srv.URL, "", "")
	err := c.AutoRegister(context.Background(), RegisterRequest{Token: "x", TCPPort: 1, Version: "1"})
	if err == nil {
		t.Fatal("expected error on 500")
	}
}

func TestPingSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := New(srv.URL, "", "")
	if err := c.Ping(context.Background()); err != nil {
		t.Fatalf("Ping: %v", err)
	}
}

func TestDiscoverFiltersByVersionAndValidity(t *testing.T) {
	records := []ServerRecord{
		{Name: "old", WebAddress: "old.example.com", Version: "1.9.0", Distance: 10},
		{Name: "new-far", WebAddress: "far.example.com", Version: "2.0.0", Distance: 500},
		{Name: "new-near", WebAddress: "near.example.com", Version: "2.1.0", Distance: 5},
		{WebAddress: "missing-name.example.com", Version: "2.5.0", Distance: 1},
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(records)
	}))
	defer srv.Close()

	c := New("", srv.URL, "")
	got, err := c.Discover(context.Background(), "2.0.0")
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("len(got) = %d, want 2 (old and the nameless record filtered out); got %+v", len(got), got)
	}

	best, ok := ClosestServer(got)
	if !ok {
		t.Fatal("ClosestServer returned ok=false")
	}
	if best.Name != "new-near" {
		t.Fatalf("ClosestServer = %q, want new-near", best.Name)
	}
}

func TestClosestServerEmpty(t *testing.T) {
	if _, ok := ClosestServer(nil); ok {
		t.Fatal("expected ok=false for empty list")
	}
}

func TestSaveResultValidation(t *testing.T) {
	c := New("http://unused.invalid", "", "")
	err := c.SaveResult(context.Background(), SavedResult{})
	if err == nil {
		t.Fatal("expected validation error for empty SavedResult")
	}
}

func TestVersionLess(t *testing.T) {
	cases := []struct {
		v, min string
		want   bool
	}{
		{"1.9.0", "2.0.0", true},
		{"2.0.0", "2.0.0", false},
		{"2.1.0", "2.0.0", false},
		{"2.0.0", "2.0.1", true},
	}
	for _, tc := range cases {
		if got := versionLess(tc.v, tc.min); got != tc.want {
			t.Errorf("versionLess(%q, %q) = %v, want %v", tc.v, tc.min, got, tc.want)
		}
	}
}
