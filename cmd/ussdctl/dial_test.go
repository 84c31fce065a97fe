package main

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestDialer_AccumulatesInputUntilEnd(t *testing.T) {
	var texts []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Errorf("parse form: %v", err)
		}
		if r.PostForm.Get("sessionId") != "sess-1" || r.PostForm.Get("phoneNumber") != "08031234567" {
			t.Errorf("unexpected form: %v", r.PostForm)
		}
		text := r.PostForm.Get("text")
		texts = append(texts, text)
		switch text {
		case "":
			w.Write([]byte("CON Welcome\n1. Balance"))
		case "1":
			w.Write([]byte("CON Enter PIN"))
		default:
			w.Write([]byte("END Your balance is N0.00."))
		}
	}))
	defer server.Close()

	d := &dialer{client: server.Client(), url: server.URL, phone: "08031234567", sessionID: "sess-1", code: "*384*2025#"}
	var out bytes.Buffer
	if err := d.run(context.Background(), strings.NewReader("1\n2580\n9\n"), &out); err != nil {
		t.Fatalf("run returned error: %v", err)
	}

	want := []string{"", "1", "1*2580"}
	if strings.Join(texts, "|") != strings.Join(want, "|") {
		t.Fatalf("expected texts %q, got %q", want, texts)
	}
	if !strings.Contains(out.String(), "Your balance is N0.00.") {
		t.Fatalf("expected final reply in output, got %q", out.String())
	}
}

func TestDialer_StopsWhenInputEnds(t *testing.T) {
	calls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Write([]byte("CON Welcome"))
	}))
	defer server.Close()

	d := &dialer{client: server.Client(), url: server.URL, phone: "08031234567", sessionID: "sess-2"}
	if err := d.run(context.Background(), strings.NewReader(""), &bytes.Buffer{}); err != nil {
		t.Fatalf("run returned error: %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected a single request, got %d", calls)
	}
}

func TestDialer_ReportsHTTPErrors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "phoneNumber is required", http.StatusBadRequest)
	}))
	defer server.Close()

	d := &dialer{client: server.Client(), url: server.URL, phone: "x", sessionID: "sess-3"}
	err := d.run(context.Background(), strings.NewReader(""), &bytes.Buffer{})
	if err == nil || !strings.Contains(err.Error(), "400") {
		t.Fatalf("expected status error, got %v", err)
	}
}

func TestSplitReply(t *testing.T) {
	tests := []struct {
		raw      string
		body     string
		terminal bool
	}{
		{raw: "CON Enter PIN", body: "Enter PIN", terminal: false},
		{raw: "END Done.", body: "Done.", terminal: true},
		{raw: "garbage", body: "garbage", terminal: true},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			body, terminal := splitReply(tt.raw)
			if body != tt.body || terminal != tt.terminal {
				t.Fatalf("expected (%q, %t), got (%q, %t)", tt.body, tt.terminal, body, terminal)
			}
		})
	}
}
