package twilio

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestSendSMS(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %q, want POST", r.Method)
		}
		if want := "/2010-04-01/Accounts/AC123/Messages.json"; r.URL.Path != want {
			t.Errorf("path = %q, want %q", r.URL.Path, want)
		}
		user, pass, ok := r.BasicAuth()
		if !ok || user != "AC123" || pass != "secret" {
			t.Errorf("basic auth = %q/%q/%v", user, pass, ok)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/x-www-form-urlencoded" {
			t.Errorf("Content-Type = %q", ct)
		}
		if err := r.ParseForm(); err != nil {
			t.Fatalf("parse form: %v", err)
		}
		if got := r.PostForm.Get("To"); got != "+15551230001" {
			t.Errorf("To = %q", got)
		}
		if got := r.PostForm.Get("From"); got != "+15550000000" {
			t.Errorf("From = %q", got)
		}
		if got := r.PostForm.Get("Body"); got != "MEDICAL ALERT" {
			t.Errorf("Body = %q", got)
		}

		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"sid": "SM0001"}`))
	}))
	defer srv.Close()

	c := New(srv.URL, "AC123", "secret", "+15550000000")
	ref, err := c.SendSMS(context.Background(), "+15551230001", "MEDICAL ALERT")
	if err != nil {
		t.Fatalf("SendSMS: %v", err)
	}
	if ref != "SM0001" {
		t.Errorf("ref = %q, want SM0001", ref)
	}
}

func TestPlaceCall(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if want := "/2010-04-01/Accounts/AC123/Calls.json"; r.URL.Path != want {
			t.Errorf("path = %q, want %q", r.URL.Path, want)
		}
		if err := r.ParseForm(); err != nil {
			t.Fatalf("parse form: %v", err)
		}
		twiml := r.PostForm.Get("Twiml")
		if !strings.HasPrefix(twiml, "<Response><Say>") || !strings.HasSuffix(twiml, "</Say></Response>") {
			t.Errorf("Twiml = %q", twiml)
		}
		// Spoken text must be XML-escaped inside the Say verb.
		if !strings.Contains(twiml, "alert for patient &lt;p1&gt; &amp; staff") {
			t.Errorf("Twiml not escaped: %q", twiml)
		}

		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"sid": "CA0001"}`))
	}))
	defer srv.Close()

	c := New(srv.URL, "AC123", "secret", "+15550000000")
	ref, err := c.PlaceCall(context.Background(), "+15551230001", "alert for patient <p1> & staff")
	if err != nil {
		t.Fatalf("PlaceCall: %v", err)
	}
	if ref != "CA0001" {
		t.Errorf("ref = %q, want CA0001", ref)
	}
}

func TestSendSMS_GatewayError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, `{"code": 21211, "message": "invalid To number"}`, http.StatusBadRequest)
	}))
	defer srv.Close()

	c := New(srv.URL, "AC123", "secret", "+15550000000")
	_, err := c.SendSMS(context.Background(), "bogus", "body")
	if err == nil {
		t.Fatal("expected error for gateway 400")
	}
	if !strings.Contains(err.Error(), "400") {
		t.Errorf("error = %v, want status code in message", err)
	}
}

func TestPlaceCall_TransportFailure(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	srv.Close()

	c := New(srv.URL, "AC123", "secret", "+15550000000")
	if _, err := c.PlaceCall(context.Background(), "+15551230001", "msg"); err == nil {
		t.Fatal("expected error for unreachable gateway")
	}
}

func TestNew_TrimsTrailingSlash(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.Contains(r.URL.Path, "//") {
			t.Errorf("path has double slash: %q", r.URL.Path)
		}
		_, _ = w.Write([]byte(`{"sid": "SM1"}`))
	}))
	defer srv.Close()

	c := New(srv.URL+"/", "AC123", "secret", "+15550000000")
	if _, err := c.SendSMS(context.Background(), "+15551230001", "x"); err != nil {
		t.Fatalf("SendSMS: %v", err)
	}
}

func TestEscapeXML(t *testing.T) {
	t.Parallel()

	got := escapeXML(`<say> "it's" & more`)
	want := "&lt;say&gt; &quot;it&apos;s&quot; &amp; more"
	if got != want {
		t.Errorf("escapeXML = %q, want %q", got, want)
	}
}
