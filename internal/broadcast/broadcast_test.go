package broadcast

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func mapiResponse(t *testing.T, returnResult, description string) []byte {
	t.Helper()
	pl, err := json.Marshal(map[string]string{
		"returnResult":      returnResult,
		"resultDescription": description,
		"txid":              "aabbcc",
	})
	if err != nil {
		t.Fatal(err)
	}
	body, err := json.Marshal(map[string]string{"payload": string(pl)})
	if err != nil {
		t.Fatal(err)
	}
	return body
}

func TestBroadcast_Success(t *testing.T) {
	var gotHeader string
	var gotBody map[string]string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotHeader = r.Header.Get("X-Api-Token")
		json.NewDecoder(r.Body).Decode(&gotBody)
		w.Write(mapiResponse(t, "success", ""))
	}))
	defer srv.Close()

	c := NewClient([]Endpoint{{
		Name:         "primary",
		URL:          srv.URL,
		ExtraHeaders: map[string]string{"X-Api-Token": "tok"},
	}})

	result, err := c.Broadcast("0100beef")
	if err != nil {
		t.Fatalf("Broadcast: %v", err)
	}
	if result.Endpoint != "primary" || result.TxID != "aabbcc" {
		t.Errorf("result: %+v", result)
	}
	if gotHeader != "tok" {
		t.Errorf("extra header not sent, got %q", gotHeader)
	}
	if gotBody["rawtx"] != "0100beef" {
		t.Errorf("rawtx body: %v", gotBody)
	}
}

func TestBroadcast_AlreadyKnownIsSuccess(t *testing.T) {
	for _, phrase := range []string{
		"Transaction already in the mempool",
		"Transaction already known",
		"257 txn-already-known",
	} {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write(mapiResponse(t, "failure", phrase))
		}))

		c := NewClient([]Endpoint{{Name: "m", URL: srv.URL}})
		if _, err := c.Broadcast("00"); err != nil {
			t.Errorf("phrase %q treated as failure: %v", phrase, err)
		}
		srv.Close()
	}
}

func TestBroadcast_Rejection(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(mapiResponse(t, "failure", "insufficient fee"))
	}))
	defer srv.Close()

	c := NewClient([]Endpoint{{Name: "m", URL: srv.URL}})

	_, err := c.Broadcast("00")
	var bErr *Error
	if !errors.As(err, &bErr) || bErr.Kind != KindRejected {
		t.Fatalf("got %v, want KindRejected", err)
	}
	if bErr.Description != "insufficient fee" {
		t.Errorf("description: %q", bErr.Description)
	}
}

func TestBroadcast_BadResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("<html>not json</html>"))
	}))
	defer srv.Close()

	c := NewClient([]Endpoint{{Name: "m", URL: srv.URL}})

	_, err := c.Broadcast("00")
	var bErr *Error
	if !errors.As(err, &bErr) || bErr.Kind != KindBadResponse {
		t.Fatalf("got %v, want KindBadResponse", err)
	}
}

func TestBroadcast_TransportFailureAdvancesRotation(t *testing.T) {
	good := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(mapiResponse(t, "success", ""))
	}))
	defer good.Close()

	dead := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	dead.Close() // connection refused from here on

	c := NewClient([]Endpoint{
		{Name: "dead", URL: dead.URL},
		{Name: "good", URL: good.URL},
	})

	_, err := c.Broadcast("00")
	var bErr *Error
	if !errors.As(err, &bErr) || bErr.Kind != KindTransport {
		t.Fatalf("first attempt: got %v, want KindTransport", err)
	}

	// The failure advanced the rotation; the retry lands on the healthy
	// endpoint without any in-call retries.
	result, err := c.Broadcast("00")
	if err != nil {
		t.Fatalf("second attempt: %v", err)
	}
	if result.Endpoint != "good" {
		t.Errorf("second attempt endpoint: %q", result.Endpoint)
	}
}
