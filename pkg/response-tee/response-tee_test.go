package tee

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestRecordReadRoundTrip(t *testing.T) {
	recorder := NewRecorder(nil)
	recorder.Header().Set("Content-Type", "application/json")
	recorder.WriteHeader(http.StatusCreated)
	recorder.Write([]byte(`{"id":1}`))

	res, err := ReadResponse(recorder.Bytes())
	if err != nil {
		t.Fatal(err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("Status is %d", res.StatusCode)
	}
	if ct := res.Header.Get("Content-Type"); ct != "application/json" {
		t.Fatalf("Content type is %s", ct)
	}
	body, _ := io.ReadAll(res.Body)
	if string(body) != `{"id":1}` {
		t.Fatalf("Body is %s", body)
	}
}

func TestImplicitOKHeader(t *testing.T) {
	recorder := NewRecorder(nil)
	recorder.Write([]byte("hello"))

	if recorder.StatusCode() != http.StatusOK {
		t.Fatalf("Status is %d", recorder.StatusCode())
	}
	res, err := ReadResponse(recorder.Bytes())
	if err != nil {
		t.Fatal(err)
	}
	res.Body.Close()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("Parsed status is %d", res.StatusCode)
	}
}

func TestWritesThroughToClient(t *testing.T) {
	rr := httptest.NewRecorder()
	recorder := NewRecorder(rr)
	recorder.Header().Set("X-Test", "1")
	recorder.WriteHeader(http.StatusAccepted)
	recorder.Write([]byte("queued"))

	if rr.Code != http.StatusAccepted || rr.Body.String() != "queued" {
		t.Fatalf("Client saw %d %s", rr.Code, rr.Body.String())
	}
	if rr.Header().Get("X-Test") != "1" {
		t.Fatal("Client header missing")
	}
	if recorder.StatusCode() != http.StatusAccepted {
		t.Fatalf("Recorded status is %d", recorder.StatusCode())
	}
}
