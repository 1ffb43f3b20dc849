package coordlinesdk

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestClientSendsCredentialsAndDecodes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v0/tasks/t1/move" || r.Method != http.MethodPost {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if got := r.Header.Get("X-Api-Key"); got != "cl_secret" {
			t.Errorf("expected api key header, got %q", got)
		}
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body["new_parent_id"] != "p2" {
			t.Errorf("unexpected body %v", body)
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(MoveResult{
			Task:     Task{ID: "t1", Points: 600},
			Transfer: Transfer{Transferable: true, SourceParentPointsAfter: 2400, TargetParentPointsAfter: 600},
		})
	}))
	defer srv.Close()

	c := New(srv.URL + "/")
	c.APIKey = "cl_secret"
	res, err := c.MoveTask(context.Background(), "t1", "p2")
	if err != nil {
		t.Fatalf("move: %v", err)
	}
	if !res.Transfer.Transferable || res.Transfer.SourceParentPointsAfter != 2400 {
		t.Fatalf("unexpected result %+v", res)
	}
}

func TestClientParsesErrorEnvelope(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusConflict)
		_, _ = w.Write([]byte(`{"error":{"code":"conflict","message":"move would create a cycle"}}`))
	}))
	defer srv.Close()

	c := New(srv.URL)
	c.BearerToken = "tok"
	_, err := c.MoveTask(context.Background(), "a", "b")
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
	if apiErr.StatusCode != http.StatusConflict || apiErr.Code != "conflict" {
		t.Fatalf("unexpected error %+v", apiErr)
	}
}
