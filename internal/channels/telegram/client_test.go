package telegram

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/loopwork/beacon/internal/protocol"
)

func TestClientGetUpdatesRoundTrip(t *testing.T) {
	var gotPath string
	var gotBody getUpdatesParams

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Errorf("decode request body: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"ok":true,"result":[{"update_id":7},{"update_id":8}]}`))
	}))
	defer srv.Close()

	client, err := newBotClient("token-1", srv.URL)
	if err != nil {
		t.Fatalf("newBotClient: %v", err)
	}

	updates, err := client.GetUpdates(context.Background(), getUpdatesParams{
		Offset:         5,
		Limit:          100,
		Timeout:        1,
		AllowedUpdates: []string{"message"},
	})
	if err != nil {
		t.Fatalf("GetUpdates: %v", err)
	}

	if gotPath != "/bottoken-1/getUpdates" {
		t.Errorf("path = %q", gotPath)
	}
	if gotBody.Offset != 5 || gotBody.Limit != 100 || gotBody.Timeout != 1 {
		t.Errorf("request body = %+v", gotBody)
	}
	if len(gotBody.AllowedUpdates) != 1 || gotBody.AllowedUpdates[0] != "message" {
		t.Errorf("allowed_updates = %v", gotBody.AllowedUpdates)
	}
	if len(updates) != 2 || updates[0].ID != 7 || updates[1].ID != 8 {
		t.Fatalf("updates = %+v", updates)
	}
}

func TestClientGetUpdatesAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"ok":false,"description":"Unauthorized"}`))
	}))
	defer srv.Close()

	client, err := newBotClient("bad-token", srv.URL)
	if err != nil {
		t.Fatalf("newBotClient: %v", err)
	}

	_, err = client.GetUpdates(context.Background(), getUpdatesParams{Timeout: 1})
	if !errors.Is(err, protocol.Errorf(protocol.CodeAdapterAPI, "")) {
		t.Fatalf("error = %v, want ADAPTER_API", err)
	}
}
