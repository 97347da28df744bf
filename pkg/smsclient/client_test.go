package smsclient

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func newTestClient(t *testing.T, responseBody string, capture *map[string]string) *Client {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if capture != nil {
			params := map[string]string{}
			for key, values := range r.URL.Query() {
				params[key] = values[0]
			}
			*capture = params
		}
		w.Write([]byte(responseBody))
	}))
	t.Cleanup(server.Close)
	return NewClient(server.URL, "test-api-key", "ALLTEK")
}

func TestSend_Success(t *testing.T) {
	captured := map[string]string{}
	client := newTestClient(t, "1000", &captured)

	err := client.Send(context.Background(), "233599188713", "Serial: ABC PIN: 123")
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}

	if captured["key"] != "test-api-key" {
		t.Fatalf("expected api key parameter, got %q", captured["key"])
	}
	if captured["to"] != "233599188713" {
		t.Fatalf("expected recipient parameter, got %q", captured["to"])
	}
	if captured["sender_id"] != "ALLTEK" {
		t.Fatalf("expected sender id parameter, got %q", captured["sender_id"])
	}
	if captured["msg"] != "Serial: ABC PIN: 123" {
		t.Fatalf("expected message parameter, got %q", captured["msg"])
	}
}

func TestSend_SuccessWithSurroundingWhitespace(t *testing.T) {
	client := newTestClient(t, "1000\n", nil)

	if err := client.Send(context.Background(), "233599188713", "hi"); err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
}

func TestSend_GatewayErrorCodes(t *testing.T) {
	tests := []struct {
		code string
		want string
	}{
		{code: "1002", want: "sms sending failed"},
		{code: "1003", want: "insufficient balance"},
		{code: "1004", want: "invalid api key"},
		{code: "1005", want: "invalid phone number"},
		{code: "1006", want: "invalid sender id"},
	}

	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			client := newTestClient(t, tt.code, nil)
			err := client.Send(context.Background(), "233599188713", "hi")
			if err == nil {
				t.Fatal("expected an error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("expected %q in error, got %v", tt.want, err)
			}
		})
	}
}

func TestSend_UnknownResponse(t *testing.T) {
	client := newTestClient(t, "9999", nil)
	err := client.Send(context.Background(), "233599188713", "hi")
	if err == nil || !strings.Contains(err.Error(), "unexpected response") {
		t.Fatalf("expected unexpected-response error, got %v", err)
	}
}
