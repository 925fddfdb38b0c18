package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	lark "github.com/larksuite/oapi-sdk-go/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"runthru/internal/domain"
)

func completedRecording() *domain.Recording {
	d := 42.0
	return &domain.Recording{
		ID:              "rec-1",
		Description:     "Checkout flow",
		Status:          domain.StatusCompleted,
		DurationSeconds: &d,
		ShareURL:        "https://blobs.example.com/rec-1/final.mp4?sig=abc",
		Steps: []domain.Step{
			{Sequence: 1, Success: true},
			{Sequence: 2, Success: false},
			{Sequence: 3, Success: true},
		},
	}
}

func TestSummary(t *testing.T) {
	got := Summary(completedRecording())
	want := strings.Join([]string{
		"Demo recording ready: Checkout flow",
		"ID: rec-1",
		"Steps: 2/3 succeeded",
		"Duration: 42.0s",
		"Video: https://blobs.example.com/rec-1/final.mp4?sig=abc",
	}, "\n")
	assert.Equal(t, want, got)

	failed := &domain.Recording{ID: "rec-2", TargetURL: "https://example.com", Status: domain.StatusFailed, CurrentStep: "browser launch failed"}
	assert.Contains(t, Summary(failed), "Demo recording failed: https://example.com")
	assert.Contains(t, Summary(failed), "Reason: browser launch failed")
}

type fakeLark struct {
	mu       sync.Mutex
	messages []map[string]any
	query    string
	code     int
}

func (f *fakeLark) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	switch {
	case strings.HasSuffix(r.URL.Path, "/tenant_access_token/internal"):
		_, _ = w.Write([]byte(`{"code":0,"msg":"ok","tenant_access_token":"t-test","expire":7200}`))
	case strings.HasSuffix(r.URL.Path, "/im/v1/messages"):
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		f.mu.Lock()
		f.messages = append(f.messages, body)
		f.query = r.URL.RawQuery
		code := f.code
		f.mu.Unlock()
		if code != 0 {
			_, _ = w.Write([]byte(`{"code":230002,"msg":"bot not in chat"}`))
			return
		}
		_, _ = w.Write([]byte(`{"code":0,"msg":"success","data":{"message_id":"om_1"}}`))
	default:
		http.NotFound(w, r)
	}
}

func TestLarkNotifierSendsTextMessage(t *testing.T) {
	fake := &fakeLark{}
	srv := httptest.NewServer(fake)
	defer srv.Close()

	n := NewLarkNotifier("cli_app", "secret", "oc_chat", nil, lark.WithOpenBaseUrl(srv.URL))
	require.NoError(t, n.Notify(context.Background(), completedRecording()))

	fake.mu.Lock()
	defer fake.mu.Unlock()
	require.Len(t, fake.messages, 1)
	assert.Contains(t, fake.query, "receive_id_type=chat_id")
	msg := fake.messages[0]
	assert.Equal(t, "oc_chat", msg["receive_id"])
	assert.Equal(t, "text", msg["msg_type"])
	var content map[string]string
	require.NoError(t, json.Unmarshal([]byte(msg["content"].(string)), &content))
	assert.Contains(t, content["text"], "Demo recording ready: Checkout flow")
}

func TestLarkNotifierReportsAPIErrors(t *testing.T) {
	fake := &fakeLark{code: 1}
	srv := httptest.NewServer(fake)
	defer srv.Close()

	n := NewLarkNotifier("cli_app", "secret", "oc_chat", nil, lark.WithOpenBaseUrl(srv.URL))
	err := n.Notify(context.Background(), completedRecording())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bot not in chat")
}

func TestNop(t *testing.T) {
	assert.NoError(t, Nop{}.Notify(context.Background(), nil))
}
