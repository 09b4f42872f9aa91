package services_test

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/MegaGrindStone/ollama-cli/internal/models"
	"github.com/MegaGrindStone/ollama-cli/internal/services"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeDaemon struct {
	tags         string
	ps           string
	pullLines    []string
	chatLines    []string
	deleteStatus int
	truncate     bool

	gotChat     map[string]any
	gotGenerate map[string]any
	gotDelete   map[string]any
	pulls       int
}

func (f *fakeDaemon) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead {
			w.WriteHeader(http.StatusOK)
			return
		}
		http.NotFound(w, r)
	})
	mux.HandleFunc("/api/tags", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, f.tags)
	})
	mux.HandleFunc("/api/ps", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, f.ps)
	})
	mux.HandleFunc("/api/pull", func(w http.ResponseWriter, _ *http.Request) {
		f.pulls++
		f.writeStream(t, w, f.pullLines)
	})
	mux.HandleFunc("/api/chat", func(w http.ResponseWriter, r *http.Request) {
		f.gotChat = decodeBody(t, r)
		f.writeStream(t, w, f.chatLines)
	})
	mux.HandleFunc("/api/show", func(w http.ResponseWriter, r *http.Request) {
		body := decodeBody(t, r)
		w.Header().Set("Content-Type", "application/json")
		if body["model"] == "ghost" {
			w.WriteHeader(http.StatusNotFound)
			_, _ = io.WriteString(w, `{"error":"model 'ghost' not found"}`)
			return
		}
		_, _ = io.WriteString(w, `{"modelfile":"FROM llama3"}`)
	})
	mux.HandleFunc("/api/generate", func(w http.ResponseWriter, r *http.Request) {
		f.gotGenerate = decodeBody(t, r)
		writeNDJSON(w, []string{`{"model":"llama3","response":"","done":true,"done_reason":"unload"}`})
	})
	mux.HandleFunc("/api/delete", func(w http.ResponseWriter, r *http.Request) {
		f.gotDelete = decodeBody(t, r)
		if f.deleteStatus == http.StatusNotFound {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusNotFound)
			_, _ = io.WriteString(w, `{"error":"model 'ghost' not found"}`)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	return mux
}

func writeNDJSON(w http.ResponseWriter, lines []string) {
	w.Header().Set("Content-Type", "application/x-ndjson")
	for _, l := range lines {
		fmt.Fprintln(w, l)
		if fl, ok := w.(http.Flusher); ok {
			fl.Flush()
		}
	}
}

// writeStream writes lines like writeNDJSON. With truncate set, the connection is then dropped without
// finishing the response, as a daemon that crashed mid-stream would.
func (f *fakeDaemon) writeStream(t *testing.T, w http.ResponseWriter, lines []string) {
	writeNDJSON(w, lines)
	if !f.truncate {
		return
	}
	conn, _, err := w.(http.Hijacker).Hijack()
	require.NoError(t, err)
	_ = conn.Close()
}

func decodeBody(t *testing.T, r *http.Request) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
	return body
}

func newTestOllama(t *testing.T, f *fakeDaemon) services.Ollama {
	t.Helper()
	srv := httptest.NewServer(f.handler(t))
	t.Cleanup(srv.Close)

	o, err := services.NewOllama(srv.URL, 5*time.Second, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	return o
}

func unreachableOllama(t *testing.T) services.Ollama {
	t.Helper()
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	o, err := services.NewOllama(url, time.Second, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	return o
}

func TestNewOllamaInvalidHost(t *testing.T) {
	_, err := services.NewOllama("localhost", time.Second, slog.Default())
	assert.Error(t, err)

	o, err := services.NewOllama("", time.Second, slog.Default())
	require.NoError(t, err)
	assert.Equal(t, services.DefaultOllamaHost, o.Host())
}

func TestOllamaPing(t *testing.T) {
	o := newTestOllama(t, &fakeDaemon{})
	assert.True(t, o.Ping(context.Background()))

	assert.False(t, unreachableOllama(t).Ping(context.Background()))
}

func TestOllamaListInstalled(t *testing.T) {
	f := &fakeDaemon{tags: `{"models":[
		{"name":"llama3:latest","model":"llama3:latest","size":4000000000,"digest":"abc123def4567890"},
		{"model":"mistral:7b","size":4100000000,"digest":"fff"}
	]}`}
	o := newTestOllama(t, f)

	got, err := o.ListInstalled(context.Background())
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "llama3:latest", got[0].Name)
	assert.Equal(t, int64(4000000000), got[0].SizeBytes)
	assert.Equal(t, "abc123def4567890", got[0].Digest)
	assert.Equal(t, "mistral:7b", got[1].Name, "model field is used when name is missing")
}

func TestOllamaListInstalledEmpty(t *testing.T) {
	o := newTestOllama(t, &fakeDaemon{tags: `{"models":[]}`})

	got, err := o.ListInstalled(context.Background())
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestOllamaUnreachable(t *testing.T) {
	o := unreachableOllama(t)
	ctx := context.Background()

	_, err := o.ListInstalled(ctx)
	assert.ErrorIs(t, err, models.ErrDaemonUnreachable)

	_, err = o.ListRunning(ctx)
	assert.ErrorIs(t, err, models.ErrDaemonUnreachable)

	assert.ErrorIs(t, o.Delete(ctx, "llama3"), models.ErrDaemonUnreachable)
	assert.ErrorIs(t, o.Unload(ctx, "llama3"), models.ErrDaemonUnreachable)

	for _, err := range o.Pull(ctx, "llama3") {
		assert.ErrorIs(t, err, models.ErrPullFailed)
		assert.ErrorIs(t, err, models.ErrDaemonUnreachable)
	}
}

func TestOllamaListRunning(t *testing.T) {
	f := &fakeDaemon{ps: `{"models":[{"name":"llama3:latest","model":"llama3:latest","size":5000000000,"size_vram":4000000000}]}`}
	o := newTestOllama(t, f)

	got, err := o.ListRunning(context.Background())
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "llama3:latest", got[0].Name)
	assert.Equal(t, int64(5000000000), got[0].SizeBytes)
	assert.Equal(t, int64(4000000000), got[0].SizeVRAM)
}

func TestOllamaPull(t *testing.T) {
	f := &fakeDaemon{pullLines: []string{
		`{"status":"pulling manifest"}`,
		`{"status":"downloading 10%","digest":"sha256:aa","total":100,"completed":10}`,
		`{"status":"downloading 100%","digest":"sha256:aa","total":100,"completed":100}`,
		`{"status":"verifying"}`,
		`{"status":"success"}`,
	}}
	o := newTestOllama(t, f)

	var statuses []string
	for p, err := range o.Pull(context.Background(), "llama3") {
		require.NoError(t, err)
		statuses = append(statuses, p.Status)
	}
	assert.Equal(t, []string{"pulling manifest", "downloading 10%", "downloading 100%", "verifying", "success"}, statuses)
}

func TestOllamaPullTruncatedStream(t *testing.T) {
	tests := []struct {
		name     string
		truncate bool
	}{
		{name: "connection dropped", truncate: true},
		{name: "closed without success", truncate: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := &fakeDaemon{
				truncate: tt.truncate,
				pullLines: []string{
					`{"status":"pulling manifest"}`,
					`{"status":"downloading 10%","digest":"sha256:aa","total":100,"completed":10}`,
				},
			}
			o := newTestOllama(t, f)

			var statuses []string
			var lastErr error
			for p, err := range o.Pull(context.Background(), "llama3") {
				if err != nil {
					lastErr = err
					continue
				}
				statuses = append(statuses, p.Status)
			}
			assert.Equal(t, []string{"pulling manifest", "downloading 10%"}, statuses)
			require.ErrorIs(t, lastErr, models.ErrPullFailed)
			assert.ErrorIs(t, lastErr, io.ErrUnexpectedEOF)
		})
	}
}

func TestOllamaPullFailure(t *testing.T) {
	f := &fakeDaemon{pullLines: []string{
		`{"status":"pulling manifest"}`,
		`{"error":"pull model manifest: file does not exist"}`,
	}}
	o := newTestOllama(t, f)

	var statuses []string
	var lastErr error
	for p, err := range o.Pull(context.Background(), "nope") {
		if err != nil {
			lastErr = err
			continue
		}
		statuses = append(statuses, p.Status)
	}
	assert.Equal(t, []string{"pulling manifest"}, statuses)
	require.ErrorIs(t, lastErr, models.ErrPullFailed)
	assert.Contains(t, lastErr.Error(), "file does not exist")
}

func TestOllamaPullStopEarly(t *testing.T) {
	f := &fakeDaemon{pullLines: []string{
		`{"status":"pulling manifest"}`,
		`{"status":"verifying"}`,
	}}
	o := newTestOllama(t, f)

	n := 0
	for _, err := range o.Pull(context.Background(), "llama3") {
		require.NoError(t, err)
		n++
		break
	}
	assert.Equal(t, 1, n)
}

func TestOllamaChat(t *testing.T) {
	f := &fakeDaemon{chatLines: []string{
		`{"model":"llama3","message":{"role":"assistant","content":"Hel"},"done":false}`,
		`{"model":"llama3","message":{"role":"assistant","content":"lo"},"done":false}`,
		`{"model":"llama3","message":{"role":"assistant","content":", world"},"done":false}`,
		`{"model":"llama3","message":{"role":"assistant","content":""},"done":true}`,
	}}
	o := newTestOllama(t, f)

	var fragments []string
	for frag, err := range o.Chat(context.Background(), "llama3:latest", models.UserMessage("hi")) {
		require.NoError(t, err)
		fragments = append(fragments, frag)
	}
	assert.Equal(t, []string{"Hel", "lo", ", world"}, fragments)

	assert.Equal(t, "llama3:latest", f.gotChat["model"])
	msgs, ok := f.gotChat["messages"].([]any)
	require.True(t, ok)
	require.Len(t, msgs, 1, "only the current prompt is sent")
	assert.Equal(t, map[string]any{"role": "user", "content": "hi"}, msgs[0])
}

func TestOllamaChatMidStreamError(t *testing.T) {
	f := &fakeDaemon{chatLines: []string{
		`{"model":"llama3","message":{"role":"assistant","content":"Hel"},"done":false}`,
		`{"error":"model runner crashed"}`,
	}}
	o := newTestOllama(t, f)

	var fragments []string
	var lastErr error
	for frag, err := range o.Chat(context.Background(), "llama3", models.UserMessage("hi")) {
		if err != nil {
			lastErr = err
			continue
		}
		fragments = append(fragments, frag)
	}
	assert.Equal(t, []string{"Hel"}, fragments)
	require.ErrorIs(t, lastErr, models.ErrChatFailed)
	assert.Contains(t, lastErr.Error(), "model runner crashed")
}

func TestOllamaChatTruncatedStream(t *testing.T) {
	f := &fakeDaemon{
		truncate: true,
		chatLines: []string{
			`{"model":"llama3","message":{"role":"assistant","content":"Hel"},"done":false}`,
		},
	}
	o := newTestOllama(t, f)

	var fragments []string
	var errs []error
	for frag, err := range o.Chat(context.Background(), "llama3", models.UserMessage("hi")) {
		if err != nil {
			errs = append(errs, err)
			continue
		}
		fragments = append(fragments, frag)
	}
	assert.Equal(t, []string{"Hel"}, fragments)
	require.Len(t, errs, 1)
	assert.ErrorIs(t, errs[0], models.ErrChatFailed)
	assert.ErrorIs(t, errs[0], io.ErrUnexpectedEOF)
}

func TestOllamaDelete(t *testing.T) {
	f := &fakeDaemon{}
	o := newTestOllama(t, f)

	require.NoError(t, o.Delete(context.Background(), "llama3"))
	assert.Equal(t, "llama3", f.gotDelete["model"])

	f.deleteStatus = http.StatusNotFound
	assert.ErrorIs(t, o.Delete(context.Background(), "ghost"), models.ErrNotFound)
}

func TestOllamaUnload(t *testing.T) {
	f := &fakeDaemon{}
	o := newTestOllama(t, f)

	require.NoError(t, o.Unload(context.Background(), "llama3"))
	assert.Equal(t, "llama3", f.gotGenerate["model"])
	keepAlive, ok := f.gotGenerate["keep_alive"]
	require.True(t, ok, "keep_alive must be sent")
	assert.Equal(t, "0s", keepAlive)
}

func TestOllamaUnloadNotInstalled(t *testing.T) {
	f := &fakeDaemon{}
	o := newTestOllama(t, f)

	assert.ErrorIs(t, o.Unload(context.Background(), "ghost"), models.ErrNotFound)
	assert.Nil(t, f.gotGenerate, "no unload request for a missing model")
}
