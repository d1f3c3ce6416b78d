package telegram

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"tgcast/internal/domain"
	"tgcast/internal/transport"
	logx "tgcast/pkg/logx"
)

type fakeAPI struct {
	mu     sync.Mutex
	calls  []string
	bodies []map[string]any
	nextID int
	failAt int // 1-based call answered with a 500, 0 for none
}

func (f *fakeAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	method := r.URL.Path[strings.LastIndex(r.URL.Path, "/")+1:]
	body := map[string]any{}
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/") {
		if err := r.ParseMultipartForm(1 << 20); err == nil {
			for k, v := range r.MultipartForm.Value {
				if len(v) > 0 {
					body[k] = v[0]
				}
			}
		}
	} else {
		_ = json.NewDecoder(r.Body).Decode(&body)
	}

	f.mu.Lock()
	f.calls = append(f.calls, method)
	f.bodies = append(f.bodies, body)
	f.nextID++
	id := f.nextID
	fail := f.failAt == len(f.calls)
	f.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	switch {
	case fail:
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"ok":false,"error_code":500,"description":"Internal Server Error"}`))
	case body["chat_id"] == "@missing":
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"ok":false,"error_code":400,"description":"Bad Request: chat not found"}`))
	case method == "sendMessage":
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": true, "result": message(id, "")})
	case method == "sendPhoto", method == "sendVideo", method == "sendDocument":
		kind := strings.ToLower(strings.TrimPrefix(method, "send"))
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": true, "result": message(id, kind)})
	case method == "sendMediaGroup":
		var items []struct {
			Type string `json:"type"`
		}
		_ = json.Unmarshal([]byte(fmt.Sprint(body["media"])), &items)
		result := make([]any, 0, len(items))
		for i, it := range items {
			result = append(result, message(id*100+i, it.Type))
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": true, "result": result})
	case method == "deleteMessage":
		_, _ = w.Write([]byte(`{"ok":true,"result":true}`))
	case method == "getMe":
		_, _ = w.Write([]byte(`{"ok":true,"result":{"id":42,"is_bot":true,"first_name":"Cast","username":"cast_bot"}}`))
	default:
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"ok":false,"error_code":404,"description":"Not Found"}`))
	}
}

// message renders a sent message; kind adds the matching file object.
func message(id int, kind string) map[string]any {
	m := map[string]any{"message_id": id, "date": 1, "chat": map[string]any{"id": -100, "type": "channel"}}
	file := map[string]any{"file_id": fmt.Sprintf("f%d", id), "file_unique_id": fmt.Sprintf("u%d", id)}
	switch kind {
	case "photo":
		file["width"], file["height"] = 1, 1
		m["photo"] = []any{file}
	case "video", "document":
		m[kind] = file
	}
	return m
}

func (f *fakeAPI) snapshot() ([]string, []map[string]any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...), append([]map[string]any(nil), f.bodies...)
}

func tempFile(t *testing.T, name string) transport.Media {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	return transport.Media{Path: path, FileName: name}
}

func newTestClient(t *testing.T) (*Client, *fakeAPI) {
	t.Helper()
	api := &fakeAPI{}
	srv := httptest.NewServer(api)
	t.Cleanup(srv.Close)
	c, err := New("123:abc", Config{APIURL: srv.URL}, logx.Nop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c, api
}

func TestSendTextSplitsAndAttachesMarkupOnce(t *testing.T) {
	c, api := newTestClient(t)
	text := strings.Repeat("x", 3000) + "\n" + strings.Repeat("y", 3000)
	opt := &transport.SendOptions{
		Format:  domain.FormatBasic,
		Buttons: []domain.ButtonRow{{{Label: "Open", URL: "https://example.com"}}},
	}
	rc, err := c.SendText(context.Background(), "-100", text, opt)
	if err != nil {
		t.Fatalf("SendText: %v", err)
	}
	if len(rc.MessageIDs) != 2 {
		t.Fatalf("message ids = %v", rc.MessageIDs)
	}
	api.mu.Lock()
	defer api.mu.Unlock()
	if api.bodies[0]["parse_mode"] != "HTML" {
		t.Fatalf("parse_mode = %v", api.bodies[0]["parse_mode"])
	}
	if _, ok := api.bodies[0]["reply_markup"]; ok {
		t.Fatal("markup sent on first chunk")
	}
	if _, ok := api.bodies[1]["reply_markup"]; !ok {
		t.Fatal("markup missing on last chunk")
	}
}

func TestRejectedChatIsClassified(t *testing.T) {
	c, _ := newTestClient(t)
	_, err := c.SendText(context.Background(), "@missing", "hi", nil)
	if err == nil {
		t.Fatal("expected error")
	}
	if !transport.IsRejected(err) {
		t.Fatalf("expected rejected, got %v (kind %v)", err, transport.Classify(err))
	}
}

func TestDeleteAndGetMe(t *testing.T) {
	c, api := newTestClient(t)
	if err := c.DeleteMessage(context.Background(), "-100", 7); err != nil {
		t.Fatalf("DeleteMessage: %v", err)
	}
	me, err := c.GetMe(context.Background())
	if err != nil {
		t.Fatalf("GetMe: %v", err)
	}
	if me.ID != 42 || me.Username != "cast_bot" {
		t.Fatalf("GetMe = %+v", me)
	}
	api.mu.Lock()
	defer api.mu.Unlock()
	if api.calls[0] != "deleteMessage" {
		t.Fatalf("calls = %v", api.calls)
	}
}

func TestNewRejectsEmptyToken(t *testing.T) {
	_, err := New("  ", Config{}, logx.Nop())
	if transport.Classify(err) != transport.KindConfiguration {
		t.Fatalf("expected configuration error, got %v", err)
	}
}

func TestSendFileMethods(t *testing.T) {
	cases := []struct {
		method string
		send   func(c *Client, m transport.Media) (transport.Receipt, error)
	}{
		{"sendPhoto", func(c *Client, m transport.Media) (transport.Receipt, error) {
			return c.SendPhoto(context.Background(), "-100", m, "hi", nil)
		}},
		{"sendVideo", func(c *Client, m transport.Media) (transport.Receipt, error) {
			return c.SendVideo(context.Background(), "-100", m, "hi", nil)
		}},
		{"sendDocument", func(c *Client, m transport.Media) (transport.Receipt, error) {
			return c.SendDocument(context.Background(), "-100", m, "hi", nil)
		}},
	}
	for _, tc := range cases {
		t.Run(tc.method, func(t *testing.T) {
			c, api := newTestClient(t)
			rc, err := tc.send(c, tempFile(t, "a.bin"))
			if err != nil {
				t.Fatalf("send: %v", err)
			}
			if len(rc.MessageIDs) != 1 || rc.MessageIDs[0] != 1 {
				t.Fatalf("message ids = %v", rc.MessageIDs)
			}
			calls, bodies := api.snapshot()
			if len(calls) != 1 || calls[0] != tc.method || bodies[0]["caption"] != "hi" {
				t.Fatalf("calls = %v, bodies = %v", calls, bodies)
			}
		})
	}
}

func TestSendMediaGroupReturnsOneIDPerItem(t *testing.T) {
	c, api := newTestClient(t)
	a, b, v := tempFile(t, "a.jpg"), tempFile(t, "b.jpg"), tempFile(t, "c.mp4")
	a.Kind, b.Kind, v.Kind = transport.MediaPhoto, transport.MediaPhoto, transport.MediaVideo

	rc, err := c.SendMediaGroup(context.Background(), "-100", []transport.Media{a, b, v}, "cap", nil)
	if err != nil {
		t.Fatalf("SendMediaGroup: %v", err)
	}
	if len(rc.MessageIDs) != 3 || rc.MessageIDs[0] != 100 || rc.MessageIDs[2] != 102 {
		t.Fatalf("message ids = %v", rc.MessageIDs)
	}
	_, bodies := api.snapshot()
	media := fmt.Sprint(bodies[0]["media"])
	if strings.Count(media, `"caption":"cap"`) != 1 || !strings.Contains(media, `"type":"video"`) {
		t.Fatalf("media = %s", media)
	}
}

func TestCaptionOverflowFollowsAsText(t *testing.T) {
	long := strings.Repeat("c", transport.CaptionLimit+1)

	c, api := newTestClient(t)
	rc, err := c.SendPhoto(context.Background(), "-100", tempFile(t, "a.jpg"), long, nil)
	if err != nil {
		t.Fatalf("SendPhoto: %v", err)
	}
	calls, bodies := api.snapshot()
	if len(rc.MessageIDs) != 2 || len(calls) != 2 || calls[1] != "sendMessage" {
		t.Fatalf("ids = %v, calls = %v", rc.MessageIDs, calls)
	}
	if bodies[0]["caption"] != "" || bodies[1]["text"] != long {
		t.Fatal("caption not moved to a text message")
	}

	c, api = newTestClient(t)
	a, b := tempFile(t, "a.jpg"), tempFile(t, "b.jpg")
	a.Kind, b.Kind = transport.MediaPhoto, transport.MediaPhoto
	rc, err = c.SendMediaGroup(context.Background(), "-100", []transport.Media{a, b}, long, nil)
	if err != nil {
		t.Fatalf("SendMediaGroup: %v", err)
	}
	calls, _ = api.snapshot()
	if len(rc.MessageIDs) != 3 || len(calls) != 2 || calls[1] != "sendMessage" {
		t.Fatalf("ids = %v, calls = %v", rc.MessageIDs, calls)
	}
}

func TestSendTextKeepsDeliveredChunksOnFailure(t *testing.T) {
	c, api := newTestClient(t)
	api.failAt = 2
	text := strings.Repeat("x", transport.TextLimit+10)

	rc, err := c.SendText(context.Background(), "-100", text, nil)
	if err == nil || !transport.IsTransient(err) {
		t.Fatalf("err = %v, want transient", err)
	}
	if len(rc.MessageIDs) != 1 || rc.MessageIDs[0] != 1 {
		t.Fatalf("message ids = %v, want the first chunk", rc.MessageIDs)
	}
}
