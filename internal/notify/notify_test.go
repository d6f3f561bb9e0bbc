package notify

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
	slackapi "github.com/slack-go/slack"
)

type mockPoster struct {
	mu    sync.Mutex
	posts []string
	err   error
}

func (m *mockPoster) PostMessage(_ context.Context, channel, text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.posts = append(m.posts, channel+":"+text)
	return m.err
}

type failingNotifier struct{ err error }

func (f failingNotifier) Notify(context.Context, string, []string) error { return f.err }

func TestSlack_JoinsLines(t *testing.T) {
	mp := &mockPoster{}
	s := NewSlackWithClient(mp, "C123")

	if err := s.Notify(context.Background(), "c1", []string{"Created event: Quiz", "Canceled event: Talk"}); err != nil {
		t.Fatalf("Notify failed: %v", err)
	}
	if len(mp.posts) != 1 || mp.posts[0] != "C123:Created event: Quiz\nCanceled event: Talk" {
		t.Errorf("Unexpected posts: %q", mp.posts)
	}

	if err := s.Notify(context.Background(), "c2", nil); err != nil || len(mp.posts) != 1 {
		t.Errorf("Expected empty runs to be skipped")
	}
}

func TestSlack_RealClient(t *testing.T) {
	var gotChannel, gotText string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/chat.postMessage") {
			http.NotFound(w, r)
			return
		}
		if err := r.ParseForm(); err != nil {
			t.Errorf("ParseForm: %v", err)
		}
		gotChannel = r.FormValue("channel")
		gotText = r.FormValue("text")
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"ok":true,"channel":"C123","ts":"1700000000.000100"}`))
	}))
	defer srv.Close()

	s := NewSlack("xoxb-test", "C123", slackapi.OptionAPIURL(srv.URL+"/"))
	if err := s.Notify(context.Background(), "c1", []string{"Updated event: Quiz"}); err != nil {
		t.Fatalf("Notify failed: %v", err)
	}
	if gotChannel != "C123" || gotText != "Updated event: Quiz" {
		t.Errorf("got channel=%q text=%q", gotChannel, gotText)
	}
}

func TestSlack_Error(t *testing.T) {
	s := NewSlackWithClient(&mockPoster{err: errors.New("channel_not_found")}, "C9")
	err := s.Notify(context.Background(), "c1", []string{"x"})
	if err == nil || !strings.Contains(err.Error(), "channel_not_found") {
		t.Errorf("Expected wrapped error, got %v", err)
	}
}

func TestMulti_TriesEverySink(t *testing.T) {
	first := &mockPoster{}
	second := &mockPoster{}
	m := Multi{
		NewSlackWithClient(first, "A"),
		failingNotifier{err: errors.New("down")},
		NewSlackWithClient(second, "B"),
	}

	err := m.Notify(context.Background(), "c1", []string{"line"})
	if err == nil || !strings.Contains(err.Error(), "down") {
		t.Errorf("Expected joined error, got %v", err)
	}
	if len(first.posts) != 1 || len(second.posts) != 1 {
		t.Error("Expected every sink to receive the lines")
	}
}

func startNATS(t *testing.T) *server.Server {
	t.Helper()
	ns, err := server.NewServer(&server.Options{
		Host:   "127.0.0.1",
		Port:   -1,
		NoLog:  true,
		NoSigs: true,
	})
	if err != nil {
		t.Fatalf("nats server create: %v", err)
	}
	go ns.Start()
	if !ns.ReadyForConnections(10 * time.Second) {
		t.Fatal("nats server failed to become ready")
	}
	t.Cleanup(func() {
		ns.Shutdown()
		ns.WaitForShutdown()
	})
	return ns
}

func TestNATS_Publishes(t *testing.T) {
	ns := startNATS(t)

	sub, err := nats.Connect(ns.ClientURL())
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer sub.Close()
	s, err := sub.SubscribeSync("outcomes.test")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if err := sub.Flush(); err != nil {
		t.Fatalf("flush: %v", err)
	}

	pub, err := NewNATS(ns.ClientURL(), "outcomes.test", zerolog.Nop())
	if err != nil {
		t.Fatalf("NewNATS failed: %v", err)
	}
	defer pub.Close()

	if err := pub.Notify(context.Background(), "cycle-1", []string{"Created event: Quiz"}); err != nil {
		t.Fatalf("Notify failed: %v", err)
	}

	msg, err := s.NextMsg(5 * time.Second)
	if err != nil {
		t.Fatalf("NextMsg: %v", err)
	}
	var got Message
	if err := json.Unmarshal(msg.Data, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.Cycle != "cycle-1" || len(got.Lines) != 1 || got.Lines[0] != "Created event: Quiz" {
		t.Errorf("Unexpected message: %+v", got)
	}
}

func TestNATS_DefaultSubject(t *testing.T) {
	ns := startNATS(t)
	pub, err := NewNATS(ns.ClientURL(), "", zerolog.Nop())
	if err != nil {
		t.Fatalf("NewNATS failed: %v", err)
	}
	defer pub.Close()
	if pub.subject != DefaultSubject {
		t.Errorf("subject = %q, want %q", pub.subject, DefaultSubject)
	}
}

func TestNATS_ConnectError(t *testing.T) {
	_, err := NewNATS("nats://127.0.0.1:1", "", zerolog.Nop(), nats.Timeout(200*time.Millisecond), nats.MaxReconnects(0))
	if err == nil {
		t.Fatal("Expected connect error")
	}
}
