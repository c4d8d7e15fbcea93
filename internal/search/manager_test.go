package search_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/user/remoteide/internal/channel"
	"github.com/user/remoteide/internal/channel/channeltest"
	"github.com/user/remoteide/internal/notify"
	"github.com/user/remoteide/internal/protocol"
	"github.com/user/remoteide/internal/search"
)

func decodeSearch(t *testing.T, env protocol.Envelope) protocol.Search {
	t.Helper()
	var s protocol.Search
	if err := env.Decode(&s); err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	return s
}

func items(paths ...string) []protocol.SearchResultItem {
	out := make([]protocol.SearchResultItem, len(paths))
	for i, p := range paths {
		out[i] = protocol.SearchResultItem{Path: p, LineNumber: i + 1, Content: "match"}
	}
	return out
}

func TestSearchAdoptsAndReusesServerID(t *testing.T) {
	conn := channel.New(channel.Options{})
	peer := channeltest.Connect(t, conn)
	m := search.NewManager(conn, &notify.Recorder{}, nil)
	ctx := context.Background()

	if err := m.Search(ctx, "foo", true); err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	first := decodeSearch(t, peer.Expect(t, protocol.TypeSearch))
	if first.ID != protocol.NoSearchID || first.Query != "foo" || !first.SearchContent {
		t.Fatalf("first request = %+v", first)
	}
	if !m.State().Active {
		t.Fatal("search should be active")
	}

	m.HandleResults(protocol.SearchResults{SearchID: "s1", Items: items("a.go")})
	if st := m.State(); st.ID != "s1" || len(st.Results) != 1 || !st.Active {
		t.Fatalf("state = %+v", st)
	}

	if err := m.Search(ctx, "fooo", true); err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	second := decodeSearch(t, peer.Expect(t, protocol.TypeSearch))
	if second.ID != "s1" || second.Query != "fooo" {
		t.Fatalf("second request = %+v", second)
	}
	if len(m.State().Results) != 0 {
		t.Fatal("a new query should clear results")
	}

	if err := m.Cancel(ctx); err != nil {
		t.Fatalf("Cancel() error = %v", err)
	}
	var cancel protocol.CancelSearch
	if err := peer.Expect(t, protocol.TypeCancelSearch).Decode(&cancel); err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if cancel.ID != "s1" {
		t.Fatalf("cancel id = %q", cancel.ID)
	}
	if st := m.State(); st.ID != "" || st.Active || st.Results != nil {
		t.Fatalf("state after cancel = %+v", st)
	}
}

func TestResultsReplaceAndCompletion(t *testing.T) {
	conn := channel.New(channel.Options{})
	_ = channeltest.Connect(t, conn)
	m := search.NewManager(conn, nil, nil)
	_ = m.Search(context.Background(), "needle", false)

	m.HandleResults(protocol.SearchResults{SearchID: "s1", Items: items("a.go", "b.go")})
	m.HandleResults(protocol.SearchResults{SearchID: "s1", Items: items("a.go", "b.go", "c.go"), IsComplete: true})

	st := m.State()
	if len(st.Results) != 3 || st.Results[2].Path != "c.go" || st.Results[2].Line != 3 {
		t.Fatalf("results = %+v", st.Results)
	}
	if st.Active {
		t.Fatal("is_complete should end the search")
	}
}

func TestForeignAndCanceledResultsAreDropped(t *testing.T) {
	conn := channel.New(channel.Options{})
	_ = channeltest.Connect(t, conn)
	m := search.NewManager(conn, nil, nil)
	ctx := context.Background()

	_ = m.Search(ctx, "one", false)
	m.HandleResults(protocol.SearchResults{SearchID: "s1", Items: items("a.go")})
	m.HandleResults(protocol.SearchResults{SearchID: "s2", Items: items("x.go", "y.go")})
	if st := m.State(); st.ID != "s1" || len(st.Results) != 1 {
		t.Fatalf("foreign frame applied: %+v", st)
	}

	_ = m.Cancel(ctx)
	_ = m.Search(ctx, "two", false)
	m.HandleResults(protocol.SearchResults{SearchID: "s1", Items: items("late.go")})
	if st := m.State(); st.ID != "" || len(st.Results) != 0 {
		t.Fatalf("late frame for canceled id applied: %+v", st)
	}
	m.HandleResults(protocol.SearchResults{SearchID: "s3", Items: items("b.go")})
	if st := m.State(); st.ID != "s3" || len(st.Results) != 1 {
		t.Fatalf("new session not adopted: %+v", st)
	}
}

func TestCancelClearsStateWhenDisconnected(t *testing.T) {
	conn := channel.New(channel.Options{})
	peer := channeltest.Connect(t, conn)
	m := search.NewManager(conn, nil, nil)
	ctx := context.Background()

	_ = m.Search(ctx, "foo", false)
	peer.Expect(t, protocol.TypeSearch)
	m.HandleResults(protocol.SearchResults{SearchID: "s1"})

	peer.Close()
	deadline := time.Now().Add(2 * time.Second)
	for conn.Connected() && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}

	err := m.Cancel(ctx)
	if !errors.Is(err, channel.ErrNotConnected) {
		t.Fatalf("Cancel() error = %v, want ErrNotConnected", err)
	}
	if st := m.State(); st.ID != "" || st.Active {
		t.Fatalf("state after failed cancel = %+v", st)
	}
}

func TestHandleErrorEndsActiveSearch(t *testing.T) {
	conn := channel.New(channel.Options{})
	_ = channeltest.Connect(t, conn)
	rec := &notify.Recorder{}
	m := search.NewManager(conn, rec, nil)

	m.HandleError("ignored while idle")
	if len(rec.All()) != 0 {
		t.Fatal("idle manager should not report errors")
	}

	_ = m.Search(context.Background(), "foo", false)
	m.HandleError("bad pattern")
	if m.State().Active {
		t.Fatal("error should end the search")
	}
	if errs := rec.Errors(); len(errs) != 1 || errs[0].Message != "bad pattern" {
		t.Fatalf("notifications = %+v", errs)
	}
}

type recordingSearcher struct {
	mu      sync.Mutex
	queries []string
}

func (r *recordingSearcher) Search(_ context.Context, query string, _ bool) error {
	r.mu.Lock()
	r.queries = append(r.queries, query)
	r.mu.Unlock()
	return nil
}

func (r *recordingSearcher) got() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.queries...)
}

func TestInputDebouncesAndEnforcesMinimumLength(t *testing.T) {
	rs := &recordingSearcher{}
	in := search.NewInput(rs, 20*time.Millisecond, 2)
	t.Cleanup(in.Stop)

	in.Type("f", false)
	time.Sleep(60 * time.Millisecond)
	if got := rs.got(); len(got) != 0 {
		t.Fatalf("single character searched: %v", got)
	}

	in.Type("fo", false)
	in.Type("foo", false)
	in.Type("fooo", false)
	time.Sleep(80 * time.Millisecond)
	if got := rs.got(); len(got) != 1 || got[0] != "fooo" {
		t.Fatalf("searched %v, want [fooo]", got)
	}

	for _, q := range []string{"x", "   ", " x ", "xy"} {
		if err := in.Submit(context.Background(), q, false); err != nil {
			t.Fatalf("Submit(%q) error = %v", q, err)
		}
	}
	if got := rs.got(); len(got) != 2 || got[1] != "xy" {
		t.Fatalf("searched %v, want submit of xy only", got)
	}
}
