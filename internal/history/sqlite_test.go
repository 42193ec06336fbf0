package history

import (
	"context"
	"errors"
	"path/filepath"
	"sort"
	"sync"
	"testing"
	"time"
)

// clock is a settable time source for tests.
type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = t
}

func newTestStore(t *testing.T, opts ...Option) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(":memory:", opts...)
	if err != nil {
		t.Fatalf("creating test store: %v", err)
	}
	t.Cleanup(func() {
		if err := s.Close(); err != nil {
			t.Errorf("closing test store: %v", err)
		}
	})
	return s
}

func structuralChange(prev, cur Observation) bool { return prev != cur }

func TestLatestOnEmptyStore(t *testing.T) {
	s := newTestStore(t)
	got, err := s.Latest(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if got != (Observation{}) {
		t.Errorf("latest = %+v, want zero observation", got)
	}
}

func TestAppendThenLatest(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	want := Observation{EmailCount: 5, LastSender: "a@x.com", LastSubject: "Hi"}
	if err := s.AppendCheck(ctx, want, nil); err != nil {
		t.Fatal(err)
	}
	got, err := s.Latest(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if got != want {
		t.Errorf("latest = %+v, want %+v", got, want)
	}

	next := Observation{EmailCount: 6, LastSender: "b@x.com", LastSubject: "Yo"}
	if err := s.AppendCheck(ctx, next, nil); err != nil {
		t.Fatal(err)
	}
	if got, _ := s.Latest(ctx); got != next {
		t.Errorf("latest = %+v, want %+v", got, next)
	}
}

func TestRecordsAreIncreasingAndUnread(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	received := time.Date(2026, 10, 19, 8, 30, 0, 0, time.UTC)
	for i := 1; i <= 3; i++ {
		var at *time.Time
		if i == 2 {
			at = &received
		}
		if err := s.AppendCheck(ctx, Observation{EmailCount: i}, at); err != nil {
			t.Fatal(err)
		}
	}

	recs, err := s.Records(ctx, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 3 {
		t.Fatalf("got %d records", len(recs))
	}
	for i := 0; i < len(recs)-1; i++ {
		if recs[i].ID <= recs[i+1].ID {
			t.Errorf("records not newest first: %d then %d", recs[i].ID, recs[i+1].ID)
		}
	}
	for _, r := range recs {
		if r.IsRead {
			t.Errorf("record %d created read", r.ID)
		}
	}
	if recs[1].LastReceivedTime == nil || !recs[1].LastReceivedTime.Equal(received) {
		t.Errorf("received time = %v, want %v", recs[1].LastReceivedTime, received)
	}
	if recs[0].LastReceivedTime != nil {
		t.Errorf("expected nil received time, got %v", recs[0].LastReceivedTime)
	}

	limited, err := s.Records(ctx, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(limited) != 2 || limited[0].EmailCount != 3 {
		t.Errorf("limited = %+v", limited)
	}
}

func TestMarkLatestUnreadAsRead(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		if err := s.AppendCheck(ctx, Observation{EmailCount: i}, nil); err != nil {
			t.Fatal(err)
		}
	}

	readFlags := func() map[int64]bool {
		t.Helper()
		recs, err := s.Records(ctx, 0)
		if err != nil {
			t.Fatal(err)
		}
		flags := make(map[int64]bool)
		for _, r := range recs {
			flags[r.ID] = r.IsRead
		}
		return flags
	}

	if err := s.MarkLatestUnreadAsRead(ctx); err != nil {
		t.Fatal(err)
	}
	flags := readFlags()
	if !flags[3] || flags[2] || flags[1] {
		t.Fatalf("after first mark: %v", flags)
	}

	if err := s.MarkLatestUnreadAsRead(ctx); err != nil {
		t.Fatal(err)
	}
	flags = readFlags()
	if !flags[3] || !flags[2] || flags[1] {
		t.Fatalf("after second mark: %v", flags)
	}

	for i := 0; i < 3; i++ {
		if err := s.MarkLatestUnreadAsRead(ctx); err != nil {
			t.Fatalf("mark on fully read store: %v", err)
		}
	}
	for id, read := range readFlags() {
		if !read {
			t.Errorf("record %d still unread", id)
		}
	}
}

func TestMarkOnEmptyStoreIsNoop(t *testing.T) {
	s := newTestStore(t)
	if err := s.MarkLatestUnreadAsRead(context.Background()); err != nil {
		t.Fatal(err)
	}
}

func TestUnreadTodayExcludesPastDates(t *testing.T) {
	today := time.Date(2026, 10, 19, 9, 0, 0, 0, time.Local)
	clk := &clock{t: today.AddDate(0, 0, -1)}
	s := newTestStore(t, WithClock(clk.Now))
	ctx := context.Background()

	if err := s.AppendCheck(ctx, Observation{1, "old@x.com", "Yesterday"}, nil); err != nil {
		t.Fatal(err)
	}
	clk.Set(today)
	if err := s.AppendCheck(ctx, Observation{2, "new@x.com", "Today"}, nil); err != nil {
		t.Fatal(err)
	}
	if err := s.AppendCheck(ctx, Observation{3, "read@x.com", "Seen"}, nil); err != nil {
		t.Fatal(err)
	}
	if err := s.MarkLatestUnreadAsRead(ctx); err != nil {
		t.Fatal(err)
	}
	if err := s.AppendCheck(ctx, Observation{4, "also@x.com", "Later"}, nil); err != nil {
		t.Fatal(err)
	}

	got, err := s.UnreadToday(ctx)
	if err != nil {
		t.Fatal(err)
	}
	sort.Slice(got, func(i, j int) bool { return got[i].Sender < got[j].Sender })
	want := []Unread{{"also@x.com", "Later"}, {"new@x.com", "Today"}}
	if len(got) != len(want) {
		t.Fatalf("unread today = %+v, want %+v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("unread[%d] = %+v, want %+v", i, got[i], want[i])
		}
	}
}

func TestUnreadTodayMidnightBoundary(t *testing.T) {
	lastNight := time.Date(2026, 10, 18, 23, 59, 59, 0, time.Local)
	clk := &clock{t: lastNight}
	s := newTestStore(t, WithClock(clk.Now))
	ctx := context.Background()

	if err := s.AppendCheck(ctx, Observation{1, "a", "b"}, nil); err != nil {
		t.Fatal(err)
	}
	clk.Set(lastNight.Add(2 * time.Second))

	got, err := s.UnreadToday(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 0 {
		t.Errorf("record from previous day leaked into today: %+v", got)
	}
}

func TestAppendIfChanged(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	obs := Observation{EmailCount: 1, LastSender: "bob@x.com", LastSubject: "Hello"}

	for i := 0; i < 5; i++ {
		appended, err := s.AppendIfChanged(ctx, obs, nil, structuralChange)
		if err != nil {
			t.Fatal(err)
		}
		if appended != (i == 0) {
			t.Errorf("call %d: appended = %v", i, appended)
		}
	}

	recs, err := s.Records(ctx, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 1 {
		t.Errorf("got %d records, want 1", len(recs))
	}
}

func TestAppendIfChangedConcurrent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	obs := Observation{EmailCount: 2, LastSender: "c@x.com", LastSubject: "Race"}

	var wg sync.WaitGroup
	errs := make(chan error, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.AppendIfChanged(ctx, obs, nil, structuralChange); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatal(err)
	}

	recs, err := s.Records(ctx, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 1 {
		t.Errorf("concurrent identical checks produced %d records", len(recs))
	}
}

func TestFileStorePersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "email_logs.db")
	ctx := context.Background()

	s, err := NewSQLiteStore(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.AppendCheck(ctx, Observation{7, "p@x.com", "Persist"}, nil); err != nil {
		t.Fatal(err)
	}
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}

	s, err = NewSQLiteStore(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s.Close()
	got, err := s.Latest(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if got != (Observation{7, "p@x.com", "Persist"}) {
		t.Errorf("latest after reopen = %+v", got)
	}
}

func TestClosedStoreIsUnavailable(t *testing.T) {
	s, err := NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	s.Close()

	_, err = s.Latest(context.Background())
	var ue *UnavailableError
	if !errors.As(err, &ue) {
		t.Fatalf("expected UnavailableError, got %v", err)
	}
}

func TestAppendIfChangedAcrossHandles(t *testing.T) {
	path := filepath.Join(t.TempDir(), "email_logs.db")
	ctx := context.Background()

	a, err := NewSQLiteStore(path)
	if err != nil {
		t.Fatal(err)
	}
	defer a.Close()
	b, err := NewSQLiteStore(path)
	if err != nil {
		t.Fatal(err)
	}
	defer b.Close()

	obs := Observation{EmailCount: 1, LastSender: "bob@x.com", LastSubject: "Hello"}

	type result struct {
		appended bool
		err      error
	}
	other := make(chan result, 1)

	// A second handle starts its own check while a holds its transaction.
	appendedA, err := a.AppendIfChanged(ctx, obs, nil, func(prev, cur Observation) bool {
		go func() {
			ok, err := b.AppendIfChanged(ctx, obs, nil, structuralChange)
			other <- result{ok, err}
		}()
		time.Sleep(50 * time.Millisecond)
		return structuralChange(prev, cur)
	})
	if err != nil {
		t.Fatalf("first handle: %v", err)
	}
	if !appendedA {
		t.Error("first handle should have appended")
	}

	resB := <-other
	if resB.err != nil {
		t.Fatalf("second handle: %v", resB.err)
	}
	if resB.appended {
		t.Error("second handle appended a duplicate of the same snapshot")
	}

	recs, err := a.Records(ctx, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 1 {
		t.Errorf("got %d records, want 1", len(recs))
	}
}

func TestRecordsReadsTimestampsWithoutFraction(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.db.Exec(`
		INSERT INTO email_checks (check_time, email_count, last_sender, last_subject, is_read)
		VALUES ('2026-10-18T09:15:00', 2, 'old@x.com', 'Legacy', 0),
		       ('2026-10-18T09:20:00.123456', 3, 'new@x.com', 'Current', 0)`)
	if err != nil {
		t.Fatal(err)
	}

	recs, err := s.Records(ctx, 0)
	if err != nil {
		t.Fatalf("records: %v", err)
	}
	if len(recs) != 2 {
		t.Fatalf("got %d records", len(recs))
	}
	want := time.Date(2026, 10, 18, 9, 15, 0, 0, time.Local)
	if !recs[1].CheckTime.Equal(want) {
		t.Errorf("legacy check time = %v, want %v", recs[1].CheckTime, want)
	}
	if recs[0].CheckTime.Nanosecond() != 123456000 {
		t.Errorf("fractional check time = %v", recs[0].CheckTime)
	}
}
