package poller

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"hwbot/internal/homework"
	"hwbot/internal/storage"
	logx "hwbot/pkg/logx"
)

type fetchResult struct {
	body string
	err  error
}

type fakeFetcher struct {
	mu      sync.Mutex
	results []fetchResult
	calls   []int64
}

func (f *fakeFetcher) Fetch(ctx context.Context, fromDate int64) (any, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, fromDate)
	r := f.results[0]
	if len(f.results) > 1 {
		f.results = f.results[1:]
	}
	if r.err != nil {
		return nil, r.err
	}
	var v any
	if err := json.Unmarshal([]byte(r.body), &v); err != nil {
		return nil, &homework.Error{Kind: homework.KindMalformedResponseBody, Err: err}
	}
	return v, nil
}

type fakeSender struct {
	mu       sync.Mutex
	attempts []string
	sent     []string
	failNext int
}

func (s *fakeSender) Send(ctx context.Context, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attempts = append(s.attempts, text)
	if s.failNext > 0 {
		s.failNext--
		return errors.New("telegram: bad gateway")
	}
	s.sent = append(s.sent, text)
	return nil
}

type memStore struct {
	state      storage.State
	saved      bool
	deliveries []storage.Delivery
}

func (m *memStore) LoadState(ctx context.Context) (storage.State, bool, error) {
	return m.state, m.saved, nil
}
func (m *memStore) SaveState(ctx context.Context, st storage.State) error {
	m.state, m.saved = st, true
	return nil
}
func (m *memStore) AppendDelivery(ctx context.Context, d storage.Delivery) error {
	m.deliveries = append(m.deliveries, d)
	return nil
}
func (m *memStore) Close() error { return nil }

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }

const (
	approvedBody    = `{"homeworks": [{"status": "approved", "homework_name": "proj1"}]}`
	approvedMessage = `Изменился статус проверки работы "proj1". Работа проверена: ревьюеру всё понравилось. Ура!`
)

func newTestPoller(f *fakeFetcher, s *fakeSender, c *clock, opts ...Option) *Poller {
	opts = append([]Option{WithClock(c.now)}, opts...)
	return New(f, s, nil, logx.Nop(), opts...)
}

func TestPollApprovedSendsAndAdvancesCursor(t *testing.T) {
	c := &clock{t: time.Unix(1000, 0)}
	f := &fakeFetcher{results: []fetchResult{{body: approvedBody}}}
	s := &fakeSender{}
	p := newTestPoller(f, s, c)

	c.t = time.Unix(1600, 0)
	if err := p.Poll(context.Background()); err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if len(s.sent) != 1 || s.sent[0] != approvedMessage {
		t.Fatalf("sent = %q", s.sent)
	}
	if f.calls[0] != 1000 {
		t.Fatalf("from_date = %d, want startup time 1000", f.calls[0])
	}
	ts, last := p.State()
	if ts != 1600 || last != approvedMessage {
		t.Fatalf("state = (%d, %q)", ts, last)
	}
}

func TestPollEmptyHomeworksChangesNothing(t *testing.T) {
	c := &clock{t: time.Unix(1000, 0)}
	f := &fakeFetcher{results: []fetchResult{{body: `{"homeworks": []}`}}}
	s := &fakeSender{}
	p := newTestPoller(f, s, c)

	c.t = time.Unix(2000, 0)
	if err := p.Poll(context.Background()); err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if len(s.attempts) != 0 {
		t.Fatalf("no delivery expected, got %q", s.attempts)
	}
	ts, last := p.State()
	if ts != 1000 || last != "" {
		t.Fatalf("state changed: (%d, %q)", ts, last)
	}
}

func TestPollUnchangedStatusSendsOnce(t *testing.T) {
	c := &clock{t: time.Unix(1000, 0)}
	f := &fakeFetcher{results: []fetchResult{{body: approvedBody}}}
	s := &fakeSender{}
	p := newTestPoller(f, s, c)

	for i := 0; i < 3; i++ {
		if err := p.Poll(context.Background()); err != nil {
			t.Fatalf("Poll %d: %v", i, err)
		}
	}
	if len(s.attempts) != 1 {
		t.Fatalf("attempts = %d, want exactly 1", len(s.attempts))
	}
}

func TestPollDeliveryFailureRetriesNextIteration(t *testing.T) {
	c := &clock{t: time.Unix(1000, 0)}
	f := &fakeFetcher{results: []fetchResult{{body: approvedBody}}}
	s := &fakeSender{failNext: 1}
	p := newTestPoller(f, s, c)

	c.t = time.Unix(1600, 0)
	err := p.Poll(context.Background())
	if !errors.Is(err, homework.KindDeliveryFailure) {
		t.Fatalf("err = %v, want delivery failure", err)
	}
	ts, last := p.State()
	if ts != 1000 || last != "" {
		t.Fatalf("state advanced after failed delivery: (%d, %q)", ts, last)
	}

	c.t = time.Unix(2200, 0)
	if err := p.Poll(context.Background()); err != nil {
		t.Fatalf("retry Poll: %v", err)
	}
	if len(s.attempts) != 2 || s.attempts[1] != approvedMessage {
		t.Fatalf("attempts = %q", s.attempts)
	}
	if f.calls[1] != 1000 {
		t.Fatalf("retry must reuse the old cursor, got %d", f.calls[1])
	}
	ts, last = p.State()
	if ts != 2200 || last != approvedMessage {
		t.Fatalf("state = (%d, %q)", ts, last)
	}
}

func TestPollUnknownVerdictReportedOnce(t *testing.T) {
	c := &clock{t: time.Unix(1000, 0)}
	f := &fakeFetcher{results: []fetchResult{{body: `{"homeworks": [{"status": "lost", "homework_name": "x"}]}`}}}
	s := &fakeSender{}
	p := newTestPoller(f, s, c)

	for i := 0; i < 3; i++ {
		err := p.Poll(context.Background())
		if !errors.Is(err, homework.KindUnrecognizedVerdict) {
			t.Fatalf("Poll %d err = %v", i, err)
		}
	}
	want := "Сбой в работе программы: Недокументированный статус домашки: lost."
	if len(s.attempts) != 1 || s.attempts[0] != want {
		t.Fatalf("attempts = %q, want one %q", s.attempts, want)
	}
	ts, last := p.State()
	if ts != 1000 {
		t.Fatalf("cursor moved on parse failure: %d", ts)
	}
	if last != want {
		t.Fatalf("last message = %q", last)
	}
}

func TestPollInvalidShapeDoesNotDeliverStatus(t *testing.T) {
	c := &clock{t: time.Unix(1000, 0)}
	f := &fakeFetcher{results: []fetchResult{{body: `{"homeworks": "not-a-list"}`}}}
	s := &fakeSender{}
	p := newTestPoller(f, s, c)

	err := p.Poll(context.Background())
	if !errors.Is(err, homework.KindInvalidShape) {
		t.Fatalf("err = %v, want invalid shape", err)
	}
	if len(s.sent) != 1 || s.sent[0] != "Сбой в работе программы: Неверный тип данных у элемента homeworks." {
		t.Fatalf("sent = %q", s.sent)
	}
}

func TestPollDistinctFailuresEachReported(t *testing.T) {
	c := &clock{t: time.Unix(1000, 0)}
	f := &fakeFetcher{results: []fetchResult{
		{err: &homework.Error{Kind: homework.KindUnexpectedStatusCode, StatusCode: 500}},
		{err: &homework.Error{Kind: homework.KindUnexpectedStatusCode, StatusCode: 500}},
		{err: &homework.Error{Kind: homework.KindUnexpectedStatusCode, StatusCode: 502}},
		{body: approvedBody},
	}}
	s := &fakeSender{}
	p := newTestPoller(f, s, c)

	for i := 0; i < 4; i++ {
		_ = p.Poll(context.Background())
	}
	want := []string{
		"Сбой в работе программы: Статус ответа 500.",
		"Сбой в работе программы: Статус ответа 502.",
		approvedMessage,
	}
	if len(s.sent) != len(want) {
		t.Fatalf("sent = %q, want %q", s.sent, want)
	}
	for i := range want {
		if s.sent[i] != want[i] {
			t.Fatalf("sent[%d] = %q, want %q", i, s.sent[i], want[i])
		}
	}
}

func TestPollFailedReportIsSwallowed(t *testing.T) {
	c := &clock{t: time.Unix(1000, 0)}
	f := &fakeFetcher{results: []fetchResult{{err: &homework.Error{Kind: homework.KindConnectionFailure, URL: "https://x", Err: errors.New("refused")}}}}
	s := &fakeSender{failNext: 1}
	p := newTestPoller(f, s, c)

	if err := p.Poll(context.Background()); !errors.Is(err, homework.KindConnectionFailure) {
		t.Fatalf("err = %v", err)
	}
	if _, last := p.State(); last != "" {
		t.Fatalf("undelivered report must not become last message: %q", last)
	}
	// next iteration retries the report
	_ = p.Poll(context.Background())
	if len(s.sent) != 1 {
		t.Fatalf("sent = %q, want the report once", s.sent)
	}
}

func TestPollPersistsState(t *testing.T) {
	c := &clock{t: time.Unix(1000, 0)}
	f := &fakeFetcher{results: []fetchResult{{body: approvedBody}}}
	s := &fakeSender{}
	st := &memStore{}
	p := newTestPoller(f, s, c, WithStore(st))

	c.t = time.Unix(1600, 0)
	if err := p.Poll(context.Background()); err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if !st.saved || st.state.Timestamp != 1600 || st.state.LastMessage != approvedMessage {
		t.Fatalf("saved state = %+v", st.state)
	}
	if len(st.deliveries) != 1 || st.deliveries[0].Kind != storage.DeliveryStatus {
		t.Fatalf("deliveries = %+v", st.deliveries)
	}

	// a new poller resumes from the saved state and stays quiet
	p2 := newTestPoller(f, s, c, WithStore(st))
	if err := p2.Restore(context.Background()); err != nil {
		t.Fatalf("Restore: %v", err)
	}
	if err := p2.Poll(context.Background()); err != nil {
		t.Fatalf("Poll after restore: %v", err)
	}
	if len(s.attempts) != 1 {
		t.Fatalf("restored poller re-sent: %q", s.attempts)
	}
	if f.calls[len(f.calls)-1] != 1600 {
		t.Fatalf("restored cursor = %d, want 1600", f.calls[len(f.calls)-1])
	}
}

type everyMillis time.Duration

func (e everyMillis) Next(t time.Time) time.Time { return t.Add(time.Duration(e)) }

func TestRunLoopsUntilCanceled(t *testing.T) {
	f := &fakeFetcher{results: []fetchResult{{body: `{"homeworks": []}`}}}
	s := &fakeSender{}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var (
		mu    sync.Mutex
		polls int
	)
	p := New(f, s, everyMillis(time.Millisecond), logx.Nop(), WithAfterPoll(func(err error) {
		if err != nil {
			t.Errorf("unexpected poll error: %v", err)
		}
		mu.Lock()
		polls++
		if polls == 3 {
			cancel()
		}
		mu.Unlock()
	}))

	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run returned %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not stop after cancel")
	}
	mu.Lock()
	defer mu.Unlock()
	if polls != 3 {
		t.Fatalf("polls = %d, want 3", polls)
	}
}

func TestRunKeepsGoingAfterFailures(t *testing.T) {
	f := &fakeFetcher{results: []fetchResult{
		{body: `[]`},
		{body: `{"homeworks": "not-a-list"}`},
		{body: approvedBody},
	}}
	s := &fakeSender{}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var errs []error
	p := New(f, s, everyMillis(time.Millisecond), logx.Nop(), WithAfterPoll(func(err error) {
		errs = append(errs, err)
		if len(errs) == 3 {
			cancel()
		}
	}))
	if err := p.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !errors.Is(errs[0], homework.KindInvalidShape) || !errors.Is(errs[1], homework.KindInvalidShape) || errs[2] != nil {
		t.Fatalf("errs = %v", errs)
	}
	if s.sent[len(s.sent)-1] != approvedMessage {
		t.Fatalf("status not delivered after failures: %q", s.sent)
	}
}

func TestRunStopsDuringSleep(t *testing.T) {
	f := &fakeFetcher{results: []fetchResult{{body: `{"homeworks": []}`}}}
	ctx, cancel := context.WithCancel(context.Background())
	p := New(f, &fakeSender{}, fixedDelay(time.Hour), logx.Nop(), WithAfterPoll(func(error) { cancel() }))

	done := make(chan struct{})
	go func() {
		_ = p.Run(ctx)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Run blocked in sleep after cancel")
	}
}

func TestPollLogsStepsAtInfo(t *testing.T) {
	var buf bytes.Buffer
	f := &fakeFetcher{results: []fetchResult{{body: approvedBody}}}
	p := New(f, &fakeSender{}, nil, logx.NewWriter(&buf, "INFO"))

	if err := p.Poll(context.Background()); err != nil {
		t.Fatalf("Poll: %v", err)
	}
	out := buf.String()
	for _, want := range []string{
		"- INFO - validating API response",
		"- INFO - parsing homework status",
		"- INFO - status notification sent",
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("log output missing %q:\n%s", want, out)
		}
	}
}
