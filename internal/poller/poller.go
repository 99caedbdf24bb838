// Package poller runs the homework status loop: fetch, validate, parse,
// notify on change, sleep, repeat.
//
// The loop owns two pieces of state, the poll cursor and the last delivered
// text. Both are only touched from the goroutine running Run.
package poller

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"hwbot/internal/homework"
	"hwbot/internal/storage"
	logx "hwbot/pkg/logx"
)

// Fetcher returns the decoded API response for homeworks updated since fromDate.
type Fetcher interface {
	Fetch(ctx context.Context, fromDate int64) (any, error)
}

// Sender delivers a text to the operator chat.
type Sender interface {
	Send(ctx context.Context, text string) error
}

type Option func(*Poller)

// WithClock replaces time.Now (tests).
func WithClock(now func() time.Time) Option {
	return func(p *Poller) { p.now = now }
}

// WithStore persists state and deliveries. A nil store is ignored.
func WithStore(st storage.Store) Option {
	return func(p *Poller) { p.store = st }
}

// WithAfterPoll registers a hook called after every iteration with its outcome.
func WithAfterPoll(fn func(err error)) Option {
	return func(p *Poller) { p.afterPoll = fn }
}

type Poller struct {
	fetch Fetcher
	send  Sender
	store storage.Store
	log   logx.Logger

	now       func() time.Time
	afterPoll func(err error)

	schedMu sync.Mutex
	sched   Schedule

	timestamp   int64
	lastMessage string
}

func New(fetch Fetcher, send Sender, sched Schedule, log logx.Logger, opts ...Option) *Poller {
	if log.IsZero() {
		log = logx.Nop()
	}
	p := &Poller{
		fetch: fetch,
		send:  send,
		log:   log,
		now:   time.Now,
		sched: sched,
	}
	for _, o := range opts {
		o(p)
	}
	if p.sched == nil {
		p.sched = fixedDelay(DefaultInterval)
	}
	p.timestamp = p.now().Unix()
	return p
}

// Restore loads the saved cursor and last message, if a store is configured
// and holds one.
func (p *Poller) Restore(ctx context.Context) error {
	if p.store == nil {
		return nil
	}
	st, ok, err := p.store.LoadState(ctx)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	p.timestamp = st.Timestamp
	p.lastMessage = st.LastMessage
	p.log.Info("state restored",
		logx.Int64("timestamp", st.Timestamp),
		logx.Time("saved_at", st.UpdatedAt),
	)
	return nil
}

// SetSchedule swaps the wake-up schedule; it applies from the next sleep.
func (p *Poller) SetSchedule(s Schedule) {
	if s == nil {
		return
	}
	p.schedMu.Lock()
	p.sched = s
	p.schedMu.Unlock()
}

// State returns the poll cursor and the last delivered text.
func (p *Poller) State() (timestamp int64, lastMessage string) {
	return p.timestamp, p.lastMessage
}

// Run polls until ctx is canceled. It never returns an error for a failed
// iteration; those are reported and retried after the next sleep.
func (p *Poller) Run(ctx context.Context) error {
	p.log.Info("poller started", logx.Int64("from_date", p.timestamp))
	for {
		err := p.Poll(ctx)
		if ctx.Err() != nil {
			p.log.Info("poller stopped")
			return nil
		}
		if p.afterPoll != nil {
			p.afterPoll(err)
		}

		wait := p.nextDelay()
		p.log.Debug("sleeping", logx.Duration("wait", wait))
		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			p.log.Info("poller stopped")
			return nil
		case <-t.C:
		}
	}
}

func (p *Poller) nextDelay() time.Duration {
	p.schedMu.Lock()
	s := p.sched
	p.schedMu.Unlock()
	now := p.now()
	d := s.Next(now).Sub(now)
	if d < 0 {
		d = 0
	}
	return d
}

// Poll runs one iteration without sleeping and returns the failure it
// handled, if any.
func (p *Poller) Poll(ctx context.Context) error {
	log := p.log.With(logx.String("poll_id", uuid.NewString()))

	msg, err := p.check(ctx, log)
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if err != nil {
		p.report(ctx, log, err)
		return err
	}
	if msg == "" {
		log.Info("no new status")
		return nil
	}
	if msg == p.lastMessage {
		log.Debug("status unchanged; skipping notification")
		return nil
	}

	if err := p.send.Send(ctx, msg); err != nil {
		derr := &homework.Error{Kind: homework.KindDeliveryFailure, Err: err}
		log.Error(homework.Diagnostic(derr), logx.String("kind", derr.Kind.String()), logx.Err(err))
		return derr
	}
	p.lastMessage = msg
	p.timestamp = p.now().Unix()
	log.Info("status notification sent", logx.Int64("from_date", p.timestamp))
	p.persist(ctx, log, storage.DeliveryStatus, msg)
	return nil
}

// check fetches and parses the newest homework. An empty text means the
// response held no homeworks.
func (p *Poller) check(ctx context.Context, log logx.Logger) (string, error) {
	resp, err := p.fetch.Fetch(ctx, p.timestamp)
	if err != nil {
		return "", err
	}
	log.Info("validating API response")
	list, err := homework.CheckResponse(resp)
	if err != nil {
		return "", err
	}
	if len(list) == 0 {
		return "", nil
	}
	log.Info("parsing homework status", logx.Int("homeworks", len(list)))
	return homework.ParseStatus(list[0])
}

// report logs a failure and sends it to the chat unless the same text was the
// last thing sent. A failing report is logged and dropped.
func (p *Poller) report(ctx context.Context, log logx.Logger, err error) {
	diag := homework.Diagnostic(err)
	log.Error(diag, logx.String("kind", homework.KindOf(err).String()), logx.Err(err))

	if diag == p.lastMessage {
		log.Debug("failure already reported")
		return
	}
	if serr := p.send.Send(ctx, diag); serr != nil {
		log.Error("failure report not delivered", logx.String("kind", homework.KindDeliveryFailure.String()), logx.Err(serr))
		return
	}
	p.lastMessage = diag
	p.persist(ctx, log, storage.DeliveryDiagnostic, diag)
}

func (p *Poller) persist(ctx context.Context, log logx.Logger, kind, text string) {
	if p.store == nil {
		return
	}
	now := p.now()
	if err := p.store.AppendDelivery(ctx, storage.Delivery{At: now, Kind: kind, Text: text, Cursor: p.timestamp}); err != nil {
		log.Warn("delivery journal write failed", logx.Err(err))
	}
	if err := p.store.SaveState(ctx, storage.State{Timestamp: p.timestamp, LastMessage: p.lastMessage, UpdatedAt: now}); err != nil {
		log.Warn("state save failed", logx.Err(err))
	}
}
