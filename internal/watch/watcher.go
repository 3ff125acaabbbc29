// Package watch turns the store's issue state into per-account event
// streams. It replaces the realtime listener of the original client with an
// explicit poll loop: one goroutine per observed account, cancellable
// subscriptions, and at-most-one notification per issue completion.
package watch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/mparany/garageops/internal/domain"
	"github.com/mparany/garageops/internal/notify"
)

// StateLister is the slice of the store the watcher needs.
type StateLister interface {
	ListIssueStates(ctx context.Context, accountID int64) ([]domain.IssueState, error)
}

const subscriberBuffer = 8

type Watcher struct {
	store    StateLister
	disp     notify.Dispatcher
	interval time.Duration

	mu    sync.Mutex
	loops map[int64]*accountLoop
}

type accountLoop struct {
	cancel context.CancelFunc
	subs   map[chan notify.Notification]struct{}
}

func New(store StateLister, disp notify.Dispatcher, interval time.Duration) *Watcher {
	return &Watcher{
		store:    store,
		disp:     disp,
		interval: interval,
		loops:    map[int64]*accountLoop{},
	}
}

// Subscribe starts observing the account's issues and returns a channel of
// events plus a cancel function. The first snapshot primes state without
// notifying; afterwards each issue notifies at most once on its transition
// into the completed state, no matter how often the same snapshot is
// re-delivered. Slow consumers lose events rather than block the loop.
func (w *Watcher) Subscribe(accountID int64) (<-chan notify.Notification, func()) {
	ch := make(chan notify.Notification, subscriberBuffer)

	w.mu.Lock()
	loop, ok := w.loops[accountID]
	if !ok {
		ctx, cancel := context.WithCancel(context.Background())
		loop = &accountLoop{
			cancel: cancel,
			subs:   map[chan notify.Notification]struct{}{},
		}
		w.loops[accountID] = loop
		go w.run(ctx, accountID, loop)
	}
	loop.subs[ch] = struct{}{}
	w.mu.Unlock()

	var once sync.Once
	unsubscribe := func() {
		once.Do(func() {
			w.mu.Lock()
			defer w.mu.Unlock()
			if _, live := loop.subs[ch]; !live {
				// Close already tore this subscription down.
				return
			}
			delete(loop.subs, ch)
			close(ch)
			if len(loop.subs) == 0 {
				loop.cancel()
				delete(w.loops, accountID)
			}
		})
	}
	return ch, unsubscribe
}

// Close cancels every account loop and drops all subscribers.
func (w *Watcher) Close() {
	w.mu.Lock()
	defer w.mu.Unlock()
	for id, loop := range w.loops {
		loop.cancel()
		for ch := range loop.subs {
			delete(loop.subs, ch)
			close(ch)
		}
		delete(w.loops, id)
	}
}

func (w *Watcher) run(ctx context.Context, accountID int64, loop *accountLoop) {
	prev := map[int64]string{}
	notified := map[int64]bool{}
	primed := false

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		w.poll(ctx, accountID, loop, prev, notified, primed)
		primed = true

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (w *Watcher) poll(ctx context.Context, accountID int64, loop *accountLoop, prev map[int64]string, notified map[int64]bool, primed bool) {
	states, err := w.store.ListIssueStates(ctx, accountID)
	if err != nil {
		if ctx.Err() == nil {
			logrus.WithFields(logrus.Fields{
				"account_id": accountID,
				"error":      err.Error(),
			}).Warn("issue state poll failed")
		}
		return
	}

	current := map[int64]string{}
	for _, st := range states {
		current[st.IssueID] = st.Status

		wasDone := isFinished(prev[st.IssueID])
		isDone := isFinished(st.Status)
		if !primed || wasDone || !isDone || notified[st.IssueID] {
			continue
		}
		notified[st.IssueID] = true

		name := st.RepairType
		if name == "" {
			name = "Your repair"
		}
		n := notify.Notification{
			AccountID:  accountID,
			IssueID:    st.IssueID,
			RepairType: st.RepairType,
			Title:      "Repair completed",
			Body:       fmt.Sprintf("%s is finished. You can now proceed to payment.", name),
			At:         time.Now(),
		}

		if err := w.disp.Dispatch(ctx, n); err != nil {
			// Best-effort only: log and move on.
			logrus.WithFields(logrus.Fields{
				"account_id": accountID,
				"issue_id":   st.IssueID,
				"error":      err.Error(),
			}).Warn("notification dispatch failed")
		}
		w.fanout(loop, n)
	}

	for id := range prev {
		delete(prev, id)
	}
	for id, status := range current {
		prev[id] = status
	}
}

func (w *Watcher) fanout(loop *accountLoop, n notify.Notification) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for ch := range loop.subs {
		select {
		case ch <- n:
		default:
		}
	}
}

// isFinished treats paid as past-completed so a completed issue that gets
// paid does not look like a fresh completion, and an issue first seen as
// paid never notifies.
func isFinished(status string) bool {
	return status == domain.StatusCompleted || status == domain.StatusPaid
}
