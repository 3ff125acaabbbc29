package watch

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mparany/garageops/internal/domain"
	"github.com/mparany/garageops/internal/notify"
)

type fakeLister struct {
	mu     sync.Mutex
	states map[int64][]domain.IssueState
}

func newFakeLister() *fakeLister {
	return &fakeLister{states: map[int64][]domain.IssueState{}}
}

func (f *fakeLister) set(accountID int64, states ...domain.IssueState) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.states[accountID] = states
}

func (f *fakeLister) ListIssueStates(_ context.Context, accountID int64) ([]domain.IssueState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.IssueState{}, f.states[accountID]...), nil
}

type recordingDispatcher struct {
	mu   sync.Mutex
	sent []notify.Notification
}

func (d *recordingDispatcher) Dispatch(_ context.Context, n notify.Notification) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sent = append(d.sent, n)
	return nil
}

func (d *recordingDispatcher) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.sent)
}

const pollInterval = 5 * time.Millisecond

func TestWatcherNotifiesOnCompletion(t *testing.T) {
	lister := newFakeLister()
	disp := &recordingDispatcher{}
	w := New(lister, disp, pollInterval)
	defer w.Close()

	lister.set(1, domain.IssueState{IssueID: 10, Status: domain.StatusPending, RepairType: "Brake pads"})

	events, cancel := w.Subscribe(1)
	defer cancel()

	// Let the first snapshot prime.
	time.Sleep(5 * pollInterval)
	require.Equal(t, 0, disp.count())

	lister.set(1, domain.IssueState{IssueID: 10, Status: domain.StatusCompleted, RepairType: "Brake pads"})

	select {
	case n := <-events:
		assert.Equal(t, int64(10), n.IssueID)
		assert.Equal(t, int64(1), n.AccountID)
		assert.Contains(t, n.Body, "Brake pads")
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for completion event")
	}

	require.Eventually(t, func() bool { return disp.count() == 1 }, time.Second, pollInterval)
}

func TestWatcherFirstSnapshotDoesNotNotify(t *testing.T) {
	lister := newFakeLister()
	disp := &recordingDispatcher{}
	w := New(lister, disp, pollInterval)
	defer w.Close()

	// The issue is already completed when observation begins.
	lister.set(1, domain.IssueState{IssueID: 10, Status: domain.StatusCompleted, RepairType: "Battery"})

	_, cancel := w.Subscribe(1)
	defer cancel()

	time.Sleep(20 * pollInterval)
	assert.Equal(t, 0, disp.count())
}

func TestWatcherNotifiesAtMostOncePerIssue(t *testing.T) {
	lister := newFakeLister()
	disp := &recordingDispatcher{}
	w := New(lister, disp, pollInterval)
	defer w.Close()

	lister.set(1, domain.IssueState{IssueID: 10, Status: domain.StatusPending, RepairType: "Battery"})

	_, cancel := w.Subscribe(1)
	defer cancel()
	time.Sleep(5 * pollInterval)

	lister.set(1, domain.IssueState{IssueID: 10, Status: domain.StatusCompleted, RepairType: "Battery"})
	require.Eventually(t, func() bool { return disp.count() == 1 }, time.Second, pollInterval)

	// The same completed state keeps being re-delivered on every poll;
	// nothing further may fire.
	time.Sleep(20 * pollInterval)
	assert.Equal(t, 1, disp.count())

	// Paying the issue is not a fresh completion either.
	lister.set(1, domain.IssueState{IssueID: 10, Status: domain.StatusPaid, RepairType: "Battery"})
	time.Sleep(20 * pollInterval)
	assert.Equal(t, 1, disp.count())
}

func TestWatcherIndependentAccounts(t *testing.T) {
	lister := newFakeLister()
	disp := &recordingDispatcher{}
	w := New(lister, disp, pollInterval)
	defer w.Close()

	lister.set(1, domain.IssueState{IssueID: 10, Status: domain.StatusPending})
	lister.set(2, domain.IssueState{IssueID: 20, Status: domain.StatusPending})

	ev1, cancel1 := w.Subscribe(1)
	defer cancel1()
	_, cancel2 := w.Subscribe(2)
	defer cancel2()
	time.Sleep(5 * pollInterval)

	lister.set(2, domain.IssueState{IssueID: 20, Status: domain.StatusCompleted})
	require.Eventually(t, func() bool { return disp.count() == 1 }, time.Second, pollInterval)

	// Account 1's channel stays quiet.
	select {
	case n := <-ev1:
		t.Fatalf("unexpected event for account 1: %+v", n)
	case <-time.After(10 * pollInterval):
	}
}

func TestCancelAfterCloseIsSafe(t *testing.T) {
	lister := newFakeLister()
	w := New(lister, &recordingDispatcher{}, pollInterval)

	events, cancel := w.Subscribe(1)
	w.Close()

	// Close already dropped the subscription; a late cancel, as a still
	// running handler's deferred cleanup would issue during shutdown, must
	// not close the channel a second time.
	cancel()

	_, open := <-events
	assert.False(t, open)
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	lister := newFakeLister()
	w := New(lister, &recordingDispatcher{}, pollInterval)
	defer w.Close()

	events, cancel := w.Subscribe(1)
	cancel()
	// A second cancel is a no-op.
	cancel()

	_, open := <-events
	assert.False(t, open)
}
