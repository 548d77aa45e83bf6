package worker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sweepstake-bot/internal/settlement"
)

type stubPasser struct {
	calls   atomic.Int32
	block   chan struct{}
	entered chan struct{}
	report  *settlement.Report
	err     error
}

func (p *stubPasser) RunPass(ctx context.Context) (*settlement.Report, error) {
	p.calls.Add(1)
	if p.entered != nil {
		p.entered <- struct{}{}
	}
	if p.block != nil {
		<-p.block
	}
	return p.report, p.err
}

type recordingNotifier struct {
	mu    sync.Mutex
	notes []settlement.Notification
}

func (n *recordingNotifier) Notify(_ context.Context, note settlement.Notification) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.notes = append(n.notes, note)
	return nil
}

func TestRunOnceDispatchesNotifications(t *testing.T) {
	passer := &stubPasser{report: &settlement.Report{
		Ended:         []string{"Main"},
		Notifications: []settlement.Notification{{Kind: settlement.KindStriked, Lottery: "Main"}, {Kind: settlement.KindWinners, Lottery: "Main"}},
	}}
	notifier := &recordingNotifier{}
	s := NewSettler(passer, notifier, nil, time.Minute, nil, nil)

	report, ran := s.RunOnce(context.Background())
	require.True(t, ran)
	assert.Equal(t, []string{"Main"}, report.Ended)
	require.Len(t, notifier.notes, 2)
	assert.Equal(t, settlement.KindWinners, notifier.notes[1].Kind)
}

func TestRunOnceSkipsOverlappingPass(t *testing.T) {
	passer := &stubPasser{
		report:  &settlement.Report{},
		block:   make(chan struct{}),
		entered: make(chan struct{}, 1),
	}
	s := NewSettler(passer, nil, NewLocalLock(), time.Minute, nil, nil)

	done := make(chan struct{})
	go func() {
		defer close(done)
		s.RunOnce(context.Background())
	}()
	<-passer.entered

	_, ran := s.RunOnce(context.Background())
	assert.False(t, ran)

	close(passer.block)
	<-done
	assert.Equal(t, int32(1), passer.calls.Load())

	passer.block = nil
	passer.entered = nil
	_, ran = s.RunOnce(context.Background())
	assert.True(t, ran)
}

func TestRunOnceSurvivesPassError(t *testing.T) {
	passer := &stubPasser{err: errors.New("db down")}
	s := NewSettler(passer, &recordingNotifier{}, nil, time.Minute, nil, nil)

	report, ran := s.RunOnce(context.Background())
	assert.True(t, ran)
	assert.Nil(t, report)

	_, ran = s.RunOnce(context.Background())
	assert.True(t, ran, "lock is released after a failed pass")
}

type failingLock struct{}

func (failingLock) TryLock(context.Context) (func(), bool, error) {
	return nil, false, errors.New("redis unreachable")
}

func TestRunOnceSkipsWhenLockFails(t *testing.T) {
	passer := &stubPasser{report: &settlement.Report{}}
	s := NewSettler(passer, nil, failingLock{}, time.Minute, nil, nil)

	_, ran := s.RunOnce(context.Background())
	assert.False(t, ran)
	assert.Zero(t, passer.calls.Load())
}

func TestStartStopsOnCancel(t *testing.T) {
	passer := &stubPasser{report: &settlement.Report{}}
	s := NewSettler(passer, nil, nil, 10*time.Millisecond, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- s.Start(ctx) }()

	require.Eventually(t, func() bool { return passer.calls.Load() >= 2 }, time.Second, 5*time.Millisecond)
	cancel()
	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("worker did not stop")
	}
}

func TestLocalLock(t *testing.T) {
	l := NewLocalLock()
	release, ok, err := l.TryLock(context.Background())
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, _ = l.TryLock(context.Background())
	assert.False(t, ok)

	release()
	_, ok, _ = l.TryLock(context.Background())
	assert.True(t, ok)
}
