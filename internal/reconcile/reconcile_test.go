package reconcile

import (
	"context"
	"errors"
	"io"
	"log"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"library-occupancy-backend/internal/model"
	"library-occupancy-backend/internal/store"
)

var quiet = log.New(io.Discard, "", 0)

func TestSweep(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	past := now.Add(-time.Minute)
	future := now.Add(time.Hour)

	st := store.NewMemStore(store.DefaultTotalCapacity)
	for _, end := range []time.Time{past, future} {
		_, err := st.CreateSeatPost(ctx, model.SeatPost{
			UserID:    1,
			Location:  model.SeatLocation{Zone: "Zone A - Reading Area"},
			Duration:  30,
			EndTime:   end,
			GroupSize: 1,
			Status:    model.SeatPostActive,
			CreatedAt: now.Add(-time.Hour),
		})
		require.NoError(t, err)
	}
	for _, expiry := range []*time.Time{&past, &future, nil} {
		_, err := st.CreateAnnouncement(ctx, model.Announcement{Message: "m", Expiry: expiry, IsActive: true, CreatedBy: 1, CreatedAt: now.Add(-time.Hour)})
		require.NoError(t, err)
	}

	s, err := New(st, "@every 5m", quiet)
	require.NoError(t, err)
	s.Now = func() time.Time { return now }

	posts, announcements, err := s.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, posts)
	assert.Equal(t, 1, announcements)

	all, err := st.SeatPosts(ctx)
	require.NoError(t, err)
	statuses := map[model.SeatPostStatus]int{}
	for _, p := range all {
		statuses[p.Status]++
	}
	assert.Equal(t, map[model.SeatPostStatus]int{model.SeatPostActive: 1, model.SeatPostExpired: 1}, statuses)

	// A second sweep finds nothing new.
	posts, announcements, err = s.Sweep(ctx)
	require.NoError(t, err)
	assert.Zero(t, posts)
	assert.Zero(t, announcements)
}

type countingExpirer struct {
	calls int32
	err   error
}

func (c *countingExpirer) ExpireSeatPosts(context.Context, time.Time) (int, error) {
	atomic.AddInt32(&c.calls, 1)
	return 0, c.err
}

func (c *countingExpirer) ExpireAnnouncements(context.Context, time.Time) (int, error) {
	return 0, nil
}

func TestSweep_StoreError(t *testing.T) {
	s, err := New(&countingExpirer{err: errors.New("boom")}, "@every 5m", quiet)
	require.NoError(t, err)
	_, _, err = s.Sweep(context.Background())
	assert.ErrorContains(t, err, "expire seat posts")
}

func TestNew_InvalidSchedule(t *testing.T) {
	_, err := New(&countingExpirer{}, "every now and then", quiet)
	assert.Error(t, err)
}

func TestStart_RunsOnSchedule(t *testing.T) {
	exp := &countingExpirer{}
	s, err := New(exp, "@every 1s", quiet)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)

	assert.Eventually(t, func() bool { return atomic.LoadInt32(&exp.calls) >= 1 }, 3*time.Second, 50*time.Millisecond)
}
