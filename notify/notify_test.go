package notify

import (
	"context"
	"os"
	"testing"
	"time"

	"escrow-backend/core/escrow"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testEvents(n int) []escrow.EventRecord {
	out := make([]escrow.EventRecord, n)
	for i := range out {
		var id escrow.TaskID
		id[0] = byte(i)
		out[i] = escrow.NewEventRecord(uint64(i+1), time.Unix(1_700_000_000, 0), escrow.TaskCancelled{TaskID: id})
	}
	return out
}

type collect struct {
	got []escrow.EventRecord
}

func (c *collect) Notify(_ context.Context, evs []escrow.EventRecord) { c.got = append(c.got, evs...) }

func TestMultiSurvivesPanickingSink(t *testing.T) {
	before := &collect{}
	after := &collect{}
	m := NewMulti(before, escrow.NotifierFunc(func(context.Context, []escrow.EventRecord) {
		panic("sink exploded")
	}), nil)
	m.Add(after)
	m.Add(nil)

	evs := testEvents(2)
	assert.NotPanics(t, func() { m.Notify(context.Background(), evs) })
	assert.Equal(t, evs, before.got)
	assert.Equal(t, evs, after.got, "sinks after a panicking one still receive events")
}

func TestBroadcasterDeliversToSubscribers(t *testing.T) {
	b := NewBroadcaster(4)
	ch1, cancel1 := b.Subscribe()
	ch2, cancel2 := b.Subscribe()
	defer cancel2()
	assert.Equal(t, 2, b.Subscribers())

	evs := testEvents(3)
	b.Notify(context.Background(), evs)
	for _, want := range evs {
		assert.Equal(t, want, <-ch1)
		assert.Equal(t, want, <-ch2)
	}

	cancel1()
	cancel1()
	assert.Equal(t, 1, b.Subscribers())
	_, open := <-ch1
	assert.False(t, open, "cancel closes the channel")

	b.Notify(context.Background(), testEvents(1))
	assert.Len(t, ch2, 1)
}

func TestBroadcasterDropsForSlowSubscriber(t *testing.T) {
	b := NewBroadcaster(2)
	ch, cancel := b.Subscribe()
	defer cancel()

	done := make(chan struct{})
	go func() {
		b.Notify(context.Background(), testEvents(5))
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Notify blocked on a full subscriber")
	}
	assert.Len(t, ch, 2)
	first := <-ch
	assert.Equal(t, uint64(1), first.Seq)
}

func TestRedisStreamPublishes(t *testing.T) {
	url := os.Getenv("ESCROW_TEST_REDIS_URL")
	if url == "" {
		t.Skip("ESCROW_TEST_REDIS_URL not set")
	}
	ctx := context.Background()
	client, err := DialRedis(ctx, url)
	require.NoError(t, err)
	defer client.Close()

	stream := "escrow:test:" + time.Now().Format("150405.000000")
	defer client.Del(ctx, stream)

	sink := NewRedisStream(client, stream, 10)
	evs := testEvents(3)
	sink.Notify(ctx, evs)

	entries, err := client.XRange(ctx, stream, "-", "+").Result()
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, "TaskCancelled", entries[0].Values["kind"])
	assert.Equal(t, "1", entries[0].Values["seq"])
	assert.Equal(t, evs[2].TaskID.String(), entries[2].Values["task_id"])
}

func TestNewRedisStreamDefaults(t *testing.T) {
	s := NewRedisStream(nil, "", 0)
	assert.Equal(t, DefaultStream, s.stream)
	assert.Equal(t, int64(DefaultMaxLen), s.maxLen)
}
