package codectest

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jmylchreest/codecconf/internal/media"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAsyncHandler_FIFOPerQueue(t *testing.T) {
	h := NewAsyncHandler(nil)
	ctx := context.Background()

	h.OnInputReady(2)
	h.OnInputReady(0)
	h.OnOutputReady(5, media.SampleInfo{Size: 10, PresentationTimeUs: 100})
	h.OnOutputReady(3, media.SampleInfo{Size: 20, PresentationTimeUs: 200})

	in, ok := h.NextInput(ctx)
	require.True(t, ok)
	assert.Equal(t, 2, in.Index)
	assert.False(t, in.Output)

	out, ok := h.NextOutput(ctx)
	require.True(t, ok)
	assert.Equal(t, 5, out.Index)
	assert.Equal(t, int64(100), out.Info.PresentationTimeUs)
	assert.True(t, out.Output)

	in, ok = h.NextInput(ctx)
	require.True(t, ok)
	assert.Equal(t, 0, in.Index)

	out, ok = h.NextOutput(ctx)
	require.True(t, ok)
	assert.Equal(t, 3, out.Index)
}

func TestAsyncHandler_NextAnyPrefersOutput(t *testing.T) {
	h := NewAsyncHandler(nil)
	ctx := context.Background()

	h.OnInputReady(0)
	h.OnInputReady(1)
	h.OnOutputReady(7, media.SampleInfo{Size: 1})

	ev, ok := h.NextAny(ctx)
	require.True(t, ok)
	assert.True(t, ev.Output)
	assert.Equal(t, 7, ev.Index)

	ev, ok = h.NextAny(ctx)
	require.True(t, ok)
	assert.False(t, ev.Output)
	assert.Equal(t, 0, ev.Index)
}

func TestAsyncHandler_BlockingPullWakesOnEnqueue(t *testing.T) {
	h := NewAsyncHandler(nil)

	var wg sync.WaitGroup
	wg.Add(1)
	var got BufferEvent
	var ok bool
	go func() {
		defer wg.Done()
		got, ok = h.NextOutput(context.Background())
	}()

	time.Sleep(10 * time.Millisecond)
	h.OnInputReady(1)
	h.OnOutputReady(4, media.SampleInfo{Size: 8})
	wg.Wait()

	require.True(t, ok)
	assert.Equal(t, 4, got.Index)

	inputs, outputs := h.Pending()
	assert.Equal(t, 1, inputs)
	assert.Equal(t, 0, outputs)
}

func TestAsyncHandler_ErrorUnblocksAndSticks(t *testing.T) {
	h := NewAsyncHandler(nil)
	cause := errors.New("codec crashed")

	done := make(chan bool)
	go func() {
		_, ok := h.NextAny(context.Background())
		done <- ok
	}()

	time.Sleep(10 * time.Millisecond)
	h.OnError(cause)

	select {
	case ok := <-done:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("pull did not unblock on error")
	}

	assert.True(t, h.HasError())
	assert.ErrorIs(t, h.Err(), cause)

	// Items queued after the error are not handed out.
	h.OnInputReady(0)
	_, ok := h.NextInput(context.Background())
	assert.False(t, ok)

	h.OnError(errors.New("second"))
	assert.ErrorIs(t, h.Err(), cause, "first error is kept")

	h.Reset()
	assert.False(t, h.HasError())
	h.OnInputReady(3)
	ev, ok := h.NextInput(context.Background())
	require.True(t, ok)
	assert.Equal(t, 3, ev.Index)
}

func TestAsyncHandler_NilErrorBecomesDeviceError(t *testing.T) {
	h := NewAsyncHandler(nil)
	h.OnError(nil)
	assert.ErrorIs(t, h.Err(), ErrDeviceError)
}

func TestAsyncHandler_ContextCancelUnblocks(t *testing.T) {
	h := NewAsyncHandler(nil)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan bool)
	go func() {
		_, ok := h.NextInput(ctx)
		done <- ok
	}()

	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case ok := <-done:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("pull did not unblock on cancel")
	}
	assert.False(t, h.HasError())
}

func TestAsyncHandler_FormatChange(t *testing.T) {
	h := NewAsyncHandler(nil)
	assert.False(t, h.HasFormatChanged())
	assert.Nil(t, h.OutputFormat())

	f := media.NewAudioFormat(media.MimeAudioRaw, 44100, 2)
	h.OnFormatChanged(f)
	assert.True(t, h.HasFormatChanged())
	assert.Same(t, f, h.OutputFormat())

	h.ClearQueues()
	assert.True(t, h.HasFormatChanged(), "clearing queues keeps flags")

	h.Reset()
	assert.False(t, h.HasFormatChanged())
}

func TestAsyncHandler_ConcurrentProducers(t *testing.T) {
	h := NewAsyncHandler(nil)
	const perProducer = 200

	var wg sync.WaitGroup
	for p := 0; p < 4; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				h.OnOutputReady(p*perProducer+i, media.SampleInfo{})
			}
		}(p)
	}

	seen := make(map[int]bool)
	for len(seen) < 4*perProducer {
		ev, ok := h.NextOutput(context.Background())
		require.True(t, ok)
		seen[ev.Index] = true
	}
	wg.Wait()
	assert.Len(t, seen, 4*perProducer)
}
