package device

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmylchreest/codecconf/internal/codectest"
	"github.com/jmylchreest/codecconf/internal/media"
	"github.com/jmylchreest/codecconf/internal/source"
)

const waitTimeout = time.Second

// syncOutput is one dequeued output with its payload copied.
type syncOutput struct {
	info media.SampleInfo
	data []byte
}

// pushSync queues samples through a started sync-mode device, collecting
// output as it goes, then drains until end of stream.
func pushSync(t *testing.T, dev *Software, samples []media.Sample) (outs []syncOutput, formats int) {
	t.Helper()
	collect := func(timeout time.Duration) bool {
		idx, info, err := dev.DequeueOutput(timeout)
		switch {
		case errors.Is(err, codectest.ErrTryAgain):
			return false
		case errors.Is(err, codectest.ErrFormatChanged):
			formats++
			return true
		}
		require.NoError(t, err)
		buf, err := dev.OutputBuffer(idx)
		require.NoError(t, err)
		outs = append(outs, syncOutput{info: info, data: append([]byte(nil), buf[info.Offset:info.Offset+info.Size]...)})
		require.NoError(t, dev.ReleaseOutput(idx))
		return true
	}

	for _, s := range samples {
		idx, err := dev.DequeueInput(waitTimeout)
		require.NoError(t, err)
		require.NoError(t, dev.QueueInput(idx, s.Data, s.Info))
		for collect(0) {
		}
	}
	for len(outs) == 0 || !outs[len(outs)-1].info.IsEOS() {
		require.True(t, collect(waitTimeout), "timed out waiting for end of stream")
	}
	return outs, formats
}

func eos() media.Sample {
	return media.Sample{Info: media.SampleInfo{Flags: media.FlagEndOfStream}}
}

func newStarted(t *testing.T, mime string, encoder bool, opts Options, format *media.Format) *Software {
	t.Helper()
	dev := NewSoftware("test", []string{mime}, encoder, opts)
	require.NoError(t, dev.Configure(format, nil, encoder))
	require.NoError(t, dev.Start())
	t.Cleanup(func() { _ = dev.Release() })
	return dev
}

func TestSoftware_SyncPassthrough(t *testing.T) {
	dev := newStarted(t, media.MimeAudioRaw, false, Options{}, media.NewAudioFormat(media.MimeAudioRaw, 8000, 1))

	in := []media.Sample{
		media.NewSample([]byte{1, 2, 3, 4}, 0, 0),
		media.NewSample([]byte{5, 6}, 250, 0),
		eos(),
	}
	outs, formats := pushSync(t, dev, in)

	assert.Equal(t, 1, formats)
	require.Len(t, outs, 3)
	assert.Equal(t, []byte{1, 2, 3, 4}, outs[0].data)
	assert.Equal(t, int64(250), outs[1].info.PresentationTimeUs)
	assert.True(t, outs[2].info.IsEOS())
	assert.Zero(t, outs[2].info.Size, "end of stream is a separate empty buffer")
	assert.Equal(t, media.MimeAudioRaw, dev.OutputFormat().Mime())
}

func TestSoftware_FuseOutputEOS(t *testing.T) {
	dev := newStarted(t, media.MimeAudioRaw, false, Options{FuseOutputEOS: true}, media.NewAudioFormat(media.MimeAudioRaw, 8000, 1))

	last := media.NewSample([]byte{9, 9}, 500, media.FlagEndOfStream)
	outs, _ := pushSync(t, dev, []media.Sample{media.NewSample([]byte{1, 1}, 0, 0), last})

	require.Len(t, outs, 2)
	assert.True(t, outs[1].info.IsEOS())
	assert.Equal(t, []byte{9, 9}, outs[1].data)
}

func TestSoftware_ReorderWindow(t *testing.T) {
	dev := newStarted(t, media.MimeVideoHEVC, false, Options{ReorderDepth: 2}, media.NewVideoFormat(media.MimeVideoHEVC, 64, 64))

	var in []media.Sample
	for _, pts := range []int64{0, 3, 1, 2, 5, 4} {
		in = append(in, media.NewSample([]byte{byte(pts)}, pts, 0))
	}
	outs, _ := pushSync(t, dev, append(in, eos()))

	var got []int64
	for _, o := range outs {
		if o.info.Size > 0 {
			got = append(got, o.info.PresentationTimeUs)
		}
	}
	assert.Equal(t, []int64{0, 1, 2, 3, 4, 5}, got)
}

func TestSoftware_DecoderConsumesConfigAndReassemblesPartials(t *testing.T) {
	dev := newStarted(t, media.MimeAudioAAC, false, Options{}, media.NewAudioFormat(media.MimeAudioAAC, 48000, 2))

	in := []media.Sample{
		media.NewSample([]byte{0x11, 0x90}, 0, media.FlagCodecConfig),
		media.NewSample([]byte{1, 2}, 100, media.FlagPartialFrame),
		media.NewSample([]byte{3}, 100, media.FlagPartialFrame),
		media.NewSample([]byte{4, 5}, 100, 0),
		eos(),
	}
	outs, _ := pushSync(t, dev, in)

	require.Len(t, outs, 2)
	assert.Equal(t, []byte{1, 2, 3, 4, 5}, outs[0].data)
	assert.Equal(t, int64(100), outs[0].info.PresentationTimeUs)
	assert.Equal(t, media.MimeAudioRaw, dev.OutputFormat().Mime())
	assert.False(t, dev.OutputFormat().Contains(media.CSDKey(0)))
}

func TestSoftware_EncoderEmitsConfigFirst(t *testing.T) {
	f := media.NewAudioFormat(media.MimeAudioAAC, 8000, 1)
	dev := newStarted(t, media.MimeAudioAAC, true, Options{}, f)

	outs, _ := pushSync(t, dev, []media.Sample{
		media.NewSample([]byte{1, 2}, 0, 0),
		media.NewSample([]byte{3, 4}, 125, 0),
		eos(),
	})

	require.Len(t, outs, 4)
	assert.True(t, outs[0].info.IsCodecConfig())
	assert.Equal(t, configMagic, outs[0].data[:len(configMagic)])
	assert.True(t, outs[1].info.IsKeyFrame())
	assert.True(t, outs[2].info.IsKeyFrame())

	csd, ok := dev.OutputFormat().Bytes(media.CSDKey(0))
	require.True(t, ok)
	assert.Equal(t, outs[0].data, csd)
	assert.Equal(t, media.MimeAudioAAC, dev.OutputFormat().Mime())
}

func TestSoftware_AVCInspection(t *testing.T) {
	src, err := source.NewVideoSource(source.VideoConfig{Width: 320, Height: 240, FrameRate: 30, Frames: 2})
	require.NoError(t, err)
	format := src.Format()
	// Advertise a different size so the SPS must win.
	format.SetInt(media.KeyWidth, 16).SetInt(media.KeyHeight, 16)

	dev := newStarted(t, media.MimeVideoAVC, false, Options{InspectAVC: true}, format)
	assert.Nil(t, dev.OutputFormat())

	samples, err := source.Collect(src)
	require.NoError(t, err)

	bigger, err := source.NewVideoSource(source.VideoConfig{Width: 640, Height: 480, FrameRate: 30, Frames: 1})
	require.NoError(t, err)
	more, err := source.Collect(bigger)
	require.NoError(t, err)
	more[0].Info.PresentationTimeUs = 66666

	outs, formats := pushSync(t, dev, append(append(samples, more...), eos()))

	assert.Len(t, outs, 4)
	assert.Equal(t, 2, formats, "initial format plus the resolution change")
	assert.Equal(t, 640, media.Width(dev.OutputFormat()))
	assert.Equal(t, 480, media.Height(dev.OutputFormat()))
	assert.Equal(t, media.MimeVideoRaw, dev.OutputFormat().Mime())
}

func TestSoftware_Lifecycle(t *testing.T) {
	format := media.NewAudioFormat(media.MimeAudioRaw, 8000, 1)

	t.Run("queue before start", func(t *testing.T) {
		dev := NewSoftware("test", []string{media.MimeAudioRaw}, false, Options{})
		require.NoError(t, dev.Configure(format, nil, false))
		err := dev.QueueInput(0, []byte{1}, media.SampleInfo{Size: 1})
		assert.ErrorIs(t, err, codectest.ErrInvalidState)
	})

	t.Run("unsupported mime", func(t *testing.T) {
		dev := NewSoftware("test", []string{media.MimeAudioRaw}, false, Options{})
		err := dev.Configure(media.NewAudioFormat(media.MimeAudioOpus, 48000, 2), nil, false)
		assert.ErrorIs(t, err, codectest.ErrUnsupportedFormat)
	})

	t.Run("wrong direction", func(t *testing.T) {
		dev := NewSoftware("test", []string{media.MimeAudioRaw}, false, Options{})
		assert.ErrorIs(t, dev.Configure(format, nil, true), codectest.ErrUnsupportedFormat)
	})

	t.Run("unowned slot", func(t *testing.T) {
		dev := newStarted(t, media.MimeAudioRaw, false, Options{}, format)
		err := dev.QueueInput(0, []byte{1}, media.SampleInfo{Size: 1})
		assert.ErrorIs(t, err, codectest.ErrInvalidState)
		assert.ErrorIs(t, dev.ReleaseOutput(0), codectest.ErrInvalidState)
	})

	t.Run("input after eos", func(t *testing.T) {
		dev := newStarted(t, media.MimeAudioRaw, false, Options{}, format)
		idx, err := dev.DequeueInput(waitTimeout)
		require.NoError(t, err)
		require.NoError(t, dev.QueueInput(idx, nil, media.SampleInfo{Flags: media.FlagEndOfStream}))
		idx, err = dev.DequeueInput(waitTimeout)
		require.NoError(t, err)
		assert.ErrorIs(t, dev.QueueInput(idx, []byte{1}, media.SampleInfo{Size: 1}), codectest.ErrInvalidState)
	})

	t.Run("oversized input", func(t *testing.T) {
		dev := newStarted(t, media.MimeAudioRaw, false, Options{MaxInputSize: 2}, format)
		idx, err := dev.DequeueInput(waitTimeout)
		require.NoError(t, err)
		assert.ErrorIs(t, dev.QueueInput(idx, []byte{1, 2, 3}, media.SampleInfo{Size: 3}), codectest.ErrInvalidState)
	})

	t.Run("released", func(t *testing.T) {
		dev := NewSoftware("test", []string{media.MimeAudioRaw}, false, Options{})
		require.NoError(t, dev.Release())
		require.NoError(t, dev.Release())
		assert.ErrorIs(t, dev.Configure(format, nil, false), codectest.ErrInvalidState)
		assert.ErrorIs(t, dev.Start(), codectest.ErrInvalidState)
	})

	t.Run("stop keeps configuration", func(t *testing.T) {
		dev := newStarted(t, media.MimeAudioRaw, false, Options{}, format)
		require.NoError(t, dev.Stop())
		require.NoError(t, dev.Stop())
		require.NoError(t, dev.Start())
	})

	t.Run("dequeue times out", func(t *testing.T) {
		dev := newStarted(t, media.MimeAudioRaw, false, Options{}, format)
		_, _, err := dev.DequeueOutput(5 * time.Millisecond)
		assert.ErrorIs(t, err, codectest.ErrTryAgain)
	})
}

func TestSoftware_FailAfterInputsSync(t *testing.T) {
	dev := newStarted(t, media.MimeAudioRaw, false, Options{FailAfterInputs: 1}, media.NewAudioFormat(media.MimeAudioRaw, 8000, 1))

	for i := range 2 {
		idx, err := dev.DequeueInput(waitTimeout)
		require.NoError(t, err)
		require.NoError(t, dev.QueueInput(idx, []byte{byte(i)}, media.SampleInfo{Size: 1, PresentationTimeUs: int64(i)}))
	}
	_, err := dev.DequeueInput(waitTimeout)
	assert.ErrorIs(t, err, ErrInjectedFault)
	assert.ErrorIs(t, err, codectest.ErrDeviceError)
	assert.Equal(t, int64(2), dev.InputsQueued())
}

// recorder is a codectest.Callback that records every notification.
type recorder struct {
	mu      sync.Mutex
	inputs  []int
	outputs []media.SampleInfo
	formats int
	errs    []error
}

func (r *recorder) OnInputReady(i int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.inputs = append(r.inputs, i)
}

func (r *recorder) OnOutputReady(_ int, info media.SampleInfo) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outputs = append(r.outputs, info)
}

func (r *recorder) OnError(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errs = append(r.errs, err)
}

func (r *recorder) OnFormatChanged(*media.Format) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.formats++
}

func (r *recorder) snapshot() (inputs int, outputs int, errs int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.inputs), len(r.outputs), len(r.errs)
}

func (r *recorder) clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.inputs, r.outputs, r.errs, r.formats = nil, nil, nil, 0
}

func TestSoftware_AsyncAnnouncesSlots(t *testing.T) {
	rec := &recorder{}
	dev := NewSoftware("test", []string{media.MimeAudioRaw}, false, Options{InputSlots: 3})
	require.NoError(t, dev.Configure(media.NewAudioFormat(media.MimeAudioRaw, 8000, 1), rec, false))
	require.NoError(t, dev.Start())
	defer dev.Release()

	require.Eventually(t, func() bool {
		in, _, _ := rec.snapshot()
		return in == 3
	}, waitTimeout, time.Millisecond)

	require.NoError(t, dev.QueueInput(0, []byte{1, 2}, media.SampleInfo{Size: 2}))
	require.Eventually(t, func() bool {
		in, out, _ := rec.snapshot()
		return in == 4 && out == 1
	}, waitTimeout, time.Millisecond)

	rec.mu.Lock()
	assert.Equal(t, 1, rec.formats)
	assert.Equal(t, 0, rec.inputs[3], "queued slot is announced again")
	rec.mu.Unlock()

	_, err := dev.DequeueInput(0)
	assert.ErrorIs(t, err, codectest.ErrInvalidState, "dequeue is not allowed in async mode")
}

func TestSoftware_AsyncFlushDropsStaleCallbacks(t *testing.T) {
	rec := &recorder{}
	dev := NewSoftware("test", []string{media.MimeAudioRaw}, false, Options{InputSlots: 2, OutputSlots: 8})
	require.NoError(t, dev.Configure(media.NewAudioFormat(media.MimeAudioRaw, 8000, 1), rec, false))
	require.NoError(t, dev.Start())
	defer dev.Release()

	require.Eventually(t, func() bool {
		in, _, _ := rec.snapshot()
		return in == 2
	}, waitTimeout, time.Millisecond)

	// Async slots are handed back as soon as they are queued.
	for i := range 8 {
		require.NoError(t, dev.QueueInput(i%2, []byte{byte(i)}, media.SampleInfo{Size: 1, PresentationTimeUs: int64(i)}))
	}

	require.NoError(t, dev.Flush())
	rec.clear()

	// Nothing from before the flush may arrive now.
	time.Sleep(20 * time.Millisecond)
	in, out, _ := rec.snapshot()
	assert.Zero(t, in)
	assert.Zero(t, out)

	assert.ErrorIs(t, dev.QueueInput(0, []byte{1}, media.SampleInfo{Size: 1}), codectest.ErrInvalidState, "flushed async device needs start")
	require.NoError(t, dev.Start())
	require.Eventually(t, func() bool {
		in, _, _ := rec.snapshot()
		return in == 2
	}, waitTimeout, time.Millisecond)
}

func TestSoftware_AsyncFailAfterInputs(t *testing.T) {
	rec := &recorder{}
	dev := NewSoftware("test", []string{media.MimeAudioRaw}, false, Options{FailAfterInputs: 1, InputSlots: 2})
	require.NoError(t, dev.Configure(media.NewAudioFormat(media.MimeAudioRaw, 8000, 1), rec, false))
	require.NoError(t, dev.Start())
	defer dev.Release()

	require.NoError(t, dev.QueueInput(0, []byte{1}, media.SampleInfo{Size: 1}))
	require.NoError(t, dev.QueueInput(1, []byte{2}, media.SampleInfo{Size: 1, PresentationTimeUs: 1}))

	require.Eventually(t, func() bool {
		_, _, errs := rec.snapshot()
		return errs == 1
	}, waitTimeout, time.Millisecond)
	rec.mu.Lock()
	assert.ErrorIs(t, rec.errs[0], ErrInjectedFault)
	rec.mu.Unlock()
}
