package suite

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmylchreest/codecconf/internal/codectest"
	"github.com/jmylchreest/codecconf/internal/device"
	"github.com/jmylchreest/codecconf/internal/media"
	"github.com/jmylchreest/codecconf/internal/models"
)

// gatedRegistry holds every device construction until release is closed.
func gatedRegistry(t *testing.T, release <-chan struct{}) *device.Registry {
	t.Helper()
	reg := device.NewRegistry()
	require.NoError(t, reg.Register(device.Entry{
		Name: "sw.gated",
		Mime: media.MimeAudioRaw,
		New: func() codectest.Device {
			<-release
			return device.NewSoftware("sw.gated", []string{media.MimeAudioRaw}, false, device.Options{})
		},
	}))
	return reg
}

func TestLauncher_OneRunAtATime(t *testing.T) {
	release := make(chan struct{})
	cfg := testConfig()
	cfg.Suite.Cases = []string{"zero-input"}
	r := newTestRunner(cfg, WithRegistry(gatedRegistry(t, release)), WithStreams(builtinStream(t, "pcm-8k-mono")))
	l := NewLauncher(context.Background(), r)

	ctx := context.Background()
	first, err := l.Launch(ctx, models.TriggerAPI)
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusRunning, first.Status)

	id, running := l.Running()
	assert.True(t, running)
	assert.Equal(t, first.ID, id)

	_, err = l.Launch(ctx, models.TriggerSchedule)
	require.ErrorIs(t, err, ErrBusy)

	close(release)
	l.Wait()
	_, running = l.Running()
	assert.False(t, running)

	second, err := l.Launch(ctx, models.TriggerSchedule)
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, second.ID)
	l.Wait()
}

func TestLauncher_CancelledBaseInterruptsRun(t *testing.T) {
	release := make(chan struct{})
	base, cancel := context.WithCancel(context.Background())
	cfg := testConfig()
	cfg.Suite.Cases = []string{"zero-input"}
	r := newTestRunner(cfg, WithRegistry(gatedRegistry(t, release)), WithStreams(builtinStream(t, "pcm-8k-mono")))
	l := NewLauncher(base, r)

	_, err := l.Launch(context.Background(), models.TriggerAPI)
	require.NoError(t, err)
	cancel()
	close(release)
	l.Wait()

	_, running := l.Running()
	assert.False(t, running)
}
