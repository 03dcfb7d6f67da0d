package realtime

import (
	"bytes"
	"context"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"learngraph/application/voice"
)

func TestReaderSource_FramesStream(t *testing.T) {
	defer goleak.VerifyNone(t)

	format := voice.DefaultAudioFormat()
	frame := format.Bytes(DefaultFrameDuration)
	data := bytes.Repeat([]byte{0x10, 0x00}, (frame*2+100)/2)

	src := NewReaderSource(bytes.NewReader(data), format, false, nil)
	frames, err := src.Start(context.Background())
	require.NoError(t, err)

	var got [][]byte
	for f := range frames {
		got = append(got, f)
	}
	require.Len(t, got, 3)
	assert.Len(t, got[0], frame)
	assert.Len(t, got[1], frame)
	assert.Len(t, got[2], 100)

	_, err = src.Start(context.Background())
	assert.Error(t, err)
	assert.NoError(t, src.Close())
}

func TestReaderSource_CloseReleasesBlockedReader(t *testing.T) {
	defer goleak.VerifyNone(t)

	r, w := io.Pipe()
	defer w.Close()

	src := NewReaderSource(r, voice.DefaultAudioFormat(), true, nil)
	frames, err := src.Start(context.Background())
	require.NoError(t, err)

	require.NoError(t, src.Close())
	_, open := <-frames
	assert.False(t, open)
}

func TestReaderSource_RestartAfterClose(t *testing.T) {
	defer goleak.VerifyNone(t)

	format := voice.DefaultAudioFormat()
	data := bytes.Repeat([]byte{0x10, 0x00}, format.Bytes(DefaultFrameDuration)*2)
	src := NewReaderSource(bytes.NewReader(data), format, false, nil)

	frames, err := src.Start(context.Background())
	require.NoError(t, err)
	<-frames
	require.NoError(t, src.Close())
	for range frames {
	}

	var again <-chan []byte
	require.Eventually(t, func() bool {
		again, err = src.Start(context.Background())
		return err == nil
	}, time.Second, 5*time.Millisecond)

	_, err = src.Start(context.Background())
	assert.Error(t, err, "second start while running")

	require.NoError(t, src.Close())
	for range again {
	}
}
