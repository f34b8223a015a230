package channel

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveMode(t *testing.T) {
	cases := []struct {
		mode   Mode
		origin string
		want   Mode
	}{
		{ModeAuto, "http://localhost:8888/tree", ModeNative},
		{ModeAuto, "http://127.0.0.1:8888", ModeNative},
		{ModeAuto, "http://[::1]:8888", ModeNative},
		{ModeAuto, "localhost:8080", ModeNative},
		{ModeAuto, "127.0.0.1", ModeNative},
		{ModeAuto, "https://notebooks.example.com", ModeEmulated},
		{ModeAuto, "", ModeEmulated},
		{"", "10.0.0.4:80", ModeEmulated},
		{ModeNative, "https://notebooks.example.com", ModeNative},
		{ModeEmulated, "http://localhost", ModeEmulated},
	}
	for _, tc := range cases {
		got, err := ResolveMode(tc.mode, tc.origin)
		require.NoError(t, err, "%s %s", tc.mode, tc.origin)
		assert.Equal(t, tc.want, got, "%s %s", tc.mode, tc.origin)
	}

	_, err := ResolveMode("carrier-pigeon", "localhost")
	assert.ErrorIs(t, err, ErrUnknownMode)
}

func TestParseMode(t *testing.T) {
	m, err := ParseMode(" Emulated ")
	require.NoError(t, err)
	assert.Equal(t, ModeEmulated, m)

	m, err = ParseMode("")
	require.NoError(t, err)
	assert.Equal(t, ModeAuto, m)

	_, err = ParseMode("xhr")
	assert.ErrorIs(t, err, ErrUnknownMode)
}

func TestNewSelectsImplementation(t *testing.T) {
	ctx := context.Background()

	_, err := New(ctx, "ws://kernel/1", Options{Mode: ModeEmulated})
	require.ErrorIs(t, err, ErrNoRemote)

	_, err = New(ctx, "ws://kernel/1", Options{Mode: "bogus"})
	require.ErrorIs(t, err, ErrUnknownMode)

	rec := newRecorder()
	ch, err := New(ctx, "ws://kernel/1", Options{
		Origin:   "https://notebooks.example.com",
		Remote:   newFakeRemote("1"),
		Handlers: rec.handlers(),
	})
	require.NoError(t, err)
	require.IsType(t, &Emulated{}, ch)
	rec.expect(t, "open")
	ch.Close()
	rec.expect(t, "close")
	waitDone(t, ch)

	rec = newRecorder()
	ch, err = New(ctx, echoServer(t), Options{Origin: "http://localhost:8888", Handlers: rec.handlers()})
	require.NoError(t, err)
	require.IsType(t, &Native{}, ch)
	rec.expect(t, "open")
	ch.Close()
	rec.expect(t, "close")
	waitDone(t, ch)
}
