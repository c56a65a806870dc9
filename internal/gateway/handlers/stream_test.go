package handlers

import (
	"context"
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/aiagentplatform/api-gateway/internal/gateway/providers"
	"github.com/stretchr/testify/require"
)

// fakeStream yields canned chunks, then an error or io.EOF. onRecv lets a
// test trigger cancellation mid-stream.
type fakeStream struct {
	chunks []providers.Chunk
	err    error
	i      int
	closed bool
	onRecv func(i int)
}

func (s *fakeStream) Recv() (providers.Chunk, error) {
	if s.onRecv != nil {
		s.onRecv(s.i)
	}
	if s.i < len(s.chunks) {
		chunk := s.chunks[s.i]
		s.i++
		return chunk, nil
	}
	if s.err != nil {
		return providers.Chunk{}, s.err
	}
	return providers.Chunk{}, io.EOF
}

func (s *fakeStream) Close() error {
	s.closed = true
	return nil
}

func dataFrames(t *testing.T, body string) []string {
	t.Helper()
	var frames []string
	for _, line := range strings.Split(body, "\n") {
		if strings.HasPrefix(line, "data: ") {
			frames = append(frames, strings.TrimPrefix(line, "data: "))
		}
	}
	return frames
}

func TestRelayStreamCompletesWithSingleTerminal(t *testing.T) {
	stream := &fakeStream{chunks: []providers.Chunk{
		{Content: "Hello"},
		{Content: ", "},
		{Content: "world"},
	}}
	rec := httptest.NewRecorder()

	relayStream(context.Background(), rec, rec, stream)

	frames := dataFrames(t, rec.Body.String())
	require.Len(t, frames, 4)
	require.JSONEq(t, `{"content":"Hello"}`, frames[0])
	require.JSONEq(t, `{"content":", "}`, frames[1])
	require.JSONEq(t, `{"content":"world"}`, frames[2])
	require.Equal(t, "[DONE]", frames[3])
}

func TestRelayStreamErrorEmitsSingleErrorEvent(t *testing.T) {
	stream := &fakeStream{
		chunks: []providers.Chunk{{Content: "partial"}},
		err:    &providers.ProviderError{Provider: "openai", Err: errors.New("connection reset")},
	}
	rec := httptest.NewRecorder()

	relayStream(context.Background(), rec, rec, stream)

	frames := dataFrames(t, rec.Body.String())
	require.Len(t, frames, 2)
	require.JSONEq(t, `{"content":"partial"}`, frames[0])
	require.Contains(t, frames[1], `"error"`)
	require.NotContains(t, rec.Body.String(), "[DONE]")
}

func TestRelayStreamStopsOnCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	stream := &fakeStream{
		chunks: []providers.Chunk{
			{Content: "one"},
			{Content: "two"},
			{Content: "never sent"},
		},
		onRecv: func(i int) {
			if i == 2 {
				cancel()
			}
		},
	}
	rec := httptest.NewRecorder()

	relayStream(ctx, rec, rec, stream)

	frames := dataFrames(t, rec.Body.String())
	// Nothing is written after cancellation is observed: no third chunk,
	// no terminal marker.
	require.Len(t, frames, 2)
	require.NotContains(t, rec.Body.String(), "never sent")
	require.NotContains(t, rec.Body.String(), "[DONE]")
}

func TestRelayStreamTracksReportedTokens(t *testing.T) {
	stream := &fakeStream{chunks: []providers.Chunk{
		{Content: "Hello"},
		{TokensUsed: 7},
		{Content: " world", TokensUsed: 19},
	}}
	rec := httptest.NewRecorder()

	tokens := relayStream(context.Background(), rec, rec, stream)
	require.Equal(t, 19, tokens)

	// The usage-only chunk produced no client-visible frame.
	frames := dataFrames(t, rec.Body.String())
	require.Len(t, frames, 3)
}

func TestRelayStreamEmptyStream(t *testing.T) {
	stream := &fakeStream{}
	rec := httptest.NewRecorder()

	relayStream(context.Background(), rec, rec, stream)

	frames := dataFrames(t, rec.Body.String())
	require.Equal(t, []string{"[DONE]"}, frames)
}
