package embedclient_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scrypster/engramind/internal/embedclient"
)

type failingEmbedder struct{ err error }

func (f failingEmbedder) Embed(context.Context, string) ([]float32, error) {
	return nil, f.err
}

func TestClient_Embed_PassesThroughOnSuccess(t *testing.T) {
	fake := embedclient.NewFake(8)
	client := embedclient.New(fake, embedclient.DefaultBreakerConfig(), 1000, 10)

	vec, err := client.Embed(context.Background(), "hello world")
	require.NoError(t, err)
	assert.Len(t, vec, 8)
}

func TestClient_Embed_TripsBreakerAfterConsecutiveFailures(t *testing.T) {
	cfg := embedclient.DefaultBreakerConfig()
	cfg.MaxFailures = 2
	client := embedclient.New(failingEmbedder{err: errors.New("boom")}, cfg, 1000, 10)

	for i := 0; i < 2; i++ {
		_, err := client.Embed(context.Background(), "x")
		assert.Error(t, err)
	}

	assert.Equal(t, "open", client.State())

	_, err := client.Embed(context.Background(), "x")
	require.Error(t, err)
}

func TestFake_Embed_DeterministicForSameInput(t *testing.T) {
	fake := embedclient.NewFake(16)
	a, err := fake.Embed(context.Background(), "Bob works at Acme")
	require.NoError(t, err)
	b, err := fake.Embed(context.Background(), "Bob works at Acme")
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestFake_Embed_DiffersForDifferentInput(t *testing.T) {
	fake := embedclient.NewFake(16)
	a, err := fake.Embed(context.Background(), "Alice owns a red bicycle")
	require.NoError(t, err)
	b, err := fake.Embed(context.Background(), "completely unrelated content about oceans")
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}
