package simulated

import (
	"context"
	"testing"

	"github.com/davidroman0O/studioflow/internal/capability"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStudioSatisfiesEveryAdapter(t *testing.T) {
	require.NoError(t, New().Adapters().Validate())
	require.ErrorIs(t, capability.Adapters{}.Validate(), capability.ErrMissingAdapter)
}

func TestQualityScoresAreScripted(t *testing.T) {
	s := New(WithQualityScores(85, 95))
	ctx := context.Background()

	for _, want := range []int{85, 95, 95} {
		got, err := s.ScoreQuality(ctx, "x.png")
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	assert.Equal(t, 3, s.Calls("quality"))
}

func TestFailuresThenSuccess(t *testing.T) {
	s := New(WithFailures("trainer", 2), WithBaseURL("https://example.test/"))
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := s.TrainLoRA(ctx, capability.TrainRequest{TriggerWord: "ohwx_x"})
		require.Error(t, err)
	}
	res, err := s.TrainLoRA(ctx, capability.TrainRequest{TriggerWord: "ohwx_x"})
	require.NoError(t, err)
	assert.Contains(t, res.WeightsURL, "https://example.test/loras/")
}

func TestGeneratedURLsAreDistinct(t *testing.T) {
	s := New()
	urls, err := s.GenerateImages(context.Background(), capability.ImageRequest{Prompt: "p", Count: 4})
	require.NoError(t, err)
	require.Len(t, urls, 4)

	seen := map[string]bool{}
	for _, u := range urls {
		assert.False(t, seen[u])
		seen[u] = true
	}

	_, err = s.PackageImages(context.Background(), "training", nil)
	require.Error(t, err)
}
