package resolver

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/topic-cli/pkg/gemini"
	geminimocks "github.com/sells-group/topic-cli/pkg/gemini/mocks"
)

func gen(name string) gemini.Model {
	return gemini.Model{Name: name, SupportedGenerationMethods: []string{"generateContent", "countTokens"}}
}

func embed(name string) gemini.Model {
	return gemini.Model{Name: name, SupportedGenerationMethods: []string{"embedContent"}}
}

func TestSelect(t *testing.T) {
	tests := []struct {
		name   string
		models []gemini.Model
		want   []string
	}{
		{
			name:   "flash preferred, embedding discarded",
			models: []gemini.Model{gen("models/gemini-1.5-flash"), embed("models/embedding-001")},
			want:   []string{"gemini-1.5-flash"},
		},
		{
			name:   "first flash wins over earlier pro",
			models: []gemini.Model{gen("models/gemini-1.5-pro"), gen("models/gemini-2.0-flash"), gen("models/gemini-1.5-flash")},
			want:   []string{"gemini-2.0-flash", "gemini-1.5-flash", "gemini-1.5-pro"},
		},
		{
			name:   "pro vision skipped in pro tier",
			models: []gemini.Model{gen("models/gemini-pro-vision"), gen("models/gemini-pro")},
			want:   []string{"gemini-pro", "gemini-pro-vision"},
		},
		{
			name:   "falls back to discovery order",
			models: []gemini.Model{gen("models/aqa"), gen("models/gemma-3-27b-it")},
			want:   []string{"aqa", "gemma-3-27b-it"},
		},
		{
			name:   "incapable flash ignored",
			models: []gemini.Model{embed("models/text-embedding-flash"), gen("models/gemini-pro")},
			want:   []string{"gemini-pro"},
		},
		{
			name:   "duplicates collapsed",
			models: []gemini.Model{gen("models/gemini-1.5-flash"), gen("gemini-1.5-flash")},
			want:   []string{"gemini-1.5-flash"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Select(tt.models)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSelect_Deterministic(t *testing.T) {
	models := []gemini.Model{gen("models/gemini-pro"), gen("models/gemini-1.5-flash"), gen("models/gemini-2.0-flash")}
	first, err := Select(models)
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		again, err := Select(models)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

func TestSelect_NoCapableModel(t *testing.T) {
	_, err := Select([]gemini.Model{embed("models/embedding-001")})
	assert.ErrorIs(t, err, ErrNoCapableModel)

	_, err = Select(nil)
	assert.ErrorIs(t, err, ErrNoCapableModel)
}

func TestResolve_CachesPerCredential(t *testing.T) {
	client := geminimocks.NewMockClient(t)
	client.On("ListModels", mock.Anything, "key-a").
		Return([]gemini.Model{gen("models/gemini-1.5-flash"), embed("models/embedding-001")}, nil).Once()
	client.On("ListModels", mock.Anything, "key-b").
		Return([]gemini.Model{gen("models/gemini-pro")}, nil).Once()

	r := New(client)
	ctx := context.Background()

	m, err := r.Resolve(ctx, "key-a")
	require.NoError(t, err)
	assert.Equal(t, "gemini-1.5-flash", m)

	// Cached: no second discovery call for the same credential.
	m, err = r.Resolve(ctx, "key-a")
	require.NoError(t, err)
	assert.Equal(t, "gemini-1.5-flash", m)

	// A different credential re-resolves.
	m, err = r.Resolve(ctx, "key-b")
	require.NoError(t, err)
	assert.Equal(t, "gemini-pro", m)
}

func TestResolve_DiscoveryFailed(t *testing.T) {
	apiErr := &gemini.Error{Kind: gemini.KindCredentialRejected, Op: "list models", StatusCode: 403}
	client := geminimocks.NewMockClient(t)
	client.On("ListModels", mock.Anything, "bad").Return(nil, apiErr).Twice()

	r := New(client)
	_, err := r.Resolve(context.Background(), "bad")

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrDiscoveryFailed)
	assert.True(t, gemini.IsFatal(err))
	var de *DiscoveryError
	require.ErrorAs(t, err, &de)
	assert.ErrorIs(t, de.Err, apiErr)
	assert.Contains(t, err.Error(), "resolver: model discovery failed")

	// Failures are not cached.
	_, err = r.Resolve(context.Background(), "bad")
	assert.ErrorIs(t, err, ErrDiscoveryFailed)
}

func TestResolve_NoCapableModel(t *testing.T) {
	client := geminimocks.NewMockClient(t)
	client.On("ListModels", mock.Anything, "k").Return([]gemini.Model{embed("models/embedding-001")}, nil)

	_, err := New(client).Resolve(context.Background(), "k")
	assert.True(t, errors.Is(err, ErrNoCapableModel))
}

func TestResolve_Pinned(t *testing.T) {
	client := geminimocks.NewMockClient(t)

	r := New(client, WithPinnedModel("models/gemini-1.5-pro"))
	m, err := r.Resolve(context.Background(), "k")

	require.NoError(t, err)
	assert.Equal(t, "gemini-1.5-pro", m)
	client.AssertNotCalled(t, "ListModels", mock.Anything, mock.Anything)
}

func TestMarkUnavailable(t *testing.T) {
	client := geminimocks.NewMockClient(t)
	client.On("ListModels", mock.Anything, "k").
		Return([]gemini.Model{gen("models/gemini-1.5-flash"), gen("models/gemini-1.5-pro")}, nil).Once()

	r := New(client)
	ctx := context.Background()

	m, err := r.Resolve(ctx, "k")
	require.NoError(t, err)
	require.Equal(t, "gemini-1.5-flash", m)

	next, err := r.MarkUnavailable(ctx, "k", "gemini-1.5-flash")
	require.NoError(t, err)
	assert.Equal(t, "gemini-1.5-pro", next)

	// The fallback becomes the cached working model.
	m, err = r.Resolve(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "gemini-1.5-pro", m)
	assert.Equal(t, []string{"gemini-1.5-pro"}, r.Candidates())

	_, err = r.MarkUnavailable(ctx, "k", "gemini-1.5-pro")
	assert.ErrorIs(t, err, ErrNoCapableModel)
}

func TestInvalidate(t *testing.T) {
	client := geminimocks.NewMockClient(t)
	client.On("ListModels", mock.Anything, "k").
		Return([]gemini.Model{gen("models/gemini-1.5-flash")}, nil).Twice()

	r := New(client)
	_, err := r.Resolve(context.Background(), "k")
	require.NoError(t, err)

	r.Invalidate()
	assert.Empty(t, r.Candidates())

	_, err = r.Resolve(context.Background(), "k")
	require.NoError(t, err)
}
