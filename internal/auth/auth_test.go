package auth

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestActorContext(t *testing.T) {
	ctx := WithActor(context.Background(), Actor{Name: "admin", Admin: true})
	a, ok := FromContext(ctx)
	require.True(t, ok)
	assert.Equal(t, "admin", a.Name)
	assert.True(t, IsAdmin(ctx))
	assert.Equal(t, "admin", ActorName(ctx))

	assert.False(t, IsAdmin(context.Background()))
	assert.Equal(t, "anonymous", ActorName(context.Background()))
}

func TestVerifier(t *testing.T) {
	hash, err := HashToken("s3cret")
	require.NoError(t, err)

	v := NewVerifier(hash)
	assert.True(t, v.Enabled())
	assert.NoError(t, v.Verify("s3cret"))
	// Second call is served from the digest cache.
	assert.NoError(t, v.Verify("s3cret"))
	assert.ErrorIs(t, v.Verify("wrong"), ErrInvalidToken)
	assert.ErrorIs(t, v.Verify(""), ErrInvalidToken)

	assert.False(t, NewVerifier("").Enabled())

	_, err = HashToken("")
	assert.Error(t, err)
}
