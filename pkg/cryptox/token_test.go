package cryptox

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestGenerateSecret(t *testing.T) {
	a, err := GenerateSecret(SecretSize)
	require.NoError(t, err)
	require.Len(t, a, 43)

	b, err := GenerateSecret(SecretSize)
	require.NoError(t, err)
	require.NotEqual(t, a, b, "secrets should be unique")
}

func TestGenerateSecret_InvalidSize(t *testing.T) {
	for _, size := range []int{0, -1} {
		s, err := GenerateSecret(size)
		require.Error(t, err)
		require.Empty(t, s)
	}
}

func TestFingerprintToken(t *testing.T) {
	t.Run("deterministic", func(t *testing.T) {
		require.Equal(t, FingerprintToken("refresh-abc"), FingerprintToken("refresh-abc"))
	})

	t.Run("distinct inputs differ", func(t *testing.T) {
		require.NotEqual(t, FingerprintToken("refresh-abc"), FingerprintToken("refresh-abd"))
	})

	t.Run("does not contain the token", func(t *testing.T) {
		fp := FingerprintToken("refresh-abc")
		require.Len(t, fp, 22)
		require.NotContains(t, fp, "refresh")
	})
}
