package base

import (
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/require"
)

func TestCorruptfWrapsErrCorrupt(t *testing.T) {
	err := Corruptf("bad checksum on page %d", 7)
	require.True(t, errors.Is(err, ErrCorrupt))
	require.Contains(t, err.Error(), "page 7")
}

func TestMisusefWrapsErrMisuse(t *testing.T) {
	err := Misusef("empty term")
	require.True(t, errors.Is(err, ErrMisuse))
	require.Contains(t, err.Error(), "empty term")
}

func TestTermCloneIsIndependentCopy(t *testing.T) {
	orig := Term("cat")
	clone := orig.Clone()
	clone[0] = 'b'
	require.Equal(t, Term("cat"), orig)
	require.Equal(t, Term("bat"), clone)
}

func TestTermCloneOfNilIsNil(t *testing.T) {
	var nilTerm Term
	require.Nil(t, nilTerm.Clone())
}
