//go:build !windows

package filesystem

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"constguard/pkg/contract"
)

func TestMapPathInvalidUnix(t *testing.T) {
	w, err := New(&Options{OutputDir: t.TempDir(), Flat: boolp(false), Ext: strp("")})
	require.NoError(t, err)
	for _, id := range []string{"/abs", "..", "."} {
		_, err := w.mapPath(contract.ArtifactID(id))
		assert.ErrorIs(t, err, contract.ErrPathInvalid, id)
	}
}
