package detector

import (
	"errors"
	"fmt"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/docsync-mcp/pkg/types"
)

func fp(path, hash string) types.FileFingerprint {
	return types.FileFingerprint{Path: path, Hash: hash}
}

// TestDetect_Classification covers each class
func TestDetect_Classification(t *testing.T) {
	current := []types.FileFingerprint{
		fp("new.md", "n1"),
		fp("changed.md", "c2"),
		fp("same.md", "s1"),
	}
	stored := map[string]string{
		"changed.md": "c1",
		"same.md":    "s1",
		"gone.md":    "g1",
	}

	cs, err := Detect(current, stored)
	require.NoError(t, err)

	assert.Equal(t, []types.FileFingerprint{fp("new.md", "n1")}, cs.New)
	assert.Equal(t, []types.FileFingerprint{fp("changed.md", "c2")}, cs.Modified)
	assert.Equal(t, []types.FileFingerprint{fp("gone.md", "g1")}, cs.Deleted)
	assert.Equal(t, []types.FileFingerprint{fp("same.md", "s1")}, cs.Unchanged)
}

// TestDetect_EmptyCatalog marks every scanned path as new
func TestDetect_EmptyCatalog(t *testing.T) {
	current := []types.FileFingerprint{fp("README.md", "h1"), fp("docs/api.md", "h2")}

	cs, err := Detect(current, nil)
	require.NoError(t, err)
	assert.Equal(t, []types.FileFingerprint{fp("README.md", "h1"), fp("docs/api.md", "h2")}, cs.New)
	assert.Empty(t, cs.Modified)
	assert.Empty(t, cs.Deleted)
	assert.Empty(t, cs.Unchanged)
}

// TestDetect_Idempotent classifies everything as unchanged when nothing moved
func TestDetect_Idempotent(t *testing.T) {
	current := []types.FileFingerprint{fp("a.md", "1"), fp("b.md", "2")}
	stored := map[string]string{"a.md": "1", "b.md": "2"}

	cs, err := Detect(current, stored)
	require.NoError(t, err)
	assert.False(t, cs.HasChanges())
	assert.Len(t, cs.Unchanged, 2)
}

// TestDetect_Deletion reports the stored hash for removed paths
func TestDetect_Deletion(t *testing.T) {
	cs, err := Detect([]types.FileFingerprint{fp("A", "h1")}, map[string]string{"A": "h1", "B": "h2"})
	require.NoError(t, err)
	assert.Equal(t, []types.FileFingerprint{fp("B", "h2")}, cs.Deleted)
	assert.Equal(t, []types.FileFingerprint{fp("A", "h1")}, cs.Unchanged)
}

// TestDetect_Modification flags a hash change
func TestDetect_Modification(t *testing.T) {
	cs, err := Detect([]types.FileFingerprint{fp("A", "h2")}, map[string]string{"A": "h1"})
	require.NoError(t, err)
	assert.Equal(t, []types.FileFingerprint{fp("A", "h2")}, cs.Modified)
	assert.Empty(t, cs.New)
}

// TestDetect_Rename is observed as one deletion plus one addition
func TestDetect_Rename(t *testing.T) {
	cs, err := Detect([]types.FileFingerprint{fp("new/name.md", "same")}, map[string]string{"old/name.md": "same"})
	require.NoError(t, err)
	assert.Equal(t, []types.FileFingerprint{fp("new/name.md", "same")}, cs.New)
	assert.Equal(t, []types.FileFingerprint{fp("old/name.md", "same")}, cs.Deleted)
}

// TestDetect_DuplicatePath rejects malformed scans instead of letting the last entry win
func TestDetect_DuplicatePath(t *testing.T) {
	current := []types.FileFingerprint{fp("a.md", "1"), fp("b.md", "2"), fp("a.md", "3")}

	cs, err := Detect(current, map[string]string{})
	require.Error(t, err)
	assert.Nil(t, cs)
	assert.ErrorIs(t, err, types.ErrDuplicatePath)

	var validation *types.ValidationError
	require.True(t, errors.As(err, &validation))
	assert.Equal(t, "a.md", validation.Path)
}

// TestDetect_MalformedFingerprint rejects empty hashes
func TestDetect_MalformedFingerprint(t *testing.T) {
	_, err := Detect([]types.FileFingerprint{fp("a.md", "")}, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, types.ErrMalformedFingerprint)
}

// TestDetect_DoesNotMutateInputs leaves the caller's data alone
func TestDetect_DoesNotMutateInputs(t *testing.T) {
	current := []types.FileFingerprint{fp("z.md", "1"), fp("a.md", "2")}
	stored := map[string]string{"a.md": "0"}

	_, err := Detect(current, stored)
	require.NoError(t, err)
	assert.Equal(t, "z.md", current[0].Path)
	assert.Equal(t, map[string]string{"a.md": "0"}, stored)
}

// TestDetect_PartitionProperty checks every path lands in exactly one class
func TestDetect_PartitionProperty(t *testing.T) {
	rng := rand.New(rand.NewSource(42))

	for iter := 0; iter < 200; iter++ {
		universe := rng.Intn(40) + 1
		var current []types.FileFingerprint
		stored := map[string]string{}
		for i := 0; i < universe; i++ {
			path := fmt.Sprintf("docs/%03d.md", i)
			inScan := rng.Intn(3) != 0
			inCatalog := rng.Intn(3) != 0
			hash := fmt.Sprintf("h%d", rng.Intn(2))
			if inScan {
				current = append(current, fp(path, hash))
			}
			if inCatalog {
				stored[path] = fmt.Sprintf("h%d", rng.Intn(2))
			}
		}
		rng.Shuffle(len(current), func(i, j int) { current[i], current[j] = current[j], current[i] })

		cs, err := Detect(current, stored)
		require.NoError(t, err)

		distinct := map[string]struct{}{}
		for _, f := range current {
			distinct[f.Path] = struct{}{}
		}
		for p := range stored {
			distinct[p] = struct{}{}
		}

		counts := map[string]int{}
		for _, list := range [][]types.FileFingerprint{cs.New, cs.Modified, cs.Deleted, cs.Unchanged} {
			for i, f := range list {
				counts[f.Path]++
				if i > 0 {
					assert.Less(t, list[i-1].Path, f.Path, "lists are sorted")
				}
			}
		}

		assert.Equal(t, len(distinct), cs.Total())
		for p := range distinct {
			assert.Equal(t, 1, counts[p], "path %s must appear exactly once", p)
		}
	}
}
