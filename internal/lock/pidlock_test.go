package lock

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAcquireWritesPID(t *testing.T) {
	path := filepath.Join(t.TempDir(), "camberd.lock")

	l, err := Acquire(path)
	require.NoError(t, err)
	defer l.Release()

	assert.Equal(t, path, l.Path())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, fmt.Sprintf("%d\n", os.Getpid()), string(data))
}

func TestAcquireRefusesHeldLock(t *testing.T) {
	path := filepath.Join(t.TempDir(), "camberd.lock")

	l, err := Acquire(path)
	require.NoError(t, err)

	_, err = Acquire(path)
	assert.Error(t, err)

	require.NoError(t, l.Release())

	l2, err := Acquire(path)
	require.NoError(t, err)
	require.NoError(t, l2.Release())
}

func TestAcquireCreatesParentDir(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "dir", "camberd.lock")

	l, err := Acquire(path)
	require.NoError(t, err)
	defer l.Release()

	_, err = os.Stat(path)
	assert.NoError(t, err)
}

func TestAcquireEmptyPath(t *testing.T) {
	_, err := Acquire("")
	assert.Error(t, err)
}

func TestReleaseNilSafe(t *testing.T) {
	var l *PIDLock
	assert.NoError(t, l.Release())

	l2 := &PIDLock{}
	assert.NoError(t, l2.Release())
	assert.NoError(t, l2.Release())
}
