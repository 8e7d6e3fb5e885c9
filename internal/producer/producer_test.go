package producer

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/msageha/teammate/internal/action"
)

func newAction() action.Action {
	var info action.WorkItemUpdateInfo
	info.Fields.Set("Title", "Printer on fire")
	return action.NewCreateWorkItem("", true, info)
}

func TestWrite(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "inbox")

	path, err := Write(dir, newAction())
	require.NoError(t, err)
	assert.Equal(t, dir, filepath.Dir(path))
	assert.True(t, strings.HasSuffix(path, ".xml"))
	assert.Contains(t, filepath.Base(path), "CreateWorkItem")

	parsed, err := action.ParseFile(path)
	require.NoError(t, err)
	assert.Equal(t, path, parsed.Source())
	assert.True(t, parsed.DeleteOnLoad())
	title, _ := parsed.(*action.CreateWorkItem).WorkItem().Fields.Get("Title")
	assert.Equal(t, "Printer on fire", title)

	// no temp files left behind
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestWrite_UniqueNames(t *testing.T) {
	dir := t.TempDir()
	seen := map[string]bool{}
	for i := 0; i < 20; i++ {
		path, err := Write(dir, newAction())
		require.NoError(t, err)
		assert.False(t, seen[path], "duplicate name %s", path)
		seen[path] = true
	}
}

func TestWriteNamed(t *testing.T) {
	dir := t.TempDir()

	path, err := WriteNamed(dir, "bug-42.xml", newAction())
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "bug-42.xml"), path)

	for _, bad := range []string{"", ".hidden.xml", "../escape.xml", "sub/dir.xml"} {
		_, err := WriteNamed(dir, bad, newAction())
		assert.Error(t, err, "name %q", bad)
	}
}
