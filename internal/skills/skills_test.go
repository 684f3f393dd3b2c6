package skills

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func writeSkillFile(t *testing.T, dir, filename, name, description, body string) {
	t.Helper()
	content := "+++\nname = \"" + name + "\"\ndescription = \"" + description + "\"\n+++\n" + body + "\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, filename), []byte(content), 0o644))
}

func TestCatalog_LoadsExistingSkillsAtOpen(t *testing.T) {
	dir := t.TempDir()
	writeSkillFile(t, dir, "weather.md", "weather", "reports current weather", "When asked about weather, call get_weather.")

	c, err := NewCatalog(dir)
	require.NoError(t, err)
	defer c.Close()

	sk, ok := c.Get("weather")
	require.True(t, ok)
	require.Equal(t, "reports current weather", sk.Description)
	require.Contains(t, sk.Declaration, "get_weather")
}

func TestCatalog_SkipsUnparsableFiles(t *testing.T) {
	dir := t.TempDir()
	writeSkillFile(t, dir, "good.md", "good", "a good skill", "body")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "bad.md"), []byte("no front matter here"), 0o644))

	c, err := NewCatalog(dir)
	require.NoError(t, err)
	defer c.Close()

	require.Len(t, c.List(), 1)
	_, ok := c.Get("good")
	require.True(t, ok)
}

func TestCatalog_ReloadsOnFileAdd(t *testing.T) {
	dir := t.TempDir()
	c, err := NewCatalog(dir)
	require.NoError(t, err)
	defer c.Close()

	require.Empty(t, c.List())

	writeSkillFile(t, dir, "new.md", "new_skill", "added later", "declaration body")

	require.Eventually(t, func() bool {
		_, ok := c.Get("new_skill")
		return ok
	}, 2*time.Second, 20*time.Millisecond, "catalog should pick up the new file via fsnotify")
}

func TestCatalog_MissingRootIsEmptyNotError(t *testing.T) {
	c, err := NewCatalog(filepath.Join(t.TempDir(), "does-not-exist"))
	require.NoError(t, err)
	require.Empty(t, c.List())
}
