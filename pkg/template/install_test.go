package template

import (
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testData() InstallScriptData {
	return InstallScriptData{
		PID:           4242,
		GraceSeconds:  2,
		Target:        "/opt/volzip/volzip",
		Backup:        "/opt/volzip/volzip.bak",
		NewExecutable: "/tmp/volzip-update-1/bin/volzip",
		ScratchDir:    "/tmp/volzip-update-1",
		RelaunchArgs:  []string{"update", "watch"},
	}
}

func TestInstallScript_POSIX(t *testing.T) {
	script, ext, err := InstallScript("linux", testData())
	require.NoError(t, err)
	assert.Equal(t, ".sh", ext)

	assert.True(t, strings.HasPrefix(script, "#!/bin/sh\n"))
	assert.Contains(t, script, "sleep 2\n")
	assert.Contains(t, script, "kill -0 4242")
	assert.Contains(t, script, "target='/opt/volzip/volzip'")
	assert.Contains(t, script, "backup='/opt/volzip/volzip.bak'")
	assert.Contains(t, script, `"$target" 'update' 'watch' >/dev/null 2>&1 &`)

	// Backup first, copy, drop backup, relaunch, then clean up.
	order := []string{`mv -f "$target" "$backup"`, `cp "$new" "$target"`, `rm -f "$backup"`, `"$target" 'update'`, `rm -rf "$scratch"`}
	last := -1
	for _, step := range order {
		idx := strings.LastIndex(script, step)
		require.NotEqual(t, -1, idx, step)
		assert.Greater(t, idx, last, step)
		last = idx
	}
	assert.True(t, strings.HasSuffix(script, "rm -f \"$0\"\n"))
}

func TestInstallScript_POSIXQuotesPaths(t *testing.T) {
	data := testData()
	data.Target = "/home/o'neil/bin/volzip"
	data.RelaunchArgs = nil

	script, _, err := InstallScript("darwin", data)
	require.NoError(t, err)
	assert.Contains(t, script, `target='/home/o'\''neil/bin/volzip'`)
	assert.Contains(t, script, "\"$target\" >/dev/null 2>&1 &")
}

func TestInstallScript_Windows(t *testing.T) {
	data := testData()
	data.Target = `C:\Tools\100%\volzip.exe`
	data.Backup = `C:\Tools\100%\volzip.exe.bak`
	data.NewExecutable = `C:\Temp\upd\volzip.exe`
	data.ScratchDir = `C:\Temp\upd`

	script, ext, err := InstallScript("windows", data)
	require.NoError(t, err)
	assert.Equal(t, ".bat", ext)

	assert.True(t, strings.HasPrefix(script, "@echo off\r\n"))
	assert.NotContains(t, strings.ReplaceAll(script, "\r\n", ""), "\n")
	assert.Contains(t, script, "timeout /t 2 /nobreak")
	assert.Contains(t, script, `move /y "C:\Tools\100%%\volzip.exe" "C:\Tools\100%%\volzip.exe.bak"`)
	assert.Contains(t, script, `copy /y "C:\Temp\upd\volzip.exe" "C:\Tools\100%%\volzip.exe"`)
	assert.Contains(t, script, `start "" "C:\Tools\100%%\volzip.exe" "update" "watch"`)
	assert.Contains(t, script, `rmdir /s /q "C:\Temp\upd"`)
	assert.Contains(t, script, `del "%~f0"`)
}

func TestInstallScript_POSIXRun(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("needs /bin/sh")
	}
	dir := t.TempDir()

	exited := exec.Command("true")
	require.NoError(t, exited.Run())

	target := filepath.Join(dir, "bin", "volzip")
	require.NoError(t, os.MkdirAll(filepath.Dir(target), 0o755))
	require.NoError(t, os.WriteFile(target, []byte("old build"), 0o755))

	marker := filepath.Join(dir, "relaunched")
	newExe := "#!/bin/sh\necho \"$@\" > " + shellQuote(marker) + "\n"
	scratch := filepath.Join(dir, "scratch")
	require.NoError(t, os.MkdirAll(filepath.Join(scratch, "pkg"), 0o755))
	newPath := filepath.Join(scratch, "pkg", "volzip")
	require.NoError(t, os.WriteFile(newPath, []byte(newExe), 0o755))

	script, ext, err := InstallScript(runtime.GOOS, InstallScriptData{
		PID:           exited.Process.Pid,
		GraceSeconds:  0,
		Target:        target,
		Backup:        target + ".bak",
		NewExecutable: newPath,
		ScratchDir:    scratch,
		RelaunchArgs:  []string{"update", "watch"},
	})
	require.NoError(t, err)
	scriptPath := filepath.Join(dir, "install"+ext)
	require.NoError(t, os.WriteFile(scriptPath, []byte(script), 0o700))

	require.NoError(t, exec.Command("/bin/sh", scriptPath).Run())

	got, err := os.ReadFile(target)
	require.NoError(t, err)
	assert.Equal(t, newExe, string(got))
	assert.NoFileExists(t, target+".bak")
	assert.NoDirExists(t, scratch)
	assert.NoFileExists(t, scriptPath)

	assert.Eventually(t, func() bool {
		b, err := os.ReadFile(marker)
		return err == nil && string(b) == "update watch\n"
	}, 5*time.Second, 20*time.Millisecond)
}
