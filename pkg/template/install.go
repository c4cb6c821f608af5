package template

import (
	"bytes"
	"fmt"
	"strings"
	tmpl "text/template"
)

// InstallScriptData fills the deferred replace-and-relaunch script.
type InstallScriptData struct {
	PID           int
	GraceSeconds  int
	Target        string
	Backup        string
	NewExecutable string
	ScratchDir    string
	RelaunchArgs  []string
}

// InstallScriptPOSIX waits for the running process to go away, swaps the
// executable keeping a backup until the copy succeeded, relaunches it and
// removes itself.
var InstallScriptPOSIX = `#!/bin/sh
sleep {{.GraceSeconds}}
tries=0
while kill -0 {{.PID}} 2>/dev/null && [ "$tries" -lt 30 ]; do
  sleep 1
  tries=$((tries + 1))
done

target={{sh .Target}}
backup={{sh .Backup}}
new={{sh .NewExecutable}}
scratch={{sh .ScratchDir}}

if [ -e "$target" ]; then
  mv -f "$target" "$backup" || { rm -rf "$scratch"; rm -f "$0"; exit 1; }
fi
if ! cp "$new" "$target"; then
  rm -f "$target"
  [ -e "$backup" ] && mv -f "$backup" "$target"
  rm -rf "$scratch"
  rm -f "$0"
  exit 1
fi
chmod 755 "$target"
rm -f "$backup"

"$target"{{range .RelaunchArgs}} {{sh .}}{{end}} >/dev/null 2>&1 &

rm -rf "$scratch"
rm -f "$0"
`

// InstallScriptWindows is the batch rendition of InstallScriptPOSIX. The
// move is retried because Windows keeps a running executable locked.
var InstallScriptWindows = `@echo off
setlocal
timeout /t {{.GraceSeconds}} /nobreak >nul
set tries=0

:waitexit
if not exist {{bat .Target}} goto copynew
move /y {{bat .Target}} {{bat .Backup}} >nul 2>&1
if not errorlevel 1 goto copynew
set /a tries+=1
if %tries% geq 30 goto cleanup
timeout /t 1 /nobreak >nul
goto waitexit

:copynew
copy /y {{bat .NewExecutable}} {{bat .Target}} >nul
if errorlevel 1 (
  if exist {{bat .Backup}} move /y {{bat .Backup}} {{bat .Target}} >nul
  goto cleanup
)
del /f /q {{bat .Backup}} >nul 2>&1
start "" {{bat .Target}}{{range .RelaunchArgs}} {{bat .}}{{end}}

:cleanup
rmdir /s /q {{bat .ScratchDir}} >nul 2>&1
(goto) 2>nul & del "%~f0"
`

var scriptFuncs = tmpl.FuncMap{
	"sh":  shellQuote,
	"bat": batchQuote,
}

// InstallScript renders the script for goos and returns it with the file
// extension it must be saved under.
func InstallScript(goos string, data InstallScriptData) (script, ext string, err error) {
	src, ext := InstallScriptPOSIX, ".sh"
	if goos == "windows" {
		src, ext = InstallScriptWindows, ".bat"
	}

	t, err := tmpl.New("install" + ext).Funcs(scriptFuncs).Parse(src)
	if err != nil {
		return "", "", fmt.Errorf("failed to parse install script: %w", err)
	}

	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", "", fmt.Errorf("failed to render install script: %w", err)
	}

	out := buf.String()
	if goos == "windows" {
		out = strings.ReplaceAll(out, "\n", "\r\n")
	}
	return out, ext, nil
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// batchQuote double-quotes s for cmd.exe. Percent signs are doubled so they
// are not expanded as variables.
func batchQuote(s string) string {
	return `"` + strings.ReplaceAll(s, "%", "%%") + `"`
}
