//go:build windows

package archive

import "os"

// Windows ACLs are not reflected in mode bits, so probe with a real file.
func checkWritable(dir string) error {
	f, err := os.CreateTemp(dir, ".volzip-probe-*")
	if err != nil {
		return err
	}
	name := f.Name()
	f.Close()
	return os.Remove(name)
}
