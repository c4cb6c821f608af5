// Package selfupdate keeps volzip current. It checks a release feed,
// downloads the newer package, unpacks it and stages a one-shot script
// that swaps the executable once the running process has exited.
//
// The pieces run strictly in sequence:
//   - checker.go: release feed query and version comparison
//   - downloader.go: chunked download with percent progress
//   - installer.go: extraction, executable lookup and script staging
//   - updater.go: the chained pipeline on a worker goroutine
//   - poller.go: periodic checks behind a circuit breaker
package selfupdate
