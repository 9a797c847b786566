// Package watcher watches critical files for changes and manages the
// background daemon process.
//
// The file watcher subscribes to the parent directory of every critical file
// so that a file replaced by rename or deleted and recreated is still seen.
// Bursts of events are coalesced over a short debounce window and reported
// as one batch, which the daemon uses to request an early health check.
//
// Key features:
//   - Debounced change notification for a fixed set of files
//   - Restartable, so it can be supervised like any other module
//   - Daemon mode support with PID file management
//   - Graceful shutdown with SIGTERM/SIGINT handling
//
// Example usage:
//
//	w := watcher.New([]string{"/etc/app/config.json"}, func(paths []string) {
//		orch.Trigger()
//	}, watcher.Options{})
//
//	if err := w.Start(); err != nil {
//		log.Fatal(err)
//	}
//	defer w.Stop()
package watcher
