package tuning

import (
	"os"

	"github.com/fsnotify/fsnotify"

	"github.com/orizon-lang/orizon-gc/internal/gc/gclog"
)

// DecodeFunc parses a policy file's raw bytes into a Policy, e.g. a
// small wrapper around encoding/json or a TOML decoder depending on the
// collaborator's chosen config format.
type DecodeFunc func([]byte) (Policy, error)

// ReloadWatcher applies policy file edits to a Tuner live, without
// restarting the process (spec §4.8's tunables are explicitly the kind
// of knob an operator adjusts while the collector keeps running).
type ReloadWatcher struct {
	watcher *fsnotify.Watcher
	path    string
	tuner   *Tuner
	decode  DecodeFunc
}

// NewReloadWatcher starts watching path for writes, decoding its
// contents with decode and applying the result to tuner on every write.
func NewReloadWatcher(path string, tuner *Tuner, decode DecodeFunc) (*ReloadWatcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	if err := w.Add(path); err != nil {
		w.Close()

		return nil, err
	}

	return &ReloadWatcher{watcher: w, path: path, tuner: tuner, decode: decode}, nil
}

// Run processes filesystem events until stop is closed. Intended to run
// in its own goroutine.
func (r *ReloadWatcher) Run(stop <-chan struct{}) {
	for {
		select {
		case <-stop:
			return

		case ev, ok := <-r.watcher.Events:
			if !ok {
				return
			}

			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}

			r.reload()

		case err, ok := <-r.watcher.Errors:
			if !ok {
				return
			}

			gclog.Default.Errorf("tuning: policy watcher error: %v", err)
		}
	}
}

func (r *ReloadWatcher) reload() {
	data, err := os.ReadFile(r.path)
	if err != nil {
		gclog.Default.Errorf("tuning: reading policy file %s: %v", r.path, err)

		return
	}

	policy, err := r.decode(data)
	if err != nil {
		gclog.Default.Errorf("tuning: decoding policy file %s: %v", r.path, err)

		return
	}

	r.tuner.SetPolicy(policy)
}

// Close stops watching and releases the underlying inotify/kqueue
// handle.
func (r *ReloadWatcher) Close() error {
	return r.watcher.Close()
}
