package oml

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/golang/glog"
)

// Buffer is the editing surface. `Changes` delivers the full text after each change.
// `Replace` swaps the whole text. `Done` is closed when the user closes the buffer.
type Buffer interface {
	Changes() <-chan string
	Replace(text string) error
	Done() <-chan struct{}
}

type FileBufferSettings struct {
	// editors write in several steps; the file is read once events stop for this long
	Debounce         time.Duration
	FileMode         os.FileMode
	ChangeBufferSize int
}

func DefaultFileBufferSettings() *FileBufferSettings {
	return &FileBufferSettings{
		Debounce:         100 * time.Millisecond,
		FileMode:         0644,
		ChangeBufferSize: 4,
	}
}

// FileBuffer exposes a file on disk as the editing surface, so that any editor can be used.
// The parent directory is watched rather than the file, since many editors save by
// writing a new file and renaming it over the old one.
// Removing the file closes the buffer.
type FileBuffer struct {
	ctx    context.Context
	cancel context.CancelFunc

	path    string
	watcher *fsnotify.Watcher
	changes chan string

	mutex sync.Mutex
	// last text written or emitted
	current string

	settings *FileBufferSettings
}

func OpenFileBufferWithDefaults(ctx context.Context, path string, text string) (*FileBuffer, error) {
	return OpenFileBuffer(ctx, path, text, DefaultFileBufferSettings())
}

// OpenFileBuffer writes `text` to `path` and starts watching it.
func OpenFileBuffer(ctx context.Context, path string, text string, settings *FileBufferSettings) (*FileBuffer, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	if err := os.WriteFile(absPath, []byte(text), settings.FileMode); err != nil {
		return nil, err
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := watcher.Add(filepath.Dir(absPath)); err != nil {
		watcher.Close()
		return nil, err
	}

	cancelCtx, cancel := context.WithCancel(ctx)
	buffer := &FileBuffer{
		ctx:      cancelCtx,
		cancel:   cancel,
		path:     absPath,
		watcher:  watcher,
		changes:  make(chan string, settings.ChangeBufferSize),
		current:  text,
		settings: settings,
	}
	go buffer.run()
	return buffer, nil
}

func (self *FileBuffer) Path() string {
	return self.path
}

func (self *FileBuffer) Changes() <-chan string {
	return self.changes
}

func (self *FileBuffer) Done() <-chan struct{} {
	return self.ctx.Done()
}

func (self *FileBuffer) Replace(text string) error {
	self.mutex.Lock()
	defer self.mutex.Unlock()

	select {
	case <-self.ctx.Done():
		return ErrClosed
	default:
	}
	self.current = text
	return os.WriteFile(self.path, []byte(text), self.settings.FileMode)
}

func (self *FileBuffer) Close() {
	self.cancel()
}

func (self *FileBuffer) run() {
	defer func() {
		self.cancel()
		self.watcher.Close()
	}()

	var debounce <-chan time.Time
	for {
		select {
		case <-self.ctx.Done():
			return
		case event, ok := <-self.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != self.path {
				continue
			}
			glog.V(2).Infof("[b]%s %s\n", event.Op, self.path)
			debounce = time.After(self.settings.Debounce)
		case err, ok := <-self.watcher.Errors:
			if !ok {
				return
			}
			glog.Infof("[b]watch %s error = %s\n", self.path, err)
		case <-debounce:
			debounce = nil
			if !self.readChange() {
				return
			}
		}
	}
}

// false when the file is gone
func (self *FileBuffer) readChange() bool {
	textBytes, err := os.ReadFile(self.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			glog.V(1).Infof("[b]%s removed\n", self.path)
			return false
		}
		glog.Infof("[b]read %s error = %s\n", self.path, err)
		return true
	}
	text := string(textBytes)

	self.mutex.Lock()
	unchanged := text == self.current
	self.current = text
	self.mutex.Unlock()
	if unchanged {
		return true
	}

	select {
	case <-self.ctx.Done():
		return false
	case self.changes <- text:
		return true
	}
}
