package oml

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-playground/assert/v2"
)

func testFileBufferSettings() *FileBufferSettings {
	settings := DefaultFileBufferSettings()
	settings.Debounce = 20 * time.Millisecond
	return settings
}

func TestFileBufferChanges(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	path := filepath.Join(t.TempDir(), "tree.js")
	buffer, err := OpenFileBuffer(ctx, path, "initial", testFileBufferSettings())
	assert.Equal(t, err, nil)
	defer buffer.Close()

	text, err := os.ReadFile(path)
	assert.Equal(t, err, nil)
	assert.Equal(t, string(text), "initial")

	// a write by an editor
	err = os.WriteFile(path, []byte("edited"), 0644)
	assert.Equal(t, err, nil)
	select {
	case change := <-buffer.Changes():
		assert.Equal(t, change, "edited")
	case <-time.After(testTimeout):
		t.Fatal("timeout")
	}

	// a save by rename
	tmpPath := filepath.Join(filepath.Dir(path), "tree.js.tmp")
	err = os.WriteFile(tmpPath, []byte("renamed"), 0644)
	assert.Equal(t, err, nil)
	err = os.Rename(tmpPath, path)
	assert.Equal(t, err, nil)
	select {
	case change := <-buffer.Changes():
		assert.Equal(t, change, "renamed")
	case <-time.After(testTimeout):
		t.Fatal("timeout")
	}
}

func TestFileBufferReplace(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	path := filepath.Join(t.TempDir(), "tree.js")
	buffer, err := OpenFileBuffer(ctx, path, "initial", testFileBufferSettings())
	assert.Equal(t, err, nil)
	defer buffer.Close()

	err = buffer.Replace("replaced")
	assert.Equal(t, err, nil)
	text, err := os.ReadFile(path)
	assert.Equal(t, err, nil)
	assert.Equal(t, string(text), "replaced")

	// own writes are not changes
	select {
	case change := <-buffer.Changes():
		t.Fatalf("unexpected change %q", change)
	case <-time.After(200 * time.Millisecond):
	}

	// reverting to the previous text is a change
	err = os.WriteFile(path, []byte("initial"), 0644)
	assert.Equal(t, err, nil)
	select {
	case change := <-buffer.Changes():
		assert.Equal(t, change, "initial")
	case <-time.After(testTimeout):
		t.Fatal("timeout")
	}
}

func TestFileBufferRemoved(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	path := filepath.Join(t.TempDir(), "tree.js")
	buffer, err := OpenFileBuffer(ctx, path, "initial", testFileBufferSettings())
	assert.Equal(t, err, nil)

	err = os.Remove(path)
	assert.Equal(t, err, nil)
	select {
	case <-buffer.Done():
	case <-time.After(testTimeout):
		t.Fatal("timeout")
	}

	assert.Equal(t, buffer.Replace("late"), ErrClosed)
}
