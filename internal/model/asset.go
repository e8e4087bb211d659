package model

import (
	"errors"
	"fmt"
	"os"
	"sync"
)

// Asset is a model file mapped read-only into memory.
type Asset struct {
	Path string

	mu    sync.Mutex
	data  []byte
	unmap func([]byte) error
}

// OpenAsset maps the file at path without copying it.
func OpenAsset(path string) (*Asset, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, err
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%s is a directory", path)
	}
	if info.Size() == 0 {
		return nil, errors.New("asset is empty")
	}

	data, unmap, err := mapFile(f, int(info.Size()))
	if err != nil {
		return nil, err
	}
	return &Asset{Path: path, data: data, unmap: unmap}, nil
}

// Bytes returns the mapped contents. The slice is invalid after Close.
func (a *Asset) Bytes() []byte {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.data
}

func (a *Asset) Len() int {
	return len(a.Bytes())
}

// Close releases the mapping. It is safe to call more than once.
func (a *Asset) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.data == nil {
		return nil
	}
	err := a.unmap(a.data)
	a.data = nil
	return err
}
