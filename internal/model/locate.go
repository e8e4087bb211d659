package model

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	jsoniter "github.com/json-iterator/go"
	"github.com/viant/afs"
	"github.com/viant/afs/option"
	_ "github.com/viant/afsc/s3"
)

var fileSystem = afs.New()

const partSize = 64 * 1024 * 1024

// IsRemote reports whether location needs staging before it can be mapped.
func IsRemote(location string) bool {
	i := strings.Index(location, "://")
	return i > 0 && !strings.HasPrefix(location, "file://")
}

// JoinLocation joins a directory or URL with a file name, keeping the
// double slash of URL schemes intact.
func JoinLocation(dir, name string) string {
	if dir == "" {
		return name
	}
	if IsRemote(dir) {
		return strings.TrimSuffix(dir, "/") + "/" + strings.TrimPrefix(name, "/")
	}
	return filepath.Join(strings.TrimPrefix(dir, "file://"), name)
}

// LocateAsset finds name under dir and returns a local path that can be
// mapped. Remote assets are copied into cacheDir first.
func LocateAsset(ctx context.Context, dir, name, cacheDir string) (string, error) {
	location := JoinLocation(dir, name)

	if !IsRemote(location) {
		abs, err := filepath.Abs(location)
		if err != nil {
			return "", err
		}
		info, err := os.Stat(abs)
		if err != nil {
			return "", err
		}
		if info.IsDir() {
			return "", fmt.Errorf("%s is a directory", abs)
		}
		return abs, nil
	}

	ok, err := fileSystem.Exists(ctx, location)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", fmt.Errorf("%s: %w", location, fs.ErrNotExist)
	}

	if cacheDir == "" {
		cacheDir = filepath.Join(os.TempDir(), "mnist-pad")
	}
	if err := os.MkdirAll(cacheDir, 0o755); err != nil {
		return "", err
	}
	dest, err := filepath.Abs(filepath.Join(cacheDir, filepath.Base(name)))
	if err != nil {
		return "", err
	}
	err = fileSystem.Copy(ctx, location, dest,
		option.NewSource(option.NewStream(partSize, 0)),
		option.NewDest(option.NewSkipChecksum(true)))
	if err != nil {
		return "", fmt.Errorf("staging %s: %w", location, err)
	}
	return dest, nil
}

// LoadMetadata reads the JSON sidecar at location. Local paths and any
// URL scheme the file system understands are accepted.
func LoadMetadata(ctx context.Context, location string) (meta *Metadata, err error) {
	if !IsRemote(location) {
		if location, err = filepath.Abs(location); err != nil {
			return nil, err
		}
	}
	reader, err := fileSystem.OpenURL(ctx, location)
	if err != nil {
		return nil, fmt.Errorf("failed to read metadata: %w", err)
	}
	defer func() {
		err = errors.Join(err, reader.Close())
	}()

	buf := &bytes.Buffer{}
	if _, err := io.Copy(buf, reader); err != nil {
		return nil, fmt.Errorf("failed to read metadata: %w", err)
	}

	meta = &Metadata{}
	if err := jsoniter.Unmarshal(buf.Bytes(), meta); err != nil {
		return nil, fmt.Errorf("failed to parse metadata: %w", err)
	}
	return meta, nil
}
