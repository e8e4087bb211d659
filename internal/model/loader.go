package model

import (
	"context"
	"errors"
	"fmt"

	"github.com/nfnt/resize"

	"github.com/Brownie44l1/mnist-pad/internal/log"
)

// DefaultModelName is the packaged model asset.
const DefaultModelName = "mnist_google.tflite"

// LoaderConfig says where the model lives and how to run it.
type LoaderConfig struct {
	// AssetDir is a local directory or a remote URL holding the model.
	AssetDir string
	// ModelName is the fixed file name of the model inside AssetDir.
	ModelName string
	// MetadataPath optionally points at a JSON sidecar with class names
	// and shapes for dynamic axes.
	MetadataPath string
	// CacheDir receives remote assets before they are mapped.
	CacheDir string
	// Runtime forces a backend; empty picks one from the file extension.
	Runtime       string
	Runtimes      Runtimes
	Engine        EngineOptions
	Interpolation resize.InterpolationFunction
}

func DefaultLoaderConfig() LoaderConfig {
	return LoaderConfig{
		AssetDir:      "assets",
		ModelName:     DefaultModelName,
		Engine:        EngineOptions{Accelerate: true},
		Interpolation: DefaultInterpolation,
	}
}

// Handle is a loaded model together with the mapped bytes backing it.
type Handle struct {
	Runtime  string
	Input    InputSpec
	Classes  int
	Metadata *Metadata

	asset  *Asset
	engine Engine
	pre    Preprocessor
}

// Load locates, maps and opens the model described by cfg.
func Load(ctx context.Context, cfg LoaderConfig) (*Handle, error) {
	if cfg.ModelName == "" {
		cfg.ModelName = DefaultModelName
	}
	runtime := cfg.Runtime
	if runtime == "" {
		runtime = RuntimeFor(cfg.ModelName)
	}
	if runtime == "" {
		return nil, &LoadError{Op: "select runtime", Path: cfg.ModelName, Err: errors.New("unknown model extension")}
	}

	var meta *Metadata
	if cfg.MetadataPath != "" {
		m, err := LoadMetadata(ctx, cfg.MetadataPath)
		if err != nil {
			return nil, &LoadError{Op: "read metadata", Path: cfg.MetadataPath, Err: err}
		}
		meta = m
	}

	path, err := LocateAsset(ctx, cfg.AssetDir, cfg.ModelName, cfg.CacheDir)
	if err != nil {
		return nil, &LoadError{Op: "locate", Path: JoinLocation(cfg.AssetDir, cfg.ModelName), Err: err}
	}

	asset, err := OpenAsset(path)
	if err != nil {
		return nil, &LoadError{Op: "map", Path: path, Err: err}
	}

	opts := cfg.Engine
	opts.ModelPath = path
	engine, err := cfg.Runtimes.Open(runtime, asset.Bytes(), opts)
	if err != nil {
		return nil, &LoadError{Op: "open engine", Path: path, Err: errors.Join(err, asset.Close())}
	}

	fail := func(err error) (*Handle, error) {
		closeErr := errors.Join(engine.Close(), asset.Close())
		return nil, &LoadError{Op: "read shapes", Path: path, Err: errors.Join(err, closeErr)}
	}
	input, err := ResolveInput(engine.InputShape(), meta)
	if err != nil {
		return fail(err)
	}
	classes, err := ResolveClasses(engine.OutputShape(), meta)
	if err != nil {
		return fail(err)
	}

	log.Info("model loaded",
		"path", path,
		"runtime", runtime,
		"input", input.String(),
		"classes", classes)

	return &Handle{
		Runtime:  runtime,
		Input:    input,
		Classes:  classes,
		Metadata: meta,
		asset:    asset,
		engine:   engine,
		pre:      Preprocessor{Input: input, Interpolation: cfg.Interpolation},
	}, nil
}

// Close releases the engine before unmapping the bytes it reads from.
func (h *Handle) Close() error {
	if h == nil {
		return nil
	}
	var errs []error
	if h.engine != nil {
		errs = append(errs, h.engine.Close())
		h.engine = nil
	}
	if h.asset != nil {
		errs = append(errs, h.asset.Close())
		h.asset = nil
	}
	return errors.Join(errs...)
}

func (h *Handle) ready() bool {
	return h != nil && h.engine != nil
}

// ClassName returns the metadata name of a class, if there is one.
func (h *Handle) ClassName(label int) string {
	if h.Metadata == nil || label < 0 || label >= len(h.Metadata.Classes) {
		return ""
	}
	return h.Metadata.Classes[label]
}

func (h *Handle) String() string {
	return fmt.Sprintf("%s model %s -> %d classes", h.Runtime, h.Input, h.Classes)
}
