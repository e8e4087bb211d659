package main

import (
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/urfave/cli/v2"

	"github.com/Brownie44l1/mnist-pad/internal/backends/goengine"
	"github.com/Brownie44l1/mnist-pad/internal/backends/ortengine"
	"github.com/Brownie44l1/mnist-pad/internal/backends/tfliteengine"
	"github.com/Brownie44l1/mnist-pad/internal/handlers"
	"github.com/Brownie44l1/mnist-pad/internal/log"
	"github.com/Brownie44l1/mnist-pad/internal/model"
)

var (
	assetDir      string
	modelName     string
	metadataPath  string
	cacheDir      string
	runtimeName   string
	accelerate    bool
	threads       int
	ortLibrary    string
	interpolation string
	queueSize     int
	logLevel      string
	logFormat     string
	port          string
	timeout       time.Duration
)

var modelFlags = []cli.Flag{
	&cli.StringFlag{
		Name:        "assets",
		Usage:       "Directory or URL holding the model asset",
		Aliases:     []string{"a"},
		EnvVars:     []string{"MNIST_ASSET_DIR"},
		Value:       "assets",
		Destination: &assetDir,
	},
	&cli.StringFlag{
		Name:        "model",
		Usage:       "File name of the model asset",
		Aliases:     []string{"m"},
		EnvVars:     []string{"MNIST_MODEL"},
		Value:       model.DefaultModelName,
		Destination: &modelName,
	},
	&cli.StringFlag{
		Name:        "metadata",
		Usage:       "Optional JSON sidecar with class names and input shape",
		EnvVars:     []string{"MNIST_METADATA"},
		Destination: &metadataPath,
	},
	&cli.StringFlag{
		Name:        "cache",
		Usage:       "Where remote assets are staged before mapping",
		EnvVars:     []string{"MNIST_CACHE_DIR"},
		Destination: &cacheDir,
	},
	&cli.StringFlag{
		Name:        "runtime",
		Usage:       "Inference runtime: TFLITE, ORT or GO. Picked from the model extension when empty",
		Aliases:     []string{"r"},
		EnvVars:     []string{"MNIST_RUNTIME"},
		Destination: &runtimeName,
	},
	&cli.BoolFlag{
		Name:        "accelerate",
		Usage:       "Try a hardware delegate before default execution",
		EnvVars:     []string{"MNIST_ACCELERATE"},
		Value:       true,
		Destination: &accelerate,
	},
	&cli.IntFlag{
		Name:        "threads",
		Usage:       "Inference threads, 0 for the runtime default",
		EnvVars:     []string{"MNIST_THREADS"},
		Destination: &threads,
	},
	&cli.StringFlag{
		Name:        "onnxruntimeSharedLibrary",
		Usage:       "Path to the onnxruntime shared library",
		Aliases:     []string{"s"},
		EnvVars:     []string{"ONNXRUNTIME_LIB"},
		Destination: &ortLibrary,
	},
	&cli.StringFlag{
		Name:        "interpolation",
		Usage:       "Resampling used to fit drawings to the model: bilinear, bicubic, mitchell, lanczos2, lanczos3",
		EnvVars:     []string{"MNIST_INTERPOLATION"},
		Value:       "bilinear",
		Destination: &interpolation,
	},
	&cli.IntFlag{
		Name:        "queue",
		Usage:       "Requests that may wait for the worker",
		EnvVars:     []string{"MNIST_QUEUE"},
		Value:       model.DefaultQueueSize,
		Destination: &queueSize,
	},
}

var serveCommand = &cli.Command{
	Name:  "serve",
	Usage: "Serve digit classification over HTTP",
	Flags: append([]cli.Flag{
		&cli.StringFlag{
			Name:        "port",
			Usage:       "Port to listen on",
			Aliases:     []string{"p"},
			EnvVars:     []string{"PORT"},
			Value:       "8080",
			Destination: &port,
		},
		&cli.DurationFlag{
			Name:        "timeout",
			Usage:       "How long a request waits for its result",
			EnvVars:     []string{"MNIST_TIMEOUT"},
			Value:       30 * time.Second,
			Destination: &timeout,
		},
	}, modelFlags...),
	Action: serve,
}

var classifyCommand = &cli.Command{
	Name:      "classify",
	Usage:     "Classify PNG or JPEG drawings",
	ArgsUsage: "[image ...]  (reads stdin when no file is given or the file is -)",
	Flags:     modelFlags,
	Action:    classify,
}

func newApp() *cli.App {
	return &cli.App{
		Name:  "mnist-pad",
		Usage: "Handwritten digit classification with a packaged MNIST model",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "log-level",
				EnvVars:     []string{"MNIST_LOG_LEVEL"},
				Value:       "info",
				Destination: &logLevel,
			},
			&cli.StringFlag{
				Name:        "log-format",
				Usage:       "text or json",
				EnvVars:     []string{"MNIST_LOG_FORMAT"},
				Value:       "text",
				Destination: &logFormat,
			},
		},
		Before: func(*cli.Context) error {
			log.Init(logLevel, logFormat)
			return nil
		},
		Commands: []*cli.Command{serveCommand, classifyCommand},
	}
}

func main() {
	if err := newApp().Run(os.Args); err != nil {
		log.Error("exiting", "error", err)
		os.Exit(1)
	}
}

func runtimes() model.Runtimes {
	return model.Runtimes{
		model.RuntimeTFLite: tfliteengine.Open,
		model.RuntimeORT:    ortengine.Open,
		model.RuntimeGo:     goengine.Open,
	}
}

func loaderConfig() (model.LoaderConfig, error) {
	interp, err := model.ParseInterpolation(interpolation)
	if err != nil {
		return model.LoaderConfig{}, err
	}
	cfg := model.DefaultLoaderConfig()
	cfg.AssetDir = assetDir
	cfg.ModelName = modelName
	cfg.MetadataPath = metadataPath
	cfg.CacheDir = cacheDir
	cfg.Runtime = runtimeName
	cfg.Runtimes = runtimes()
	cfg.Interpolation = interp
	cfg.Engine = model.EngineOptions{
		Accelerate:  accelerate,
		Threads:     threads,
		LibraryPath: ortLibrary,
	}
	return cfg, nil
}

func enableCORS(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "POST, GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next(w, r)
	}
}

func newMux(handler *handlers.Handler) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", enableCORS(handler.Health))
	mux.HandleFunc("/predict", enableCORS(handler.Predict))
	mux.HandleFunc("/predict/image", enableCORS(handler.PredictFromImage))
	return mux
}

func serve(c *cli.Context) error {
	cfg, err := loaderConfig()
	if err != nil {
		return err
	}

	classifier := model.NewClassifier(cfg, model.WithQueueSize(queueSize))
	defer func() {
		if _, err := classifier.Close().Get(); err != nil {
			log.Error("failed to release model", "error", err)
		}
	}()

	log.Info("loading model", "location", model.JoinLocation(cfg.AssetDir, cfg.ModelName))
	info, err := classifier.Initialize().Wait(c.Context)
	if err != nil {
		// Keep serving so /health reports the failure; predictions answer
		// with the not-initialized error.
		log.Error("failed to initialize model", "error", err)
	} else {
		log.Info("model ready", "runtime", info.Runtime, "input", info.Input.String(), "classes", info.Classes)
	}

	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           newMux(handlers.NewHandler(classifier, timeout)),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		log.Info("server starting", "port", port)
		log.Info("endpoints",
			"health", "GET /health",
			"predict", "POST /predict",
			"image", "POST /predict/image")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
		log.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func classify(c *cli.Context) error {
	cfg, err := loaderConfig()
	if err != nil {
		return err
	}

	inputs := c.Args().Slice()
	if len(inputs) == 0 {
		if isatty.IsTerminal(os.Stdin.Fd()) || isatty.IsCygwinTerminal(os.Stdin.Fd()) {
			return errors.New("no image given and stdin is a terminal")
		}
		inputs = []string{"-"}
	}

	classifier := model.NewClassifier(cfg, model.WithQueueSize(queueSize))
	var errs []error
	defer func() {
		if _, err := classifier.Close().Get(); err != nil {
			log.Error("failed to release model", "error", err)
		}
	}()

	if _, err := classifier.Initialize().Wait(c.Context); err != nil {
		return err
	}

	for _, input := range inputs {
		img, err := decodeInput(input)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", input, err))
			continue
		}
		result, err := classifier.Classify(img).Wait(c.Context)
		if err != nil {
			fmt.Fprintf(c.App.Writer, "%s\t%v\n", input, err)
			errs = append(errs, err)
			continue
		}
		fmt.Fprintf(c.App.Writer, "%s\t%s\n", input, result)
	}
	return errors.Join(errs...)
}

func decodeInput(input string) (image.Image, error) {
	var r io.Reader = os.Stdin
	if input != "-" {
		f, err := os.Open(filepath.Clean(input))
		if err != nil {
			return nil, err
		}
		defer f.Close()
		r = f
	}
	img, _, err := image.Decode(r)
	return img, err
}
