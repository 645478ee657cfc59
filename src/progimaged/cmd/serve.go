package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/grpc-ecosystem/grpc-gateway/v2/runtime"
	"github.com/progimage/progimage/src/pkg/convert"
	"github.com/progimage/progimage/src/pkg/events"
	"github.com/progimage/progimage/src/pkg/images"
	"github.com/progimage/progimage/src/pkg/images/storage"
	localUtils "github.com/progimage/progimage/src/pkg/utils"
	"github.com/progimage/progimage/src/progimaged/cmd/utils"
	"github.com/spf13/cobra"
	httpSwagger "github.com/swaggo/http-swagger/v2"
)

const (
	uploadsDir      = "uploads"
	indexDir        = "index"
	shutdownTimeout = 10 * time.Second
)

type server struct {
	http  *http.Server
	svc   *images.Service
	blobs *storage.LocalBlobStore
	index *storage.BadgerIndex
	hub   *events.Hub
}

func newServer(config *localUtils.Config) (*server, error) {
	blobs, blobsErr := storage.NewLocalBlobStore(filepath.Join(config.Root, uploadsDir))
	if blobsErr != nil {
		return nil, blobsErr
	}

	index, indexErr := storage.NewBadgerIndex(filepath.Join(config.Root, indexDir))
	if indexErr != nil {
		return nil, indexErr
	}

	codec := convert.NewCodec(
		convert.WithJPEGQuality(config.JPEGQuality),
		convert.WithWebPQuality(config.WebPQuality))
	engine := convert.NewEngine(codec, config.Workers)
	slog.Debug("Conversion engine ready", "workers", engine.Workers())

	hub := events.NewHub()
	svc := images.NewService(blobs, index, engine, images.WithNotifier(hub))

	handler, handlerErr := images.CreateHandler(svc,
		images.WithMaxUploadBytes(config.MaxUploadBytes),
		images.WithConvertTimeout(config.ConvertTimeout))
	if handlerErr != nil {
		return nil, errors.Join(handlerErr, index.Close())
	}

	mux := runtime.NewServeMux()
	if err := handler.Register(mux, utils.PathPrefix); err != nil {
		return nil, errors.Join(err, index.Close())
	}
	if err := mux.HandlePath(http.MethodGet, utils.PathPrefix+"/events", func(w http.ResponseWriter, r *http.Request, pathParams map[string]string) {
		hub.ServeHTTP(w, r)
	}); err != nil {
		slog.Warn("Adding endpoint for record events failed", "error", err)
	}

	specs, specsErr := utils.GenerateOpenAPISpecs()
	if specsErr != nil {
		slog.Warn("OpenAPI specs unavailable", "error", specsErr)
	} else if err := mux.HandlePath(http.MethodGet, utils.PathPrefix+"/openapi.yaml", func(w http.ResponseWriter, r *http.Request, pathParams map[string]string) {
		w.Header().Set("Content-Type", "application/yaml")
		if _, err := w.Write([]byte(specs)); err != nil {
			slog.Warn("Failed to write OpenAPI specs", "error", err)
		}
	}); err != nil {
		slog.Warn("Adding endpoint for OpenAPI specs failed", "error", err)
	}

	root := http.NewServeMux()
	root.Handle("/docs/", httpSwagger.Handler(httpSwagger.URL(utils.PathPrefix+"/openapi.yaml")))
	root.Handle("/", mux)

	return &server{
		http: &http.Server{
			Addr:              fmt.Sprintf(":%d", config.Port),
			Handler:           root,
			ReadHeaderTimeout: 10 * time.Second,
		},
		svc:   svc,
		blobs: blobs,
		index: index,
		hub:   hub,
	}, nil
}

func (s *server) close() error {
	s.hub.Close()
	return s.index.Close()
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Starts the image HTTP service",
	RunE: func(cmd *cobra.Command, args []string) (retErr error) {
		configPath, configPathErr := cmd.Flags().GetString("config")
		if configPathErr != nil {
			return fmt.Errorf("failed to get config: %w", configPathErr)
		}

		config, configErr := localUtils.ReadConfig(configPath)
		if configErr != nil {
			return fmt.Errorf("wrong config file format: %w", configErr)
		}
		slog.Debug("Read config", "config", config)

		srv, srvErr := newServer(config)
		if srvErr != nil {
			return fmt.Errorf("failed to create server: %w", srvErr)
		}
		defer func() {
			if closeErr := srv.close(); closeErr != nil {
				retErr = errors.Join(retErr, closeErr)
			}
		}()

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		if config.Watch {
			go func() {
				if watchErr := images.Watch(ctx, srv.svc, srv.blobs.Root()); watchErr != nil {
					slog.Warn("Blob watcher stopped", "error", watchErr)
				}
			}()
		}

		// Report and heal whatever changed on disk while the service was down.
		if records, listErr := srv.svc.List(ctx); listErr != nil {
			slog.Warn("Initial consistency pass failed", "error", listErr)
		} else {
			slog.Info("Index loaded", "images", len(records))
		}

		serveErr := make(chan error, 1)
		go func() {
			slog.Info("Listening", "addr", srv.http.Addr)
			serveErr <- srv.http.ListenAndServe()
		}()

		select {
		case err := <-serveErr:
			if !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("failed to serve: %w", err)
			}
			return nil
		case <-ctx.Done():
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		srv.hub.Close()
		if shutdownErr := srv.http.Shutdown(shutdownCtx); shutdownErr != nil {
			return fmt.Errorf("failed to shut down: %w", shutdownErr)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringP("config", "c", "", "Path to service's config file")
}
