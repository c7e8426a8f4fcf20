// Copyright 2020-2022 The OS-NVR Authors.
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation; either version 2 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

// Package nvr wires the recording pipeline, the metadata store, retention,
// and the HTTP surface into one running process. See DESIGN.md for why
// this carries no addon system, auth, groups, templating, or HLS.
package nvr

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"sync"
	"syscall"
	"time"

	"nvr/pkg/camera"
	"nvr/pkg/db"
	"nvr/pkg/env"
	"nvr/pkg/log"
	"nvr/pkg/pipeline"
	"nvr/pkg/retention"
	"nvr/pkg/web"
)

// NewSourceFunc builds the VideoSource for one camera's configuration. The
// concrete RTSP/RTP demuxer lives outside this package; callers of Run
// supply it rather than this package owning a transport stack.
type NewSourceFunc func(cfg camera.Config) pipeline.VideoSource

// Run starts the process: loads env.yaml and cameras.yaml, opens the
// metadata store, starts one pipeline.Worker per camera, and serves the
// HTTP routes until an interrupt or fatal error.
func Run(envPath string, newSource NewSourceFunc) error {
	wg := &sync.WaitGroup{}
	app, err := newApp(envPath, wg, newSource)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	fatal := make(chan error, 1)
	go func() { fatal <- app.run(ctx) }()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err = <-fatal:
		app.Logger.Error().Src("app").Msgf("fatal error: %v", err)
	case sig := <-stop:
		app.Logger.Info().Src("app").Msgf("received %v, stopping", sig)
	}

	cancel()
	wg.Wait()

	ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel2()

	if err != nil {
		return err
	}
	return app.server.Shutdown(ctx2)
}

func newApp(envPath string, wg *sync.WaitGroup, newSource NewSourceFunc) (*App, error) {
	absEnvPath, err := filepath.Abs(envPath)
	if err != nil {
		return nil, fmt.Errorf("nvr: absolute path of env.yaml: %w", err)
	}

	envYAML, err := os.ReadFile(absEnvPath)
	if err != nil {
		return nil, fmt.Errorf("nvr: read env.yaml: %w", err)
	}
	envConfig, err := env.NewConfigEnv(absEnvPath, envYAML)
	if err != nil {
		return nil, fmt.Errorf("nvr: parse env.yaml: %w", err)
	}
	if err := envConfig.PrepareEnvironment(); err != nil {
		return nil, fmt.Errorf("nvr: prepare environment: %w", err)
	}

	logger, err := log.NewLogger(envConfig.LogDBPath(), wg)
	if err != nil {
		return nil, fmt.Errorf("nvr: create logger: %w", err)
	}
	logDB := log.NewDB(envConfig.LogArchiveDBPath(), wg)

	store, err := db.Open(envConfig.DBPath())
	if err != nil {
		return nil, fmt.Errorf("nvr: open metadata store: %w", err)
	}

	camerasYAML, err := os.ReadFile(filepath.Join(envConfig.ConfigDir, "cameras.yaml"))
	if err != nil {
		return nil, fmt.Errorf("nvr: read cameras.yaml: %w", err)
	}
	cameras, err := camera.LoadConfigs(camerasYAML)
	if err != nil {
		return nil, fmt.Errorf("nvr: parse cameras.yaml: %w", err)
	}

	// Reconcile: every camera named in cameras.yaml is upserted into the
	// store. Cameras removed from the file are left untouched — their
	// recordings must not dangle — and simply stop being recorded.
	for _, c := range cameras {
		if _, err := store.UpsertCamera(db.CameraRow{
			UUID:         c.UUID,
			ShortName:    c.ShortName,
			Description:  c.Description,
			Host:         c.Host,
			Username:     c.Username,
			Password:     c.Password,
			MainRTSPPath: c.MainRTSPPath,
			RetainBytes:  c.RetainBytes,
		}); err != nil {
			return nil, fmt.Errorf("nvr: reconcile camera %v: %w", c.ShortName, err)
		}
	}

	sampleDir := envConfig.SampleFileDir()
	if err := retention.CleanupStartupReservations(store, sampleDir); err != nil {
		return nil, fmt.Errorf("nvr: cleanup startup reservations: %w", err)
	}

	workers := make([]*pipeline.Worker, len(cameras))
	for i, c := range cameras {
		workers[i] = &pipeline.Worker{
			Camera:    c,
			Store:     store,
			SampleDir: sampleDir,
			Source:    newSource(c),
			Logger:    logger,
			WG:        wg,
			Index:     i,
			N:         len(cameras),
		}
	}

	mux := http.NewServeMux()
	mux.Handle("/", web.CameraIndex(store))
	mux.Handle("/api/cameras", web.CameraIndex(store))
	mux.Handle("/cameras/", cameraRouter(store, sampleDir, logger))
	mux.Handle("/api/camera/set", web.CameraSet(store))
	mux.Handle("/api/log/query", web.LogQuery(logDB))

	return &App{
		WG:      wg,
		Logger:  logger,
		logDB:   logDB,
		Store:   store,
		Env:     *envConfig,
		Workers: workers,
		Mux:     mux,
	}, nil
}

// cameraRouter dispatches the three /cameras/{uuid}/... routes: the path
// shape is fixed (overview, recordings, view.mp4) so a small manual switch
// replaces a routing library, keeping to plain http.ServeMux throughout.
func cameraRouter(store *db.DB, sampleDir string, logger *log.Logger) http.Handler {
	overview := web.CameraOverview(store)
	recordings := web.CameraRecordings(store)
	viewMP4 := web.CameraViewMP4(store, sampleDir, logger)

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case len(r.URL.Path) >= len("/recordings") && r.URL.Path[len(r.URL.Path)-len("/recordings"):] == "/recordings":
			recordings.ServeHTTP(w, r)
		case len(r.URL.Path) >= len("/view.mp4") && r.URL.Path[len(r.URL.Path)-len("/view.mp4"):] == "/view.mp4":
			viewMP4.ServeHTTP(w, r)
		default:
			overview.ServeHTTP(w, r)
		}
	})
}

// App is the running process's top-level dependencies.
type App struct {
	WG      *sync.WaitGroup
	Logger  *log.Logger
	logDB   *log.DB
	Store   *db.DB
	Env     env.ConfigEnv
	Workers []*pipeline.Worker
	Mux     *http.ServeMux
	server  *http.Server
}

func (app *App) run(ctx context.Context) error {
	app.server = &http.Server{Addr: ":" + strconv.Itoa(app.Env.Port), Handler: app.Mux}

	if err := app.Logger.Start(ctx); err != nil {
		return fmt.Errorf("nvr: start logger: %w", err)
	}
	go app.Logger.LogToStdout(ctx)

	if err := app.logDB.Init(ctx); err != nil {
		// Continue without query history rather than fail startup over it.
		app.Logger.Error().Src("app").Msgf("could not initialize log archive: %v", err)
	} else {
		go app.logDB.SaveLogs(ctx, app.Logger)
	}

	for _, worker := range app.Workers {
		app.WG.Add(1)
		go worker.Run(ctx)
	}

	app.Logger.Info().Src("app").Msgf("serving on port %v", app.Env.Port)
	if err := app.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}
