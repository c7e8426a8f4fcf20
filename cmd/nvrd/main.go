// Command nvrd runs the recording daemon: one pipeline.Worker per camera
// in cameras.yaml plus the HTTP routes that serve them. A plain
// flag.Parse + nvr.Run entrypoint — see DESIGN.md for why this replaces a
// more elaborate build-time wrapper.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"

	"nvr"
	"nvr/pkg/camera"
	"nvr/pkg/pipeline"
)

func main() {
	envFlag := flag.String("env", "", "path to env.yaml")
	flag.Parse()

	if *envFlag == "" {
		flag.Usage()
		os.Exit(2)
	}

	if err := nvr.Run(*envFlag, newUnconfiguredSource); err != nil {
		log.Fatal(err)
	}
}

// errSourceUnconfigured is returned by every unconfiguredSource.Open call.
// RTSP/RTP reception is left to an external demuxer: deployers wire their
// own pipeline.VideoSource implementation in place of newUnconfiguredSource
// before running this binary against real cameras.
var errSourceUnconfigured = errors.New("nvrd: no VideoSource wired for this camera")

func newUnconfiguredSource(cfg camera.Config) pipeline.VideoSource {
	return &unconfiguredSource{camera: cfg.ShortName}
}

type unconfiguredSource struct{ camera string }

func (s *unconfiguredSource) Open(context.Context) ([]byte, uint16, uint16, error) {
	return nil, 0, 0, fmt.Errorf("%s: %w", s.camera, errSourceUnconfigured)
}

func (s *unconfiguredSource) ReadPacket(context.Context) (pipeline.Packet, error) {
	return pipeline.Packet{}, errSourceUnconfigured
}

func (s *unconfiguredSource) Close() {}
