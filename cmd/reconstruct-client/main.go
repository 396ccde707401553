// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Command reconstruct-client streams images into the reconstruction
// service and saves the artifacts it gets back.
//
// The default mode creates a session, streams the given image files,
// finalizes, and writes the final artifact (plus any incremental
// previews) to the output directory. Every artifact is decompressed
// and verified against its BLAKE3 hash before it is written.
//
//	reconstruct-client --socket /run/reconstruct/service.sock \
//	    --out ./artifacts --auto-generate-every 5 frames/*.png
//
// --list, --stats, and --delete run the corresponding admin request
// instead.
package main

import (
	"fmt"
	"net"
	"os"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/reconstruct/lib/wire"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		socketPath        string
		outputDir         string
		listSessions      bool
		showStats         bool
		deleteSession     string
		resolution        int
		maxPoints         int64
		autoGenerateEvery int
		incremental       bool
	)
	pflag.StringVar(&socketPath, "socket", "/run/reconstruct/service.sock", "service Unix socket")
	pflag.StringVar(&outputDir, "out", ".", "directory for saved artifacts")
	pflag.BoolVar(&listSessions, "list", false, "list live sessions and exit")
	pflag.BoolVar(&showStats, "stats", false, "show session statistics and exit")
	pflag.StringVar(&deleteSession, "delete", "", "delete the given session and exit")
	pflag.IntVar(&resolution, "resolution", 0, "working resolution (0: service default)")
	pflag.Int64Var(&maxPoints, "max-points", 0, "artifact point cap (0: service default)")
	pflag.IntVar(&autoGenerateEvery, "auto-generate-every", 0,
		"ask the service for an incremental preview after every N images (0: disabled)")
	pflag.BoolVar(&incremental, "incremental", false,
		"request one incremental preview before finalizing")
	pflag.Parse()

	switch {
	case listSessions:
		return runList(socketPath)
	case showStats:
		return runStats(socketPath)
	case deleteSession != "":
		return runDelete(socketPath, deleteSession)
	}

	images := pflag.Args()
	if len(images) == 0 {
		return fmt.Errorf("no image files given")
	}

	return runStream(streamOptions{
		socketPath: socketPath,
		outputDir:  outputDir,
		images:     images,
		config: wire.SessionConfig{
			Resolution:        resolution,
			MaxPoints:         maxPoints,
			AutoGenerateEvery: autoGenerateEvery,
		},
		incremental: incremental,
	})
}

// dial connects to the service socket.
func dial(socketPath string) (net.Conn, error) {
	conn, err := net.Dial("unix", socketPath)
	if err != nil {
		return nil, fmt.Errorf("connecting to %s: %w", socketPath, err)
	}
	return conn, nil
}

// adminRequest performs one one-shot request and decodes the reply
// into response. A wire.ErrorResponse reply is surfaced as an error.
func adminRequest(socketPath string, request, response any) error {
	conn, err := dial(socketPath)
	if err != nil {
		return err
	}
	defer conn.Close()

	if err := wire.WriteMessage(conn, request); err != nil {
		return err
	}

	raw, err := wire.ReadRaw(conn, wire.MaxControlSize)
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}
	if err := decodeAdminReply(raw, response); err != nil {
		return err
	}
	return nil
}
