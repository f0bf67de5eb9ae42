// Package main is the entrypoint for an extension worker process. The host
// starts it with WORKER_SESSION set; it is not meant to be run by hand.
package main

import (
	"fmt"
	"log"
	"os"

	"github.com/morezero/extension-workers/internal/server"
)

const usage = `Usage: extension-worker

Joins the host session named by WORKER_SESSION over COMMS_URL, loads the
extension the host allocates to it and serves its blocks until the host or
the connection goes away.

Environment: WORKER_SESSION (required), COMMS_URL, WIRE_CODEC, LOG_LEVEL.
`

func main() {
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "help", "-h", "--help":
			fmt.Print(usage)
			return
		default:
			fmt.Fprintf(os.Stderr, "Unknown argument %q.\n%s", os.Args[1], usage)
			os.Exit(1)
		}
	}
	if err := server.RunWorker(); err != nil {
		log.Fatalf("extension-worker: %v", err)
	}
}
