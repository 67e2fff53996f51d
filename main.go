// Command runcard reads distance, runs, pace and elapsed time from
// running-app screenshots, as a CLI, an HTTP API, a directory watcher or a
// queue worker.
package main

import (
	"fmt"
	"os"

	"runcard/config"
)

func main() {
	// .env goes first so RUNCARD_* values in it reach viper
	if err := config.LoadDotEnv(); err != nil {
		fmt.Fprintln(os.Stderr, err)
	}
	Execute()
}
