// This program performs administrative tasks for a mix node.
package main

import (
	"fmt"
	"os"

	"github.com/ardanlabs/mixnode/app/tooling/admin/cmd"
	"github.com/ardanlabs/mixnode/foundation/logger"
)

// build is the git version of this program. It is set using build flags in the makefile.
var build = "develop"

func main() {

	// Construct the application logger. Everything the commands print goes
	// to stdout, the logger is only used by the storage layer.
	log, err := logger.New("ADMIN", "stderr")
	if err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
	defer log.Sync()

	if err := cmd.Execute(build, log); err != nil {
		log.Sync()
		os.Exit(1)
	}
}
