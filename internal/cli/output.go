package cli

import "os"

// stdout is where command output goes.
var stdout = os.Stdout
