// Command dapctl is the dev/bring-up CLI for the probe core: it drives the
// in-process dispatcher against a built-in target simulator, exercises a
// real CMSIS-DAP device from the host side for differential testing, and
// runs the auxiliary UART bridge.
package main

import "github.com/cherrylink/dapfw/cmd/dapctl/cmd"

func main() {
	cmd.Execute()
}
