// Command striptls-gate runs the STARTTLS downgrade audit proxy.
package main

import "github.com/striptls-gate/striptls-gate/cmd/striptls-gate/cmd"

func main() {
	cmd.Execute()
}
