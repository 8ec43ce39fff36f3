// fakemesh CLI - a fake MESH mailbox server for integration testing
package main

import "github.com/getmockd/fakemesh/pkg/cli"

func main() {
	cli.Execute()
}
