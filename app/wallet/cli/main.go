// This program is a simple wallet for the node: it manages key files and
// signs and submits transactions.
package main

import "github.com/m-peko/tetherion/app/wallet/cli/cmd"

func main() {
	cmd.Execute()
}
