// SPDX-License-Identifier: MPL-2.0

package main

import cmd "github.com/postmir/postmir-update/cmd/postmir-update"

func main() {
	cmd.Execute()
}
