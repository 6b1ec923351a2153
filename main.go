// Package main is the entry point of vulnlsp, a language server reporting known vulnerabilities
// of Cargo and Maven dependencies.
package main

import "github.com/ortelius/vulnlsp/cmd"

func main() {
	cmd.Execute()
}
