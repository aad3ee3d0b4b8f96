// Command linux-entra-sso is the native messaging host of the Linux Entra
// SSO browser extension. Started by the browser it relays extension requests
// to the Microsoft identity broker over the session bus. With --interactive
// it runs a single command and prints the result.
package main

import "os"

func main() {
	os.Exit(run(os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}
