// Command cloudsentry runs security and compliance scans against cloud
// provider accounts and manages the resulting findings.
package main

func main() {
	Execute()
}
