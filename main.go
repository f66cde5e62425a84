// The main package for the nfce-scraper executable.
package main

import (
	"github.com/wendelpaco/nfce-scraper-service/cmd"
)

func main() {
	cmd.Execute()
}
