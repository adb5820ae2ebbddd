// ./main.go
package main

import (
	"github.com/xkilldash9x/domquery/cmd"
)

func main() {
	cmd.Execute()
}
