package main

import (
	"os"

	"github.com/plenariolabs/plenario/internal/admin/cli"
)

func main() {
	os.Exit(int(cli.Run()))
}
