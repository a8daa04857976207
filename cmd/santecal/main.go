package main

import (
	"os"

	appLog "santecal/internal/log"
)

func main() {
	defer appLog.Sync()

	if err := Execute(); err != nil {
		appLog.Error("santecal failed", err)
		appLog.Sync()
		os.Exit(1)
	}
}
