package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"

	"sankeyhub/internal/app"
	"sankeyhub/internal/infrastructure"
	"sankeyhub/pkg/contracts"
)

func main() {
	showVersion := flag.Bool("version", false, "print version information and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(contracts.GetFullVersionString())
		return
	}

	if err := run(); err != nil {
		slog.Error("sankeyhub failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run() error {
	application, err := app.NewApplication()
	if err != nil {
		return err
	}
	defer infrastructure.CloseLogFile()

	return application.Run()
}
