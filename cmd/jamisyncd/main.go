package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/savoirfairelinux/jami-client-android-sub001/internal/profile"
	"github.com/savoirfairelinux/jami-client-android-sub001/internal/syncd"
	"go.uber.org/fx"
)

func main() {
	profileFlag := flag.String("profile", "", "profile name (overrides config default)")
	configFlag := flag.String("config", "", "config file path (.toml, .yaml or .yml)")
	flag.Parse()

	name := profile.Resolve(*profileFlag)
	if err := profile.ValidateName(name); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	app := fx.New(
		syncd.Module(syncd.Params{Profile: name, ConfigPath: *configFlag}),
	)

	app.Run()
}
