package main

import (
	"fmt"
	"os"

	"github.com/fulldump/goconfig"
	"github.com/go-json-experiment/json"
	"github.com/go-json-experiment/json/jsontext"

	"github.com/fulldump/unikv/bootstrap"
	"github.com/fulldump/unikv/configuration"
	"github.com/fulldump/unikv/log"
)

func main() {

	c := configuration.Default()
	goconfig.Read(&c)

	if c.Version {
		fmt.Println("Version:", bootstrap.VERSION)
		return
	}

	if c.ShowConfig {
		json.MarshalWrite(os.Stdout, c, jsontext.WithIndent("    "))
		fmt.Println()
	}

	level, err := log.ParseLogLevel(c.LogLevel)
	if err != nil {
		fmt.Fprintln(os.Stderr, "ERROR:", err.Error())
		os.Exit(-1)
	}
	logType := log.ConsoleLogger
	if c.LogJSON {
		logType = log.JSONLogger
	}
	log.Init(log.Options{LogLevel: level, Type: logType})

	start, _, err := bootstrap.Bootstrap(&c)
	if err != nil {
		log.Root.Error().Err(err).Msg("bootstrap")
		os.Exit(-1)
	}

	if err := start(); err != nil {
		log.Root.Error().Err(err).Msg("stopped")
		os.Exit(1)
	}
}
