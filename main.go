package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/alecthomas/kong"
	"github.com/hauke96/sigolo/v2"

	"github.com/substack/osmpbf/index"
	ownIo "github.com/substack/osmpbf/io"
	"github.com/substack/osmpbf/query"
	"github.com/substack/osmpbf/web"
)

const VERSION = "v0.1.0"

var cli struct {
	Logging string      `help:"Logging verbosity." enum:"info,debug,trace" short:"l" default:"info"`
	Version VersionFlag `help:"Print version information and quit" name:"version" short:"v"`
	Extract struct {
		Input  string `help:"The input file. Must be an .osm.pbf file." placeholder:"<input-file>" arg:"" type:"existingfile"`
		Filter string `help:"The way filter, e.g. 'building=yes'." placeholder:"<filter>" arg:""`
		Output string `help:"The GeoJSON output file. Writes to stdout when omitted." short:"o" default:""`
	} `cmd:"" help:"Extracts all ways matching the filter, plus the nodes they consist of, as GeoJSON."`
	Server struct {
		Input string `help:"The input file. Must be an .osm.pbf file." placeholder:"<input-file>" arg:"" type:"existingfile"`
		Port  string `help:"The port to listen on." short:"p" default:"8080"`
	} `cmd:"" help:"Starts an HTTP server answering filter queries on the given file."`
}

type VersionFlag string

func (v VersionFlag) Decode(ctx *kong.DecodeContext) error { return nil }
func (v VersionFlag) IsBool() bool                         { return true }
func (v VersionFlag) BeforeApply(app *kong.Kong, vars kong.Vars) error {
	fmt.Println(vars["version"])
	app.Exit(0)
	return nil
}

func main() {
	ctx := kong.Parse(
		&cli,
		kong.Name("osmpbf"),
		kong.Description("Indexed queries on OSM PBF files: filter ways and get their dependent nodes."),
		kong.Vars{
			"version": VERSION,
		},
	)

	if strings.ToLower(cli.Logging) == "debug" {
		sigolo.SetDefaultLogLevel(sigolo.LOG_DEBUG)
	} else if strings.ToLower(cli.Logging) == "trace" {
		sigolo.SetDefaultLogLevel(sigolo.LOG_TRACE)
	} else if strings.ToLower(cli.Logging) == "info" {
		sigolo.SetDefaultLogLevel(sigolo.LOG_INFO)
		sigolo.SetDefaultFormatFunctionAll(sigolo.LogPlain)
	} else {
		sigolo.SetDefaultFormatFunctionAll(sigolo.LogPlain)
		sigolo.Fatalf("Unknown logging level '%s'", cli.Logging)
	}

	switch ctx.Command() {
	case "extract <input> <filter>":
		extract(cli.Extract.Input, cli.Extract.Filter, cli.Extract.Output)
	case "server <input>":
		web.StartServer(cli.Server.Port, cli.Server.Input)
	default:
		sigolo.Errorf("Unknown command '%s'", ctx.Command())
	}
}

func extract(input string, filter string, output string) {
	filterExpression, err := query.ParseFilter(filter)
	sigolo.FatalCheck(err)

	sigolo.Debug("Using filter:")
	filterExpression.Print(2)

	reader, err := index.NewIndexedReaderFromPath(input)
	sigolo.FatalCheck(err)
	defer func() {
		sigolo.FatalCheck(reader.Close())
	}()

	collector := ownIo.NewCollector()
	err = reader.ReadWaysAndDeps(filterExpression.Applies, collector.VisitElement)
	sigolo.FatalCheck(err)

	sigolo.Debugf("Found %d ways and %d nodes", len(collector.Ways), len(collector.Nodes))

	if output == "" {
		err = ownIo.WriteGeoJson(collector, os.Stdout)
	} else {
		err = ownIo.WriteGeoJsonFile(collector, output)
	}
	sigolo.FatalCheck(err)
}
