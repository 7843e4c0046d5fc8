package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/charmbracelet/log"
	"github.com/knadh/koanf"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/theckman/yacspin"

	yml "gopkg.in/yaml.v2"

	"github.jpl.nasa.gov/bdube/hsicam/cuvis"
	"github.jpl.nasa.gov/bdube/hsicam/sim"
)

var (
	// Version is the version number.  Typically injected via ldflags with git build
	Version = "1"

	// ConfigFileName is what it sounds like
	ConfigFileName = "hsirec.yml"
	k              = koanf.New(".")
)

type export struct {
	// Kind is one of cube, tiff, envi, view
	Kind             string `yaml:"Kind"`
	Dir              string `yaml:"Dir"`
	ChannelSelection string `yaml:"ChannelSelection"`
	AllowOverwrite   bool   `yaml:"AllowOverwrite"`
	Permissive       bool   `yaml:"Permissive"`

	// Userplugin is the view plugin for Kind view
	Userplugin string `yaml:"Userplugin"`
}

type config struct {
	LogLevel       string               `yaml:"LogLevel"`
	Settings       string               `yaml:"Settings"`
	ProcessingMode string               `yaml:"ProcessingMode"`
	Worker         cuvis.WorkerSettings `yaml:"Worker"`
	Export         export               `yaml:"Export"`

	// ProcessingDelay slows the simulated pipeline, for demonstrations
	ProcessingDelay time.Duration `yaml:"ProcessingDelay"`
}

func defaults() config {
	return config{
		LogLevel:       "warning",
		ProcessingMode: "Raw",
		Worker:         cuvis.DefaultWorkerSettings(),
		Export:         export{Kind: "cube", Dir: "export", ChannelSelection: "all"},
	}
}

func setupconfig() {
	k.Load(structs.Provider(defaults(), "koanf"), nil)
	if err := k.Load(file.Provider(ConfigFileName), yaml.Parser()); err != nil {
		errtxt := err.Error()
		if !strings.Contains(errtxt, "no such") { // file missing, who cares
			log.Fatal("loading config", "err", err)
		}
	}
}

func root() {
	str := `hsirec processes recorded session files through the SDK's worker pipeline
and exports the results

Usage:
	hsirec <command>

Commands:
	run <file.cu3s> [selection]
	help
	mkconf
	conf
	version`
	fmt.Println(str)
}

func help() {
	str := `hsirec is amenable to configuration via its .yml file.  For a primer on YAML, see
https://yaml.org/start.html

When no configuration is provided, the defaults are used.  Keys are not case-sensitive.
The command mkconf generates the configuration file with the default values.

The selection picks frames of the session, e.g. "0-9", "0-99:10", or "1,4,7".
It defaults to every frame.  Results go to Export.Dir in the format named by
Export.Kind: cube, tiff, envi, or view.

When Worker.CanSkipMeasurements or Worker.CanDropResults is set, frames can be
lost under load; hsirec reports how many at the end.`
	fmt.Println(str)
}

func mkconf() {
	c := config{}
	err := k.Unmarshal("", &c)
	if err != nil {
		log.Fatal(err)
	}
	f, err := os.Create(ConfigFileName)
	if err != nil {
		log.Fatal(err)
	}
	defer f.Close()
	err = yml.NewEncoder(f).Encode(c)
	if err != nil {
		log.Fatal(err)
	}
}

func printconf() {
	c := config{}
	err := k.Unmarshal("", &c)
	if err != nil {
		log.Fatal(err)
	}
	err = yml.NewEncoder(os.Stdout).Encode(c)
	if err != nil {
		log.Fatal(err)
	}
}

func pversion() {
	fmt.Printf("hsirec version %v\n", Version)
}

func run(args []string) {
	if len(args) == 0 {
		log.Fatal("run needs a session file")
	}
	selection := "*"
	if len(args) > 1 {
		selection = args[1]
	}
	cfg := config{}
	if err := k.Unmarshal("", &cfg); err != nil {
		log.Fatal("decoding config", "err", err)
	}

	lib, err := cuvis.Init(sim.New(sim.Options{ProcessingDelay: cfg.ProcessingDelay}), cfg.Settings)
	if err != nil {
		log.Fatal(err)
	}
	defer lib.Shutdown()
	if err = lib.SetLogLevel(cfg.LogLevel); err != nil {
		log.Fatal(err)
	}

	spinner, err := yacspin.New(yacspin.Config{
		Frequency:         100 * time.Millisecond,
		CharSet:           yacspin.CharSets[14],
		Suffix:            " " + filepath.Base(args[0]),
		SuffixAutoColon:   true,
		Message:           "loading",
		StopCharacter:     "✓",
		StopColors:        []string{"fgGreen"},
		StopFailCharacter: "✗",
		StopFailColors:    []string{"fgRed"},
	})
	if err != nil {
		log.Fatal(err)
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	spinner.Start()
	j := job{lib: lib, cfg: cfg}
	p, err := j.run(ctx, args[0], selection, func(p Progress) {
		spinner.Message(fmt.Sprintf("read %d/%d, processed %d", p.Read, p.Total, p.Done))
	})
	if err != nil {
		spinner.StopFailMessage(err.Error())
		spinner.StopFail()
		os.Exit(1)
	}
	spinner.StopMessage(fmt.Sprintf("%d frames to %s", p.Done, cfg.Export.Dir))
	spinner.Stop()
	if p.Lost > 0 {
		log.Warn("frames skipped or dropped", "n", p.Lost)
	}
}

func main() {
	var cmd string
	args := os.Args
	if len(args) == 1 {
		root()
		return
	}
	setupconfig()
	cmd = args[1]
	cmd = strings.ToLower(cmd)
	switch cmd {
	case "help":
		help()
		return
	case "mkconf":
		mkconf()
		return
	case "conf":
		printconf()
		return
	case "run":
		run(args[2:])
		return
	case "version":
		pversion()
		return
	default:
		log.Fatal("unknown command", "cmd", cmd)
	}
}
