package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/charmbracelet/log"
	"github.com/knadh/koanf"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"

	yml "gopkg.in/yaml.v2"

	"github.jpl.nasa.gov/bdube/hsicam/cuvis"
)

var (
	// Version is the version number.  Typically injected via ldflags with git build
	Version = "1"

	// ConfigFileName is what it sounds like
	ConfigFileName = "hsicamd.yml"

	// EnvPrefix marks environment variables which override the config file,
	// e.g. HSICAM_ADDR or HSICAM_WORKER_OUTPUTQUEUESIZE
	EnvPrefix = "HSICAM_"

	k = koanf.New(".")
)

type recorder struct {
	// Root is the root folder to write to
	Root string `yaml:"Root"`

	// Prefix is the filename prefix to use
	Prefix string `yaml:"Prefix"`

	// Enabled starts the recorder armed
	Enabled bool `yaml:"Enabled"`
}

type simulator struct {
	AsyncLatency    time.Duration `yaml:"AsyncLatency"`
	ProcessingDelay time.Duration `yaml:"ProcessingDelay"`
}

type camera struct {
	// Calibration is the factory calibration folder.  Empty uses the
	// simulator's built-in calibration.
	Calibration string `yaml:"Calibration"`

	// Playback, when set, replays this session file instead of driving the
	// camera live
	Playback string `yaml:"Playback"`

	OperationMode   string        `yaml:"OperationMode"`
	FPS             float64       `yaml:"FPS"`
	IntegrationTime time.Duration `yaml:"IntegrationTime"`
	Average         int           `yaml:"Average"`
	Continuous      bool          `yaml:"Continuous"`
}

type export struct {
	// Kind is one of cube, tiff, envi, view; empty disables export
	Kind             string `yaml:"Kind"`
	Dir              string `yaml:"Dir"`
	ChannelSelection string `yaml:"ChannelSelection"`
	AllowOverwrite   bool   `yaml:"AllowOverwrite"`
}

type watch struct {
	// Dir is watched for new session files; empty disables the watcher
	Dir string `yaml:"Dir"`

	// Selection picks frames of each file, e.g. "0-9:2"
	Selection string `yaml:"Selection"`
}

type config struct {
	Addr     string `yaml:"Addr"`
	Root     string `yaml:"Root"`
	LogLevel string `yaml:"LogLevel"`

	// LogDir holds the log file, see cuvis.OpenLogFile.  "-" logs to
	// stderr only.
	LogDir string `yaml:"LogDir"`

	// Settings is the SDK settings folder
	Settings string `yaml:"Settings"`

	Simulator simulator `yaml:"Simulator"`
	Camera    camera    `yaml:"Camera"`

	ProcessingMode string               `yaml:"ProcessingMode"`
	Worker         cuvis.WorkerSettings `yaml:"Worker"`

	// Stream feeds the camera's frames into the worker
	Stream bool `yaml:"Stream"`

	// RecordResults drains the worker into the recorder with a result
	// callback.  GET /worker/next then has nothing to return.
	RecordResults bool `yaml:"RecordResults"`

	Export   export   `yaml:"Export"`
	Recorder recorder `yaml:"Recorder"`
	Watch    watch    `yaml:"Watch"`
}

func defaults() config {
	return config{
		Addr:      ":8000",
		Root:      "/",
		LogLevel:  "info",
		LogDir:    "-",
		Simulator: simulator{AsyncLatency: 20 * time.Millisecond},
		Camera: camera{
			OperationMode:   "Software",
			FPS:             10,
			IntegrationTime: 10 * time.Millisecond,
			Average:         1,
		},
		ProcessingMode: "Raw",
		Worker:         cuvis.DefaultWorkerSettings(),
		Export:         export{ChannelSelection: "all"},
		Recorder:       recorder{Prefix: "cube"},
		Watch:          watch{Selection: "*"},
	}
}

// envKey maps HSICAM_WORKER_OUTPUTQUEUESIZE to the config key
// Worker.OutputQueueSize.  Keys are matched case-insensitively against the
// keys already loaded.
func envKey(known map[string]string) func(string) string {
	return func(s string) string {
		key := strings.ToLower(strings.ReplaceAll(strings.TrimPrefix(s, EnvPrefix), "_", "."))
		if kk, ok := known[key]; ok {
			return kk
		}
		return key
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
	known := map[string]string{}
	for _, key := range k.Keys() {
		known[strings.ToLower(key)] = key
	}
	if err := k.Load(env.Provider(EnvPrefix, ".", envKey(known)), nil); err != nil {
		log.Fatal("loading environment", "err", err)
	}
}

func root() {
	str := `hsicamd exposes a hyperspectral camera and its processing pipeline over HTTP

Usage:
	hsicamd <command>

Commands:
	run
	help
	mkconf
	conf
	version`
	fmt.Println(str)
}

func help() {
	str := `hsicamd is amenable to configuration via its .yml file.  For a primer on YAML, see
https://yaml.org/start.html

When no configuration is provided, the defaults are used.  Keys are not case-sensitive.
The command mkconf generates the configuration file with the default values.
Environment variables prefixed HSICAM_ override the file, with _ separating
levels, e.g. HSICAM_CAMERA_FPS=20.

The camera is served under <Root>/camera, the worker under <Root>/worker,
and prometheus metrics at /metrics.  GET <Root>/camera/endpoints lists the
routes.

Camera.Playback replays a session file through a simulated acquisition
context.  Stream feeds camera frames into the worker; without it the worker
only processes session files posted to /worker/ingest or dropped into
Watch.Dir.

Durations accept Go syntax, e.g. 250ms or 1.5s.`
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
	fmt.Printf("hsicamd version %v\n", Version)
}

func run() {
	cfg := config{}
	if err := k.Unmarshal("", &cfg); err != nil {
		log.Fatal("decoding config", "err", err)
	}
	if cfg.LogDir != "-" {
		closer, err := cuvis.OpenLogFile(cfg.LogDir)
		if err != nil {
			log.Fatal("opening log file", "err", err)
		}
		defer closer.Close()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	d, err := build(ctx, cfg)
	if err != nil {
		log.Fatal("starting up", "err", err)
	}
	defer d.Close()

	srv := &http.Server{Addr: cfg.Addr, Handler: d.Router}
	go func() {
		<-ctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(sctx)
	}()
	log.Info("now listening for requests", "addr", cfg.Addr+cfg.Root)
	if err = srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Error("serving", "err", err)
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
		run()
		return
	case "version":
		pversion()
		return
	default:
		log.Fatal("unknown command", "cmd", cmd)
	}
}
