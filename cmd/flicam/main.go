package main

import (
	"bufio"
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi"
	"github.com/knadh/koanf"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/theckman/yacspin"
	"github.com/urfave/cli/v2"

	yml "gopkg.in/yaml.v2"

	"github.com/nasa-jpl/fliacq/fli"
	"github.com/nasa-jpl/fliacq/fli/sdk"
	"github.com/nasa-jpl/fliacq/flicli"
	"github.com/nasa-jpl/fliacq/generichttp"
	"github.com/nasa-jpl/fliacq/generichttp/camera"
	"github.com/nasa-jpl/fliacq/imgrec"
	"github.com/nasa-jpl/fliacq/server/middleware/locker"
)

var (
	// Version is the version number.  Typically injected via ldflags with git build
	Version = "1"

	// ConfigFileName is what it sounds like
	ConfigFileName = "flicam.yml"

	// EnvPrefix marks environment variables that override the config file
	EnvPrefix = "FLICAM_"

	k = koanf.New(".")
)

type recorder struct {
	// Root is the root folder to write to
	Root string `koanf:"Root" yaml:"Root"`

	// Prefix is the filename prefix to use
	Prefix string `koanf:"Prefix" yaml:"Prefix"`

	// Enabled saves every capture made over HTTP
	Enabled bool `koanf:"Enabled" yaml:"Enabled"`
}

type config struct {
	Addr          string   `koanf:"Addr" yaml:"Addr"`
	Root          string   `koanf:"Root" yaml:"Root"`
	Serial        string   `koanf:"Serial" yaml:"Serial"`
	Width         int      `koanf:"Width" yaml:"Width"`
	Height        int      `koanf:"Height" yaml:"Height"`
	QuerySettings bool     `koanf:"QuerySettings" yaml:"QuerySettings"`
	Mock          bool     `koanf:"Mock" yaml:"Mock"`
	MockFPS       float64  `koanf:"MockFPS" yaml:"MockFPS"`
	Recorder      recorder `koanf:"Recorder" yaml:"Recorder"`
}

func setupconfig() error {
	k.Load(structs.Provider(config{
		Addr:          ":8000",
		Root:          "/",
		Serial:        "",
		Width:         fli.DefaultWidth,
		Height:        fli.DefaultHeight,
		QuerySettings: true,
		MockFPS:       100,
		Recorder:      recorder{Root: ".", Prefix: imgrec.DefaultPrefix, Enabled: true}}, "koanf"), nil)
	if err := k.Load(file.Provider(ConfigFileName), yaml.Parser()); err != nil {
		errtxt := err.Error()
		if !strings.Contains(errtxt, "no such") { // file missing, who cares
			return fmt.Errorf("error loading config: %w", err)
		}
	}
	// FLICAM_RECORDER_ROOT -> Recorder.Root, matching the existing keys
	// without regard to case
	keys := k.Keys()
	return k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		s = strings.ReplaceAll(strings.TrimPrefix(s, EnvPrefix), "_", ".")
		for _, key := range keys {
			if strings.EqualFold(key, s) {
				return key
			}
		}
		return s
	}), nil)
}

func loadconfig() (config, error) {
	c := config{}
	err := k.Unmarshal("", &c)
	return c, err
}

func mkconf(c *cli.Context) error {
	cfg, err := loadconfig()
	if err != nil {
		return err
	}
	f, err := os.Create(ConfigFileName)
	if err != nil {
		return err
	}
	defer f.Close()
	return yml.NewEncoder(f).Encode(cfg)
}

func printconf(c *cli.Context) error {
	cfg, err := loadconfig()
	if err != nil {
		return err
	}
	return yml.NewEncoder(os.Stdout).Encode(cfg)
}

func pversion(c *cli.Context) error {
	fmt.Printf("flicam version %v, sdk wrapper version %v\n", Version, sdk.WRAPVER)
	return nil
}

// driver picks the SDK or the mock
func driver(cfg config) (fli.Driver, error) {
	if cfg.Mock {
		log.Println("using the mock camera, no hardware will be touched")
		m := fli.NewMockDriver()
		m.FPS = cfg.MockFPS
		return m, nil
	}
	return sdkDriver()
}

// session is an open camera with its controller and console
type session struct {
	sdk     *fli.SDK
	ctl     *fli.Controller
	console *flicli.Console
}

func (s *session) Close() {
	s.ctl.Stop()
	if s.console != nil {
		s.console.Close()
	}
	s.sdk.Finalize()
}

// open initializes the SDK, opens the camera and configures the controller
// from the console or, failing that, the config file
func open(cfg config) (*session, error) {
	drv, err := driver(cfg)
	if err != nil {
		return nil, err
	}
	fsdk := fli.NewSDK(drv, log.Default())
	if err := fsdk.Initialize(); err != nil {
		fsdk.Finalize()
		return nil, err
	}
	ctx, err := fsdk.Open()
	if err != nil {
		fsdk.Finalize()
		return nil, err
	}
	s := &session{sdk: fsdk, ctl: fli.NewController(ctx)}

	port := cfg.Serial
	if port == "" {
		port = ctx.Port()
	}
	if port != "" && !cfg.Mock {
		s.console = flicli.New(port, log.Default())
	}
	if cfg.QuerySettings && s.console != nil {
		_, err := s.ctl.ConfigureFrom(s.console)
		if err == nil {
			return s, nil
		}
		log.Printf("could not read settings from the console, using the configured %dx%d: %v\n", cfg.Width, cfg.Height, err)
	}
	if err := s.ctl.Configure(cfg.Width, cfg.Height); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

func run(c *cli.Context) error {
	cfg, err := loadconfig()
	if err != nil {
		return err
	}
	s, err := open(cfg)
	if err != nil {
		return err
	}
	defer s.Close()

	static := fli.StaticSettings{Width: cfg.Width, Height: cfg.Height}
	if cfg.Mock {
		static.FPS = cfg.MockFPS
	}
	var provider fli.SettingsProvider = static
	if s.console != nil {
		provider = s.console
	}
	rec := imgrec.New(cfg.Recorder.Root)
	rec.Prefix = cfg.Recorder.Prefix
	rec.Enabled = cfg.Recorder.Enabled
	w := camera.NewHTTPCamera(s.ctl, provider, rec)
	lock := locker.New()
	locker.Inject(w, lock)
	w.Lock = lock

	root := chi.NewRouter()
	mux := chi.NewRouter()
	mux.Use(lock.Check)
	root.Mount(generichttp.SubMuxSanitize(cfg.Root), mux)
	w.RT().Bind(mux)

	srv := &http.Server{Addr: cfg.Addr, Handler: root}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		log.Println("shutting down")
		shutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdown)
	}()
	log.Println("now listening for requests at ", cfg.Addr+cfg.Root)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func capture(c *cli.Context) error {
	cfg, err := loadconfig()
	if err != nil {
		return err
	}
	if c.IsSet("mock") {
		cfg.Mock = c.Bool("mock")
	}
	s, err := open(cfg)
	if err != nil {
		return err
	}
	defer s.Close()

	fps := cfg.MockFPS
	if s.console != nil {
		if f, err := s.console.FPS(); err == nil {
			fps = f
		}
	}
	count := c.Int("frames")
	cs, err := s.ctl.StartRecord(count)
	if err != nil {
		return err
	}

	spinner, err := yacspin.New(yacspin.Config{
		Frequency:         100 * time.Millisecond,
		CharSet:           yacspin.CharSets[11],
		Suffix:            " capturing",
		SuffixAutoColon:   true,
		StopCharacter:     "✓",
		StopColors:        []string{"fgGreen"},
		StopFailCharacter: "✗",
		StopFailColors:    []string{"fgRed"},
	})
	if err != nil {
		return err
	}
	spinner.Start()
	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()
	done := make(chan struct{})
	go func() {
		t := time.NewTicker(100 * time.Millisecond)
		defer t.Stop()
		for {
			select {
			case <-done:
				return
			case <-t.C:
				spinner.Message(fmt.Sprintf("%d/%d frames", cs.Index(), count))
			}
		}
	}()
	err = fli.WaitForCapture(ctx, cs, fli.DefaultPollInterval)
	close(done)
	s.ctl.Stop()
	if err != nil {
		spinner.StopFailMessage(fmt.Sprintf("interrupted at %d/%d frames", cs.Index(), count))
		spinner.StopFail()
		return err
	}
	spinner.StopMessage(fmt.Sprintf("%d frames", count))
	spinner.Stop()

	rec := imgrec.New(c.String("out"))
	rec.Prefix = cfg.Recorder.Prefix
	fn, err := rec.Save(cs, fps)
	if err != nil {
		return err
	}
	log.Printf("saved capture %s to %s\n", cs.ID, fn)
	return nil
}

func console(c *cli.Context) error {
	cfg, err := loadconfig()
	if err != nil {
		return err
	}
	port := c.String("port")
	if port == "" {
		port = cfg.Serial
	}
	con := flicli.New(port, log.Default())
	defer con.Close()
	fmt.Println("type a command for the camera, exit to quit")
	sc := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("fli-cli> ")
		if !sc.Scan() {
			return sc.Err()
		}
		cmd := strings.TrimSpace(sc.Text())
		if cmd == "" {
			continue
		}
		if strings.EqualFold(cmd, "exit") {
			return nil
		}
		resp, err := con.Command(cmd)
		if err != nil {
			log.Println(err)
			continue
		}
		fmt.Println(resp)
	}
}

func main() {
	app := &cli.App{
		Name:    "flicam",
		Usage:   "acquire frames from First Light Imaging USB infrared cameras",
		Version: Version,
		Description: `flicam is amenable to configuration via its .yml file and FLICAM_ environment
variables.  When no configuration is provided, the defaults are used.
The command mkconf generates the configuration file with the default values.

The viewer keeps the ten newest frames; a capture keeps every frame of the
requested count and writes them to one headerless raw file of little endian
uint16 pixels.`,
		Before: func(c *cli.Context) error {
			return setupconfig()
		},
		Commands: []*cli.Command{
			{
				Name:   "run",
				Usage:  "serve the camera over HTTP",
				Action: run,
			},
			{
				Name:  "capture",
				Usage: "record frames to a raw file",
				Flags: []cli.Flag{
					&cli.IntFlag{Name: "frames", Aliases: []string{"n"}, Value: 100, Usage: "number of frames to record"},
					&cli.StringFlag{Name: "out", Aliases: []string{"o"}, Value: ".", Usage: "root folder for the capture file"},
					&cli.BoolFlag{Name: "mock", Usage: "use the mock camera"},
				},
				Action: capture,
			},
			{
				Name:  "console",
				Usage: "talk to the fli-cli serial console",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "port", Aliases: []string{"p"}, Usage: "serial port, default " + flicli.DefaultPort},
				},
				Action: console,
			},
			{
				Name:   "mkconf",
				Usage:  "write the configuration file with the current values",
				Action: mkconf,
			},
			{
				Name:   "conf",
				Usage:  "print the configuration",
				Action: printconf,
			},
			{
				Name:   "version",
				Usage:  "print the version",
				Action: pversion,
			},
		},
	}
	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}
