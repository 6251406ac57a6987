package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/chzyer/readline"

	"github.com/KevoDB/treekv/pkg/client"
	"github.com/KevoDB/treekv/pkg/common/log"
	"github.com/KevoDB/treekv/pkg/config"
	"github.com/KevoDB/treekv/pkg/engine"
	"github.com/KevoDB/treekv/pkg/telemetry"
)

// Config holds the application configuration
type Config struct {
	ServerMode  bool
	ListenAddr  string
	ConnectAddr string
	DBPath      string
	TLSEnabled  bool
	TLSCertFile string
	TLSKeyFile  string
	TLSCAFile   string
	LogLevel    string
	Telemetry   bool

	// Properties are engine settings for a new database, as accepted by
	// config.FromProperties.
	Properties properties
}

// properties collects repeated -set name=value flags.
type properties map[string]string

func (p properties) String() string {
	parts := make([]string, 0, len(p))
	for k, v := range p {
		parts = append(parts, k+"="+v)
	}
	return strings.Join(parts, ",")
}

func (p properties) Set(s string) error {
	name, value, ok := strings.Cut(s, "=")
	if !ok || name == "" {
		return fmt.Errorf("expected name=value, got %q", s)
	}
	p[strings.TrimSpace(name)] = strings.TrimSpace(value)
	return nil
}

func main() {
	cfg := parseFlags()

	level, err := log.ParseLevel(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
	log.SetDefaultLogger(log.NewStandardLogger(log.WithLevel(level), log.WithOutput(os.Stderr)))

	tel, err := newTelemetry(cfg.Telemetry)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error initializing telemetry: %s\n", err)
		os.Exit(1)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		tel.Shutdown(ctx)
	}()

	engineOpts, err := engineOptions(cfg, tel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}

	if cfg.ServerMode {
		if cfg.DBPath == "" {
			fmt.Fprintf(os.Stderr, "Error: Server mode requires a database path\n")
			os.Exit(1)
		}
		if err := runServer(cfg, tel, engineOpts); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %s\n", err)
			os.Exit(1)
		}
		return
	}

	runInteractive(cfg, engineOpts)
}

// parseFlags parses command line flags and returns a Config
func parseFlags() Config {
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "treekv - an embedded ordered key-value store\n\n")
		fmt.Fprintf(flag.CommandLine.Output(), "Usage: treekv [options] [database_path]\n\n")
		fmt.Fprintf(flag.CommandLine.Output(), "By default, treekv runs in interactive mode with a command-line interface.\n")
		fmt.Fprintf(flag.CommandLine.Output(), "If -server flag is provided, treekv serves the database over gRPC.\n\n")
		fmt.Fprintf(flag.CommandLine.Output(), "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(flag.CommandLine.Output(), "\nStart treekv and type .help for interactive commands.\n")
	}

	cfg := Config{Properties: properties{}}
	flag.BoolVar(&cfg.ServerMode, "server", false, "Run in server mode, exposing a gRPC API")
	flag.StringVar(&cfg.ListenAddr, "address", "localhost:50051", "Address to listen on in server mode")
	flag.StringVar(&cfg.ConnectAddr, "connect", "", "Connect the shell to a treekv server instead of opening a database")

	flag.BoolVar(&cfg.TLSEnabled, "tls", false, "Enable TLS for secure connections")
	flag.StringVar(&cfg.TLSCertFile, "cert", "", "TLS certificate file path")
	flag.StringVar(&cfg.TLSKeyFile, "key", "", "TLS private key file path")
	flag.StringVar(&cfg.TLSCAFile, "ca", "", "TLS CA certificate file for peer verification")

	flag.StringVar(&cfg.LogLevel, "log-level", "info", "Log level: debug, info, warn or error")
	flag.BoolVar(&cfg.Telemetry, "telemetry", false, "Enable telemetry (exporters are read from TREEKV_TELEMETRY_* variables)")
	flag.Var(cfg.Properties, "set", "Engine setting for a new database as name=value, e.g. block_size=8K (repeatable)")

	flag.Parse()
	if flag.NArg() > 0 {
		cfg.DBPath = flag.Arg(0)
	}
	return cfg
}

func newTelemetry(enabled bool) (telemetry.Telemetry, error) {
	tc := telemetry.DefaultConfig()
	tc.LoadFromEnv()
	if enabled {
		tc.Enabled = true
	}
	return telemetry.New(tc)
}

func engineOptions(cfg Config, tel telemetry.Telemetry) ([]engine.Option, error) {
	opts := []engine.Option{engine.WithTelemetry(tel)}
	if len(cfg.Properties) > 0 {
		ec, err := config.FromProperties(cfg.Properties)
		if err != nil {
			return nil, err
		}
		opts = append(opts, engine.WithConfig(ec))
	}
	return opts, nil
}

func clientOptions(cfg Config, endpoint string) client.ClientOptions {
	opts := client.DefaultClientOptions()
	opts.Endpoint = endpoint
	opts.TLSEnabled = cfg.TLSEnabled
	opts.CertFile = cfg.TLSCertFile
	opts.KeyFile = cfg.TLSKeyFile
	opts.CAFile = cfg.TLSCAFile
	return opts
}

func newShell(cfg Config, engineOpts []engine.Option) *shell {
	return &shell{
		out: os.Stdout,
		open: func(path string) (backend, error) {
			eng, err := engine.Open(path, engineOpts...)
			if err != nil {
				return nil, err
			}
			return &localBackend{eng: eng, path: path}, nil
		},
		connect: func(endpoint string) (backend, error) {
			c, err := client.NewClient(clientOptions(cfg, endpoint))
			if err != nil {
				return nil, err
			}
			if err := c.Connect(context.Background()); err != nil {
				return nil, err
			}
			return &remoteBackend{c: c, endpoint: endpoint}, nil
		},
	}
}

// runInteractive starts the interactive CLI mode
func runInteractive(cfg Config, engineOpts []engine.Option) {
	sh := newShell(cfg, engineOpts)

	switch {
	case cfg.ConnectAddr != "":
		sh.execute(context.Background(), ".connect "+cfg.ConnectAddr)
	case cfg.DBPath != "":
		sh.execute(context.Background(), ".open "+cfg.DBPath)
	}

	fmt.Println("treekv version 0.1.0")
	fmt.Println("Enter .help for usage hints.")

	rl, err := readline.NewEx(&readline.Config{
		Prompt:          sh.prompt(),
		HistoryFile:     filepath.Join(os.TempDir(), ".treekv_history"),
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
		AutoComplete:    completer,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error initializing readline: %s\n", err)
		sh.closeBackend()
		os.Exit(1)
	}
	defer rl.Close()

	sh.run(rl)
}
