package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path"
	"path/filepath"
	"strings"
	"syscall"

	"zipaes/internal/backend"
	"zipaes/internal/config"
	"zipaes/internal/metrics"
	"zipaes/internal/runner"
	"zipaes/internal/tui"
	"zipaes/internal/winzip"
	"zipaes/internal/zipentry"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/sirupsen/logrus"
)

var version = "dev"

type flags struct {
	configPath   string
	password     string
	passwordFile string
	workers      int
	backend      string
	outputDir    string
	include      string
	metricsFile  string
	logLevel     string
	tui          bool
	list         bool
}

func parseFlags(args []string) (*flags, []string, error) {
	fs := flag.NewFlagSet("zipaes", flag.ContinueOnError)
	f := &flags{}
	fs.StringVar(&f.configPath, "config", os.Getenv("ZIPAES_CONFIG"), "YAML config file")
	fs.StringVar(&f.password, "password", "", "archive password (prefer ZIPAES_PASSWORD or -password-file)")
	fs.StringVar(&f.passwordFile, "password-file", "", "file whose first line is the password")
	fs.IntVar(&f.workers, "workers", 0, "parallel entry pipelines (default: config or number of CPUs)")
	fs.StringVar(&f.backend, "backend", "", "decryption backend: native or reference")
	fs.StringVar(&f.outputDir, "out", "", "directory to write decrypted entries into")
	fs.StringVar(&f.include, "include", "", "comma-separated entry name globs")
	fs.StringVar(&f.metricsFile, "metrics-file", "", "write Prometheus textfile metrics here on exit")
	fs.StringVar(&f.logLevel, "log-level", "", "log level")
	fs.BoolVar(&f.tui, "tui", false, "show interactive progress")
	fs.BoolVar(&f.list, "list", false, "list entries and exit")
	if err := fs.Parse(args); err != nil {
		return nil, nil, err
	}
	return f, fs.Args(), nil
}

// apply lets explicit flags win over file and environment settings.
func (f *flags) apply(cfg *config.Config) {
	if f.passwordFile != "" {
		cfg.PasswordFile = f.passwordFile
	}
	if f.workers > 0 {
		cfg.Workers = f.workers
	}
	if f.backend != "" {
		cfg.Backend = f.backend
	}
	if f.outputDir != "" {
		cfg.OutputDir = f.outputDir
	}
	if f.include != "" {
		cfg.Include = strings.Split(f.include, ",")
	}
	if f.metricsFile != "" {
		cfg.MetricsFile = f.metricsFile
	}
	if f.logLevel != "" {
		cfg.LogLevel = f.logLevel
	}
	if f.tui {
		cfg.TUI = true
	}
}

func promptString(r *bufio.Reader, label string) string {
	fmt.Fprintf(os.Stderr, "%s: ", label)
	line, _ := r.ReadString('\n')
	return strings.TrimRight(line, "\r\n")
}

func readPassword(f *flags, cfg *config.Config) ([]byte, error) {
	switch {
	case f.password != "":
		return []byte(f.password), nil
	case cfg.Password != "":
		return []byte(cfg.Password), nil
	case cfg.PasswordFile != "":
		data, err := os.ReadFile(cfg.PasswordFile)
		if err != nil {
			return nil, fmt.Errorf("read password file: %w", err)
		}
		line, _, _ := strings.Cut(string(data), "\n")
		return []byte(strings.TrimRight(line, "\r")), nil
	default:
		return []byte(promptString(bufio.NewReader(os.Stdin), "Password")), nil
	}
}

func newLogger(cfg *config.Config, out io.Writer) *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(out)
	if cfg.LogFormat == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{})
	}
	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		logger.WithError(err).Warn("Invalid log level, using info")
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)
	return logger
}

// selectEntries keeps encrypted regular files whose names match include.
func selectEntries(refs []zipentry.EntryRef, include []string, logger logrus.FieldLogger) []zipentry.EntryRef {
	out := make([]zipentry.EntryRef, 0, len(refs))
	for _, ref := range refs {
		if ref.IsDir() {
			continue
		}
		if len(include) > 0 && !matchAny(include, ref.Name) {
			continue
		}
		if !ref.IsAES() {
			logger.WithFields(logrus.Fields{"entry": ref.Name, "method": ref.Method}).Warn("skipping entry that is not WinZip-AES encrypted")
			continue
		}
		out = append(out, ref)
	}
	return out
}

func matchAny(globs []string, name string) bool {
	for _, g := range globs {
		if ok, _ := path.Match(strings.TrimSpace(g), name); ok {
			return true
		}
	}
	return false
}

// writeOutput writes an authenticated entry below dir, refusing names that
// would escape it.
func writeOutput(dir string, res runner.Result) (string, error) {
	name := filepath.FromSlash(res.Ref.Name)
	if !filepath.IsLocal(name) {
		return "", fmt.Errorf("refusing to write %q outside %s", res.Ref.Name, dir)
	}
	dst := filepath.Join(dir, name)
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return "", err
	}
	return dst, os.WriteFile(dst, res.Content, 0o644)
}

func run(args []string) int {
	f, rest, err := parseFlags(args)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}
	if len(rest) != 1 {
		fmt.Fprintln(os.Stderr, "usage: zipaes [flags] archive.zip")
		return 2
	}
	archivePath := rest[0]

	cfg, err := config.LoadConfig(f.configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "zipaes: %v\n", err)
		return 2
	}
	f.apply(cfg)
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "zipaes: invalid configuration: %v\n", err)
		return 2
	}

	logOut := io.Writer(os.Stderr)
	if cfg.TUI {
		// The TUI owns the terminal; only problems are logged.
		logOut = io.Discard
	}
	logger := newLogger(cfg, logOut)
	logger.WithField("version", version).Debug("zipaes starting")

	zipBytes, err := os.ReadFile(archivePath)
	if err != nil {
		logger.WithError(err).Error("failed to read archive")
		return 1
	}
	refs, err := zipentry.Scan(zipBytes)
	if err != nil {
		logger.WithError(err).Error("failed to scan archive")
		return 1
	}
	if f.list {
		for _, ref := range refs {
			fmt.Printf("%-8s %10d %10d  %s\n", methodName(ref), ref.CompressedSize, ref.UncompressedSize, ref.Name)
		}
		return 0
	}

	entries := selectEntries(refs, cfg.Include, logger)
	if len(entries) == 0 {
		logger.Error("no WinZip-AES entries to decrypt")
		return 1
	}

	password, err := readPassword(f, cfg)
	if err != nil {
		logger.WithError(err).Error("failed to read password")
		return 1
	}
	defer clear(password)

	be, err := backend.New(cfg.Backend, winzip.Options{ChunkSize: cfg.ChunkSize, Logger: logger})
	if err != nil {
		logger.WithError(err).Error("failed to create backend")
		return 2
	}

	var m *metrics.Metrics
	if cfg.MetricsFile != "" {
		m = metrics.New()
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	r, err := runner.NewRunner(runner.Config{
		ZipBytes:    zipBytes,
		Password:    password,
		Entries:     entries,
		Workers:     cfg.Workers,
		ReportEvery: cfg.ReportEvery,
		Backend:     be,
		Logger:      logger,
		Metrics:     m,
	})
	if err != nil {
		logger.WithError(err).Error("failed to init runner")
		return 1
	}
	if err := r.Start(ctx); err != nil {
		logger.WithError(err).Error("failed to start runner")
		return 1
	}

	if cfg.TUI {
		model := tui.NewModel(tui.Config{
			Workers:     r.Workers(),
			Archive:     archivePath,
			SampleEvery: cfg.ReportEvery,
			StatsCh:     r.StatsCh(),
			Stop:        cancel,
		})
		if _, err := tea.NewProgram(model).Run(); err != nil {
			logger.WithError(err).Error("tui error")
			cancel()
		}
	} else {
		go func() {
			for range r.StatsCh() {
			}
		}()
	}

	failed := 0
	for res := range r.ResultCh() {
		log := logger.WithField("entry", res.Ref.Name)
		if res.Err != nil {
			failed++
			if cfg.TUI {
				fmt.Fprintf(os.Stderr, "%s: %v\n", res.Ref.Name, res.Err)
			}
			continue
		}
		dst, err := writeOutput(cfg.OutputDir, res)
		if err != nil {
			failed++
			log.WithError(err).Error("failed to write entry")
			continue
		}
		log.WithFields(logrus.Fields{"path": dst, "bytes": len(res.Content)}).Info("entry written")
	}

	if m != nil {
		if err := m.WriteTextfile(cfg.MetricsFile); err != nil {
			logger.WithError(err).Warn("failed to write metrics textfile")
		}
	}

	logger.WithFields(logrus.Fields{"entries": len(entries), "failed": failed}).Info("done")
	if failed > 0 {
		return 1
	}
	return 0
}

func methodName(ref zipentry.EntryRef) string {
	switch ref.Method {
	case zipentry.MethodStore:
		return "stored"
	case zipentry.MethodDeflate:
		return "deflate"
	case zipentry.MethodAES:
		return "aes"
	default:
		return fmt.Sprintf("m%d", ref.Method)
	}
}

func main() {
	os.Exit(run(os.Args[1:]))
}
