package main

import (
	"bufio"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/term"

	"github.com/wippyai/jsbridge/engine"
	"github.com/wippyai/jsbridge/native"
	"github.com/wippyai/jsbridge/registry"
	"github.com/wippyai/jsbridge/runtime"
)

func main() {
	var (
		script      = flag.String("e", "", "Evaluate script and print the result")
		file        = flag.String("f", "", "Evaluate a script file")
		interactive = flag.Bool("i", false, "Interactive mode with TUI (default when stdin is a terminal)")
		verbose     = flag.Bool("v", false, "Debug logging to stderr")
		metricsAddr = flag.String("metrics-addr", "", "Serve Prometheus metrics on this address (e.g. :9090)")
		stackSize   = flag.Int("stack-size", 0, "Maximum script call stack depth (0 for the engine default)")
	)
	flag.Parse()

	log := zap.NewNop()
	if *verbose {
		l, err := zap.NewDevelopment()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		log = l
	}
	defer log.Sync()
	engine.SetLogger(log.Named("engine"))
	native.SetLogger(log.Named("native"))
	registry.SetLogger(log.Named("registry"))
	runtime.SetLogger(log.Named("runtime"))

	if *metricsAddr != "" {
		serveMetrics(*metricsAddr, log)
	}

	cfg := engine.DefaultConfig()
	if *stackSize > 0 {
		cfg.MaxCallStackSize = *stackSize
	}

	if err := run(cfg, *script, *file, *interactive); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(cfg engine.Config, script, file string, interactive bool) error {
	s, err := newSession(cfg, os.Stdout)
	if err != nil {
		return fmt.Errorf("create context: %w", err)
	}
	defer s.Close()

	switch {
	case script != "":
		out, err := s.run(script, "<eval>")
		if err != nil {
			return err
		}
		fmt.Println(out)
		return nil

	case file != "":
		data, err := os.ReadFile(file)
		if err != nil {
			return fmt.Errorf("read file: %w", err)
		}
		_, err = s.run(string(data), file)
		return err

	case interactive || term.IsTerminal(int(os.Stdin.Fd())):
		return runInteractive(s)
	}
	return runLines(s, os.Stdin, os.Stdout)
}

// runLines is the REPL without a terminal: one line in, one result out.
func runLines(s *session, in io.Reader, out io.Writer) error {
	sc := bufio.NewScanner(in)
	for sc.Scan() {
		res, quit, err := s.eval(sc.Text())
		if quit {
			return nil
		}
		switch {
		case err != nil:
			fmt.Fprintln(out, err)
		case res != "":
			fmt.Fprintln(out, res)
		}
	}
	return sc.Err()
}

func serveMetrics(addr string, log *zap.Logger) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(registry.DefaultCollector())
	reg.MustRegister(collectors.NewGoCollector())

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	go func() {
		if err := http.ListenAndServe(addr, mux); err != nil {
			log.Error("metrics server stopped", zap.String("addr", addr), zap.Error(err))
		}
	}()
	log.Info("serving metrics", zap.String("addr", addr))
}
