package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"lautenbacher.net/godac/config"
	"lautenbacher.net/godac/logging"
	"lautenbacher.net/godac/mcp48x1"
	pl "lautenbacher.net/godac/platform"
	"lautenbacher.net/godac/waveform"
)

const shutdownTimeout = 2 * time.Second

// overrides are command line settings that win over the config file, also
// after a reload.
type overrides struct {
	backend string
	webAddr string
}

type App struct {
	ossignal    chan os.Signal
	cfile       string
	flags       overrides
	conf        config.Config
	newPlatform func(*config.Config, chan os.Signal) (pl.Platform, error)
	platform    pl.Platform
	dev         *mcp48x1.Dev
	watcher     *config.Watcher
	server      *http.Server
	genCancel   context.CancelFunc
	genWg       sync.WaitGroup
	serverWg    sync.WaitGroup
}

func NewApp(ossignal chan os.Signal) *App {
	return &App{
		ossignal:    ossignal,
		newPlatform: pl.New,
	}
}

func main() {
	cfile := flag.String("config", config.CONFILE, "path to the config file")
	backend := flag.String("backend", "", "override Hardware.Backend (periph, rpio, sim)")
	webAddr := flag.String("web", "", "serve the config API on this address, e.g. :8080")
	flag.Parse()

	ossignal := make(chan os.Signal, 1)
	signal.Notify(ossignal, os.Interrupt, syscall.SIGTERM, syscall.SIGHUP)

	app := NewApp(ossignal)
	if err := app.initialise(*cfile, overrides{backend: *backend, webAddr: *webAddr}); err != nil {
		fmt.Fprintf(os.Stderr, "godac: %v\n", err)
		os.Exit(1)
	}
	app.run()
}

// loadConfig reads the config file and applies the command line overrides.
// A resolution above zero replaces DAC.Resolution before validation, so the
// waveform is checked against the device that is actually running.
func (a *App) loadConfig(resolution int) (config.Config, error) {
	conf, err := config.DecodeConfig(a.cfile)
	if err != nil {
		return conf, err
	}
	if a.flags.backend != "" {
		conf.Hardware.Backend = a.flags.backend
	}
	if a.flags.webAddr != "" {
		conf.Web.Enabled = true
		conf.Web.Addr = a.flags.webAddr
	}
	if resolution > 0 && conf.DAC.Resolution != resolution {
		slog.Warn("DAC resolution changed, restart to apply it",
			"current", resolution, "configured", conf.DAC.Resolution)
		conf.DAC.Resolution = resolution
	}
	if err := conf.Validate(); err != nil {
		return conf, fmt.Errorf("invalid config file %s: %w", a.cfile, err)
	}
	return conf, nil
}

func (a *App) initialise(cfile string, flags overrides) error {
	a.cfile = cfile
	a.flags = flags

	conf, err := a.loadConfig(0)
	if err != nil {
		return err
	}
	a.conf = conf

	// The simulation viewer owns the terminal, log lines wait until it is up.
	if err := logging.Init(conf.Logging, conf.Hardware.Backend == config.BackendSim); err != nil {
		return fmt.Errorf("can't initialise logging: %w", err)
	}

	gen, err := waveform.FromConfig(conf.Waveform)
	if err != nil {
		logging.Close()
		return err
	}

	a.platform, err = a.newPlatform(&a.conf, a.ossignal)
	if err != nil {
		logging.Close()
		return err
	}
	if err := a.platform.Start(); err != nil {
		logging.Close()
		return fmt.Errorf("can't start platform: %w", err)
	}
	<-a.platform.Ready()

	mosi, sck := a.platform.Pins()
	a.dev, err = mcp48x1.New(a.platform.Conn(), a.platform.ChipSelect(), &mcp48x1.Opts{
		Resolution: mcp48x1.Resolution(conf.DAC.Resolution),
		MOSI:       mosi,
		SCK:        sck,
		CSDelay:    conf.Hardware.CSDelay,
	})
	if err != nil {
		a.platform.Stop()
		logging.Close()
		return err
	}
	a.dev.SetGain(mcp48x1.Gain(conf.DAC.Gain))
	devMOSI, devSCK := a.dev.Pins()
	slog.Info("DAC ready", "device", a.dev, "gain", a.dev.Gain(), "fullScale", a.dev.FullScale(),
		"mosi", devMOSI.String(), "sck", devSCK.String())

	a.watcher, err = config.NewWatcher(cfile)
	if err != nil {
		slog.Warn("Config file is not watched, use SIGHUP to reload", "error", err)
		a.watcher = nil
	}

	if conf.Web.Enabled {
		a.startWebServer(conf.Web.Addr)
	}

	a.startGenerator(gen)
	return nil
}

func (a *App) run() {
	var changes <-chan struct{}
	if a.watcher != nil {
		changes = a.watcher.Changes()
	}
	for {
		select {
		case sig := <-a.ossignal:
			if sig == syscall.SIGHUP {
				slog.Info("SIGHUP received, reloading config", "file", a.cfile)
				a.reload()
				continue
			}
			slog.Info("Shutting down", "signal", sig)
			a.shutdown()
			return
		case <-changes:
			slog.Info("Config file changed, reloading", "file", a.cfile)
			a.reload()
		}
	}
}

func (a *App) startGenerator(gen waveform.Generator) {
	ctx, cancel := context.WithCancel(context.Background())
	a.genCancel = cancel
	a.genWg.Add(1)
	go func() {
		defer a.genWg.Done()
		slog.Info("Starting waveform", "waveform", gen)
		if err := gen.Run(ctx, a.dev); err != nil {
			slog.Error("Waveform stopped", "waveform", gen, "error", err)
		}
	}()
}

func (a *App) stopGenerator() {
	if a.genCancel != nil {
		a.genCancel()
		a.genCancel = nil
	}
	a.genWg.Wait()
}

// reload applies gain and waveform from the config file. Everything else
// needs a restart. A config that fails to load is reported and the running
// waveform is kept.
func (a *App) reload() {
	conf, err := a.loadConfig(a.conf.DAC.Resolution)
	if err != nil {
		slog.Error("Reload failed, keeping current configuration", "error", err)
		return
	}
	gen, err := waveform.FromConfig(conf.Waveform)
	if err != nil {
		slog.Error("Reload failed, keeping current configuration", "error", err)
		return
	}
	if conf.Hardware != a.conf.Hardware {
		slog.Warn("Hardware settings changed, restart to apply them")
	}
	if conf.Web != a.conf.Web || conf.Logging != a.conf.Logging {
		slog.Warn("Web and logging settings changed, restart to apply them")
	}

	a.stopGenerator()
	a.conf.DAC.Gain = conf.DAC.Gain
	a.conf.Waveform = conf.Waveform
	a.dev.SetGain(mcp48x1.Gain(conf.DAC.Gain))
	slog.Info("Config reloaded", "gain", a.dev.Gain(), "fullScale", a.dev.FullScale())
	a.startGenerator(gen)
}

func (a *App) startWebServer(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/api/config", config.ConfigHandler(a.cfile))
	a.server = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	a.serverWg.Add(1)
	go func() {
		defer a.serverWg.Done()
		slog.Info("Web server listening", "addr", addr)
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Web server failed", "error", err)
		}
	}()
}

func (a *App) shutdown() {
	a.stopGenerator()

	if err := a.dev.Shutdown(); err != nil {
		slog.Error("Can't shut the DAC output down", "error", err)
	}

	if a.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		if err := a.server.Shutdown(ctx); err != nil {
			slog.Error("Error stopping web server", "error", err)
		}
		cancel()
		a.serverWg.Wait()
	}

	if a.watcher != nil {
		if err := a.watcher.Close(); err != nil {
			slog.Error("Error closing config watcher", "error", err)
		}
	}

	a.platform.Stop()
	slog.Info("Shutdown complete")
	if err := logging.Close(); err != nil {
		fmt.Fprintf(os.Stderr, "godac: closing log: %v\n", err)
	}
}
