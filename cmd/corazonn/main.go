// Corazonn — turns streamed heartbeat sensor data into a clean,
// rhythmically coherent stream of beat events for audio, lighting,
// and visualization rigs.
//
// Usage:
//
//	corazonn [-config corazonn.yaml] [-verbose] [-quiet]
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	stdlog "log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/schuyler/corazonn/internal/audio"
	"github.com/schuyler/corazonn/internal/config"
	"github.com/schuyler/corazonn/internal/domain"
	"github.com/schuyler/corazonn/internal/light"
	"github.com/schuyler/corazonn/internal/logger"
	"github.com/schuyler/corazonn/internal/midi"
	"github.com/schuyler/corazonn/internal/osc"
	"github.com/schuyler/corazonn/internal/pipeline"
	"github.com/schuyler/corazonn/internal/record"
)

func main() {
	_ = godotenv.Load()

	configPath := flag.String("config", "", "path to YAML configuration (empty = built-in defaults)")
	verbose := flag.Bool("verbose", false, "enable verbose/debug logging")
	quiet := flag.Bool("quiet", false, "disable all logging")
	logFile := flag.String("log-file", "stderr", "file to write logs to (\"stderr\" logs to console)")
	noAudio := flag.Bool("no-audio", false, "disable the sample mixer even if configured")
	noLights := flag.Bool("no-lights", false, "disable bulb control even if configured")
	noMIDI := flag.Bool("no-midi", false, "disable MIDI even if configured")
	replayFile := flag.String("replay", "", "capture file to replay onto the virtual channels (overrides config)")
	flag.Parse()

	// Configure logger.
	logLevel := logger.LevelNormal
	if *verbose {
		logLevel = logger.LevelVerbose
	}
	if *quiet {
		logLevel = logger.LevelOff
	}

	var logOut io.Writer = os.Stderr
	if *logFile != "" && *logFile != "stderr" {
		dir := filepath.Dir(*logFile)
		if dir != "" && dir != "." {
			os.MkdirAll(dir, 0o755)
		}
		f, err := os.OpenFile(*logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "warning: could not open log file %s: %v (falling back to stderr)\n", *logFile, err)
		} else {
			logOut = f
			defer f.Close()
		}
	}

	// Third-party libs (MIDI driver, DNS-SD) log through the stdlib
	// logger; point it at the same output.
	stdlog.SetOutput(logOut)
	stdlog.SetFlags(stdlog.Ltime)

	log := logger.New(logLevel, logOut)

	// Load configuration. Invalid configuration is the only fatal
	// error class; everything after this recovers locally.
	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}
		cfg = loaded
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	clock := pipeline.NewSystemClock()

	// Wire the beat fan-out. The OSC egress attaches when beat targets
	// are configured; audio, lights, and MIDI when enabled.
	var sinks []domain.BeatSink

	if len(cfg.OSC.BeatTargets) > 0 {
		beats, err := osc.NewBeatClient(cfg.OSC.BeatTargets, log)
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}
		sinks = append(sinks, beats)
		log.Info("beat egress to %v", cfg.OSC.BeatTargets)
	}

	var mixer *audio.Mixer
	if cfg.Audio.Enabled && !*noAudio {
		paths := make(map[domain.SensorID]string)
		for _, s := range cfg.Sensors {
			paths[domain.SensorID(s.ID)] = s.Sample
			paths[domain.SensorID(s.ID+domain.NumPhysical)] = s.Sample
		}
		bank := audio.NewBank(paths, log)

		m, err := audio.NewMixer(bank, clock, log)
		if err != nil {
			log.Error("audio init failed, mixer disabled: %v", err)
		} else {
			mixer = m
			sinks = append(sinks, mixer)
			log.Info("sample mixer enabled")
		}
	}

	if len(cfg.Lights) > 0 && !*noLights {
		var bulbs []*light.Bulb
		for _, l := range cfg.Lights {
			bulbs = append(bulbs, light.NewBulb(l.Host, l.Port, log))
		}
		hues := make(map[domain.SensorID]float64)
		for _, s := range cfg.Sensors {
			hues[domain.SensorID(s.ID)] = s.Hue
			hues[domain.SensorID(s.ID+domain.NumPhysical)] = s.Hue
		}
		lights := light.NewController(bulbs, hues, clock, log)
		sinks = append(sinks, lights)
		go lights.Run(ctx)
		log.Info("lighting enabled (%d bulbs)", len(bulbs))
	}

	if cfg.MIDI.Enabled && !*noMIDI {
		notes := make(map[domain.SensorID]int)
		for _, s := range cfg.Sensors {
			notes[domain.SensorID(s.ID)] = s.Note
			notes[domain.SensorID(s.ID+domain.NumPhysical)] = s.Note
		}
		surface, err := midi.New(cfg.MIDI.Port, notes, clock, log)
		if err != nil {
			log.Error("midi init failed, disabled: %v", err)
		} else {
			defer surface.Close()
			sinks = append(sinks, surface)
			if mixer != nil {
				if err := surface.ListenControls(cfg.MIDI.Port, mixer.SetGain); err != nil {
					log.Info("midi: no control surface input: %v", err)
				}
			}
		}
	}

	// Build the coordinator, with capture when configured.
	var opts []pipeline.Option
	if cfg.Record.Dir != "" {
		rec, err := record.NewRecorder(cfg.Record.Dir, cfg.Record.Pattern, log)
		if err != nil {
			log.Error("recorder init failed, capture disabled: %v", err)
		} else {
			defer rec.Close()
			opts = append(opts, pipeline.WithRecorder(rec))
		}
	}

	coord := pipeline.New(clock, sinks, log, opts...)
	coord.Start(ctx)

	// Ingress.
	server := osc.NewServer(cfg.OSC.Listen, coord, log, osc.WithAnnounce(cfg.OSC.Announce))
	go func() {
		if err := server.Run(ctx); err != nil {
			log.Error("osc server: %v", err)
			cancel()
		}
	}()

	// Optional replay onto the virtual channels.
	replay := cfg.Replay.File
	if *replayFile != "" {
		replay = *replayFile
	}
	if replay != "" {
		rp := record.NewReplayer(replay, coord.Ingest, log)
		go func() {
			if err := rp.Run(ctx); err != nil {
				log.Error("replay: %v", err)
			}
		}()
	}

	// Run until interrupted; pipelines drain cooperatively. Nothing is
	// persisted — the core is memoryless across restarts by design.
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig

	log.Info("shutting down")
	cancel()
	coord.Wait()
}
