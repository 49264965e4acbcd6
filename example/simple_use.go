package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/leandrodaf/sfworklet/internal/audio/offline"
	"github.com/leandrodaf/sfworklet/internal/engine/wasm"
	"github.com/leandrodaf/sfworklet/internal/logger"
	"github.com/leandrodaf/sfworklet/sdk/contracts"
	"github.com/leandrodaf/sfworklet/sdk/midi"
	"github.com/leandrodaf/sfworklet/sdk/synth"
)

func main() {
	var (
		modulePath = flag.String("module", "", "synth module (.wasm path or URL); empty uses the built-in SoundFont engine")
		bankPath   = flag.String("bank", "", "SoundFont bank path or URL")
		preset     = flag.Int("preset", 0, "index of the preset to select once ready")
		device     = flag.Int("device", -1, "MIDI input device index; -1 plays a demo phrase")
		headless   = flag.Bool("headless", false, "render without an audio device")
		debug      = flag.Bool("debug", false, "enable debug logging")
		logFile    = flag.String("log-file", "", "write logs to this file")
	)
	flag.Parse()

	log := logger.NewZapLogger()
	if *bankPath == "" {
		fmt.Fprintln(os.Stderr, "usage: simple_use -bank <file.sf2|url> [flags]")
		flag.PrintDefaults()
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	level := contracts.InfoLevel
	if *debug {
		level = contracts.DebugLevel
	}
	opts := []contracts.SessionOption{
		contracts.WithSessionLogger(log),
		contracts.WithSessionLogLevel(level),
		contracts.WithWaitReady(),
		contracts.WithFaultHandler(func(err error) {
			log.Error("Synth stopped", log.Field().Error("error", err))
			stop()
		}),
	}
	if *logFile != "" {
		opts = append(opts, contracts.WithSessionLogFile(*logFile))
	}
	if *headless {
		opts = append(opts, contracts.WithContextFactory(offline.RealtimeFactory))
	}

	var module contracts.Source = synth.BytesSource(nil)
	if *modulePath != "" {
		module = synth.SourceFor(*modulePath)
		if strings.HasSuffix(*modulePath, ".wasm") {
			opts = append(opts, contracts.WithCompiler(wasm.NewCompiler(log)))
		}
	}

	session, err := synth.Setup(ctx, module, synth.SourceFor(*bankPath), opts...)
	if err != nil {
		log.Error("Failed to start synth", log.Field().Error("error", err))
		os.Exit(1)
	}
	defer session.Close()

	for i, h := range session.Node.PresetHeaders() {
		fmt.Printf("%3d  %03d:%03d  %s\n", i, h.Bank, h.Preset, h.Name)
	}
	if err := session.Node.SelectProgram(*preset); err != nil {
		log.Warn("Preset not selected", log.Field().Error("error", err))
	}

	if *device >= 0 {
		if err := capture(ctx, *device, session.Node, log); err != nil {
			log.Error("MIDI capture failed", log.Field().Error("error", err))
			return
		}
	} else {
		go playDemo(ctx, session.Node)
	}

	fmt.Println("Playing... Press Ctrl+C to exit.")
	select {
	case <-ctx.Done():
	case <-session.Node.Done():
	}
}

// capture routes a MIDI input device into the synth until ctx is done.
func capture(ctx context.Context, device int, node *synth.Node, log contracts.Logger) error {
	client, err := midi.NewMIDIClient(
		contracts.WithLogger(log),
		contracts.WithMIDIEventFilter(contracts.MIDIEventFilter{
			Commands: []contracts.MIDICommand{
				contracts.NoteOnCommand,
				contracts.NoteOffCommand,
				contracts.ProgramChangeCommand,
			},
		}),
	)
	if err != nil {
		return err
	}

	devices, err := client.ListDevices()
	if err != nil {
		return err
	}
	fmt.Println("Available MIDI devices:", devices)

	if err := client.SelectDevice(device); err != nil {
		return err
	}

	events := make(chan contracts.MIDI, 100)
	client.StartCapture(events)
	go func() {
		<-ctx.Done()
		_ = client.Stop()
	}()
	go midi.Route(ctx, events, node, log)
	return nil
}

// playDemo loops a C major arpeggio on channel 0.
func playDemo(ctx context.Context, node *synth.Node) {
	phrase := []uint8{60, 64, 67, 72, 67, 64}
	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()

	var last uint8
	for i := 0; ; i++ {
		select {
		case <-ctx.Done():
			_ = node.SendNoteOff(0, last)
			return
		case <-ticker.C:
			if i > 0 {
				_ = node.SendNoteOff(0, last)
			}
			last = phrase[i%len(phrase)]
			_ = node.SendNoteOn(0, last, 100)
		}
	}
}
