// voxcastctl is a small operator tool for a voxcast runtime. It publishes
// speak and clear requests over the bus, inspects the voice catalog on disk,
// and edits per-user preferences in the runtime database.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"github.com/voxcastlabs/voxcast-core/internal/config"
	"github.com/voxcastlabs/voxcast-core/internal/protocol"
	"github.com/voxcastlabs/voxcast-core/internal/store"
	"github.com/voxcastlabs/voxcast-core/internal/voice"
)

var version = "0.1.0-dev"

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, "expected 'speak', 'clear', 'voices', 'prefs' or 'version'")
		os.Exit(2)
	}

	var err error
	switch os.Args[1] {
	case "speak":
		err = runSpeak(os.Args[2:])
	case "clear":
		err = runClear(os.Args[2:])
	case "voices":
		err = runVoices(os.Args[2:])
	case "prefs":
		err = runPrefs(os.Args[2:])
	case "version":
		fmt.Println(version)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n", os.Args[1])
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runSpeak(args []string) error {
	cmd := flag.NewFlagSet("speak", flag.ExitOnError)
	server := cmd.String("server", nats.DefaultURL, "Bus server URL")
	target := cmd.Uint64("target", 0, "Target id to speak into")
	channel := cmd.String("channel", "", "Channel id within the target")
	text := cmd.String("text", "", "Text to speak")
	character := cmd.String("character", "", "Character voice to use")
	speakerName := cmd.String("speaker", "", "Display name announced before the text")
	wait := cmd.Duration("wait", 5*time.Second, "How long to wait for the queue result")
	cmd.Parse(args)

	if *text == "" {
		return fmt.Errorf("-text must not be empty")
	}

	conn, err := nats.Connect(*server, nats.Name("voxcastctl"))
	if err != nil {
		return fmt.Errorf("connect to bus: %w", err)
	}
	defer conn.Close()

	req := protocol.SpeakRequest{
		RequestID:   uuid.NewString(),
		TargetID:    *target,
		ChannelID:   *channel,
		Text:        *text,
		Character:   *character,
		SpeakerName: *speakerName,
		Timestamp:   time.Now().UTC(),
	}

	results := make(chan protocol.SpeakResult, 1)
	sub, err := conn.Subscribe(protocol.SubjectSpeakResult, func(msg *nats.Msg) {
		var res protocol.SpeakResult
		if json.Unmarshal(msg.Data, &res) == nil && res.RequestID == req.RequestID {
			select {
			case results <- res:
			default:
			}
		}
	})
	if err != nil {
		return fmt.Errorf("subscribe for result: %w", err)
	}
	defer sub.Unsubscribe()

	data, err := json.Marshal(req)
	if err != nil {
		return err
	}
	if err := conn.Publish(protocol.SubjectSpeakRequest, data); err != nil {
		return fmt.Errorf("publish speak request: %w", err)
	}

	select {
	case res := <-results:
		if !res.Queued {
			return fmt.Errorf("utterance rejected: %s", res.Error)
		}
		fmt.Println("queued")
	case <-time.After(*wait):
		fmt.Println("published (no result within wait window)")
	}
	return nil
}

func runClear(args []string) error {
	cmd := flag.NewFlagSet("clear", flag.ExitOnError)
	server := cmd.String("server", nats.DefaultURL, "Bus server URL")
	target := cmd.Uint64("target", 0, "Target id whose queue to drop")
	cmd.Parse(args)

	conn, err := nats.Connect(*server, nats.Name("voxcastctl"))
	if err != nil {
		return fmt.Errorf("connect to bus: %w", err)
	}
	defer conn.Close()

	data, err := json.Marshal(protocol.ClearRequest{TargetID: *target, Timestamp: time.Now().UTC()})
	if err != nil {
		return err
	}
	if err := conn.Publish(protocol.SubjectSpeakClear, data); err != nil {
		return fmt.Errorf("publish clear request: %w", err)
	}
	if err := conn.Flush(); err != nil {
		return err
	}
	fmt.Println("cleared")
	return nil
}

func runPrefs(args []string) error {
	cmd := flag.NewFlagSet("prefs", flag.ExitOnError)
	storePath := cmd.String("store", "./data/voxcast.db", "Path to the runtime database")
	user := cmd.Uint64("user", 0, "User id")
	voiceName := cmd.String("voice", "", "Selected voice sample (empty leaves it unchanged)")
	enable := cmd.Bool("enable", false, "Enable automatic speech for the user")
	disable := cmd.Bool("disable", false, "Disable automatic speech for the user")
	cmd.Parse(args)

	if *user == 0 {
		return fmt.Errorf("-user must be set")
	}
	if *enable && *disable {
		return fmt.Errorf("-enable and -disable are mutually exclusive")
	}

	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	st, err := store.Open(ctx, config.StoreConfig{Path: *storePath}, logger)
	if err != nil {
		return err
	}
	defer st.Close()

	settings, err := st.UserSettings(ctx, *user)
	if err != nil {
		return err
	}
	if *voiceName != "" {
		settings.SelectedSample = *voiceName
	}
	if *enable || *disable {
		v := *enable
		settings.TTSEnabled = &v
	}
	if err := st.SaveUserSettings(ctx, *user, settings); err != nil {
		return err
	}

	fmt.Printf("user %d: enabled=%v voice=%q\n", *user, settings.Enabled(true), settings.Voice("default"))
	return nil
}

func runVoices(args []string) error {
	cmd := flag.NewFlagSet("voices", flag.ExitOnError)
	catalog := cmd.String("catalog", "./data/voices.json", "Path to the voice catalog")
	overrides := cmd.String("overrides", "./data/user_voices.json", "Path to the per-user overrides")
	samples := cmd.String("samples", "./data/samples", "Reference sample directory")
	cmd.Parse(args)

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	registry, err := voice.NewRegistry(*catalog, *overrides, *samples, logger)
	if err != nil {
		return err
	}
	for _, name := range registry.Names() {
		profile, err := registry.Resolve(name)
		if err != nil {
			continue
		}
		fmt.Printf("%s\t%s\n", name, registry.SamplePath(profile))
	}
	return nil
}
