// Package main provides the player control CLI entry point.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/alecthomas/kingpin/v2"
	"github.com/joho/godotenv"
	"github.com/samber/lo"

	apiconnect "github.com/osa030/audioplayer/internal/api/connect"
)

var (
	app    = kingpin.New("playerctl", "Audio player control client")
	server = app.Flag("server", "Server address").Default("http://localhost:8080").String()
	token  = app.Flag("token", "Control token (or set CONTROL_TOKEN env)").Envar("CONTROL_TOKEN").String()
	async  = app.Flag("async", "Return once the command is queued").Bool()

	// create command
	createCmd      = app.Command("create", "Create a player")
	createPath     = createCmd.Arg("path", "Media path or Spotify track").Required().String()
	createID       = createCmd.Flag("id", "Player ID (generated when empty)").String()
	createOptions  = createCmd.Flag("option", "Construction option key=value").Short('o').StringMap()
	createPrepare  = createCmd.Flag("prepare", "Prepare right after creating").Bool()
	prepareCmd     = app.Command("prepare", "Load the media of a player")
	prepareID      = prepareCmd.Arg("id", "Player ID").Required().String()
	playCmd        = app.Command("play", "Start or resume playback")
	playID         = playCmd.Arg("id", "Player ID").Required().String()
	pauseCmd       = app.Command("pause", "Pause playback")
	pauseID        = pauseCmd.Arg("id", "Player ID").Required().String()
	toggleCmd      = app.Command("toggle", "Toggle play and pause")
	toggleID       = toggleCmd.Arg("id", "Player ID").Required().String()
	stopCmd        = app.Command("stop", "Stop playback")
	stopID         = stopCmd.Arg("id", "Player ID").Required().String()
	seekCmd        = app.Command("seek", "Move the playback position")
	seekID         = seekCmd.Arg("id", "Player ID").Required().String()
	seekPosition   = seekCmd.Arg("position", "Position (e.g. 90s, 1m30s)").Required().Duration()
	setCmd         = app.Command("set", "Change playback parameters")
	setID          = setCmd.Arg("id", "Player ID").Required().String()
	setVolume      = setCmd.Flag("volume", "Volume 0..1").IsSetByUser(&given.volume).Float64()
	setPan         = setCmd.Flag("pan", "Pan -1..1").IsSetByUser(&given.pan).Float64()
	setSpeed       = setCmd.Flag("speed", "Playback speed").IsSetByUser(&given.speed).Float64()
	setLooping     = setCmd.Flag("looping", "Repeat the media").IsSetByUser(&given.looping).Bool()
	setWakeLock    = setCmd.Flag("wake-lock", "Keep the device awake").IsSetByUser(&given.wakeLock).Bool()
	destroyCmd     = app.Command("destroy", "Release the media of a player")
	destroyID      = destroyCmd.Arg("id", "Player ID").Required().String()
	statusCmd      = app.Command("status", "Show a player")
	statusID       = statusCmd.Arg("id", "Player ID").Required().String()
	listCmd        = app.Command("list", "List all players").Alias("ls")
	removeCmd      = app.Command("remove", "Close and unregister a player").Alias("rm")
	removeID       = removeCmd.Arg("id", "Player ID").Required().String()
	simulateCmd    = app.Command("simulate", "Inject an engine event (simulated engine only)")
	simulateID     = simulateCmd.Arg("id", "Player ID").Required().String()
	simulateEvent  = simulateCmd.Arg("event", "Event to inject").Required().Enum("interrupt", "forcePause", "error")
	simulateReason = simulateCmd.Flag("message", "Error message").String()
	watchCmd       = app.Command("watch", "Stream the events of a player")
	watchID        = watchCmd.Arg("id", "Player ID").Required().String()
)

// given records which set flags appeared on the command line.
var given struct {
	volume, pan, speed, looping, wakeLock bool
}

func main() {
	// Load .env file if it exists (errors are ignored)
	_ = godotenv.Load()

	// Parse command
	command := kingpin.MustParse(app.Parse(os.Args[1:]))

	client := apiconnect.NewClient(http.DefaultClient, *server, *token)
	ctx := context.Background()

	switch command {
	case createCmd.FullCommand():
		create(ctx, client)
	case prepareCmd.FullCommand():
		printStatus(call(ctx, client, apiconnect.PlayerServicePrepareProcedure, target(*prepareID)))
	case playCmd.FullCommand():
		printStatus(call(ctx, client, apiconnect.PlayerServicePlayProcedure, target(*playID)))
	case pauseCmd.FullCommand():
		printStatus(call(ctx, client, apiconnect.PlayerServicePauseProcedure, target(*pauseID)))
	case toggleCmd.FullCommand():
		res := call(ctx, client, apiconnect.PlayerServicePlayPauseProcedure, target(*toggleID))
		fmt.Println(lo.Ternary(res["paused"] == true, "Paused", "Playing"))
		printStatus(res)
	case stopCmd.FullCommand():
		printStatus(call(ctx, client, apiconnect.PlayerServiceStopProcedure, target(*stopID)))
	case seekCmd.FullCommand():
		fields := target(*seekID)
		fields["position_ms"] = float64(seekPosition.Milliseconds())
		printStatus(call(ctx, client, apiconnect.PlayerServiceSeekProcedure, fields))
	case setCmd.FullCommand():
		set(ctx, client)
	case destroyCmd.FullCommand():
		printStatus(call(ctx, client, apiconnect.PlayerServiceDestroyProcedure, target(*destroyID)))
	case statusCmd.FullCommand():
		printStatus(call(ctx, client, apiconnect.PlayerServiceStatusProcedure, map[string]any{"id": *statusID}))
	case listCmd.FullCommand():
		list(ctx, client)
	case removeCmd.FullCommand():
		call(ctx, client, apiconnect.PlayerServiceRemoveProcedure, map[string]any{"id": *removeID})
		fmt.Printf("Player %s removed\n", *removeID)
	case simulateCmd.FullCommand():
		call(ctx, client, apiconnect.PlayerServiceSimulateProcedure, map[string]any{
			"id":      *simulateID,
			"event":   *simulateEvent,
			"message": *simulateReason,
		})
		fmt.Printf("Injected %s into %s\n", *simulateEvent, *simulateID)
	case watchCmd.FullCommand():
		watch(ctx, client, *watchID)
	}
}

// target builds the request of a single-player command.
func target(id string) map[string]any {
	return map[string]any{"id": id, "async": *async}
}

func call(ctx context.Context, client *apiconnect.Client, procedure string, fields map[string]any) map[string]any {
	res, err := client.Call(ctx, procedure, fields)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}
	return res
}

func create(ctx context.Context, client *apiconnect.Client) {
	options := make(map[string]any, len(*createOptions))
	for k, v := range *createOptions {
		options[k] = v
	}
	res := call(ctx, client, apiconnect.PlayerServiceCreateProcedure, map[string]any{
		"id":      *createID,
		"path":    *createPath,
		"options": options,
	})
	fmt.Printf("Created player %v\n", res["id"])

	if *createPrepare {
		res = call(ctx, client, apiconnect.PlayerServicePrepareProcedure, target(res["id"].(string)))
	}
	printStatus(res)
}

func set(ctx context.Context, client *apiconnect.Client) {
	fields := map[string]any{"id": *setID}
	if given.volume {
		fields["volume"] = *setVolume
	}
	if given.pan {
		fields["pan"] = *setPan
	}
	if given.speed {
		fields["speed"] = *setSpeed
	}
	if given.looping {
		fields["looping"] = *setLooping
	}
	if given.wakeLock {
		fields["wake_lock"] = *setWakeLock
	}
	printStatus(call(ctx, client, apiconnect.PlayerServiceSetProcedure, fields))
}

func list(ctx context.Context, client *apiconnect.Client) {
	res := call(ctx, client, apiconnect.PlayerServiceListProcedure, map[string]any{})
	players, _ := res["players"].([]any)
	if len(players) == 0 {
		fmt.Println("No players")
		return
	}

	fmt.Println("=== PLAYERS ===")
	for _, p := range players {
		s, _ := p.(map[string]any)
		fmt.Printf("  %-36s %-10s %s/%s  %s\n", s["id"], s["state"], s["position_readable"], s["duration_readable"], s["path"])
	}
}

func watch(ctx context.Context, client *apiconnect.Client, id string) {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	fmt.Println("Watching player events. Press Ctrl+C to exit.")
	err := client.Subscribe(ctx, id, func(ev map[string]any) bool {
		printEvent(ev)
		return true
	})
	if err != nil && ctx.Err() == nil {
		fmt.Printf("Stream error: %v\n", err)
		os.Exit(1)
	}
}

func printStatus(s map[string]any) {
	fmt.Println("\n=== PLAYER STATUS ===")
	fmt.Printf("ID: %v\n", s["id"])
	fmt.Printf("Path: %v\n", s["path"])
	fmt.Printf("State: %s\n", formatState(s["state"]))
	fmt.Printf("Position: %v / %v\n", s["position_readable"], s["duration_readable"])
	fmt.Printf("Volume: %v  Pan: %v  Speed: %v\n", s["volume"], s["pan"], s["speed"])
	fmt.Printf("Looping: %v  Wake lock: %v\n", s["looping"], s["wake_lock"])
	if opts, ok := s["options"].(map[string]any); ok {
		fmt.Println("Options:")
		keys := lo.Keys(opts)
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Printf("  %s: %v\n", k, opts[k])
		}
	}
	fmt.Println()
}

func printEvent(ev map[string]any) {
	fmt.Printf("\n[Sequence: %v] %s ", ev["sequence_no"], time.Now().Format(time.TimeOnly))

	data, _ := ev["data"].(map[string]any)
	switch ev["kind"] {
	case "status":
		fmt.Println("=== INITIAL STATE ===")
		fmt.Printf("  State: %s\n", formatState(data["state"]))
		fmt.Printf("  Position: %v / %v\n", data["position_readable"], data["duration_readable"])
	case "stateloading":
		fmt.Printf("=== %v: %v %v ===\n", data["message"], data["command"], data["step"])
	case "interval":
		info, _ := data["info"].(map[string]any)
		fmt.Printf("=== INTERVAL === %v / %v\n", info["positionReadable"], info["durationReadable"])
	case "ended":
		fmt.Println("=== ENDED ===")
	default:
		fmt.Printf("=== %v === %v\n", ev["kind"], data)
	}
}

func formatState(state any) string {
	switch state {
	case "idle":
		return "Idle"
	case "preparing":
		return "Preparing"
	case "prepared":
		return "Prepared (ready to play)"
	case "playing":
		return "Playing"
	case "paused":
		return "Paused"
	case "seeking":
		return "Seeking"
	case "error":
		return "Error (destroy to recover)"
	default:
		return fmt.Sprintf("Unknown (%v)", state)
	}
}
