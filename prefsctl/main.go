package main

import (
	"context"
	"fmt"
	"log"
	"net"
	"os"
	"slices"
	"strconv"
	"syscall"
	"time"

	"github.com/docopt/docopt-go"
	"golang.org/x/exp/maps"
	"golang.org/x/term"

	"github.com/bringyour/prefsync/prefs"
)

const LocalVersion = "0.0.0-local"

const SessionPath = "/session"

var Out *log.Logger
var Err *log.Logger

func init() {
	Out = log.New(os.Stdout, "", 0)
	Err = log.New(os.Stderr, "", log.Ldate|log.Ltime|log.Lshortfile)
}

func main() {
	usage := `Session settings control.

The environment sets the defaults:
    PREFSYNC_ADDR       host listen address (:8080)
    PREFSYNC_PREFS      preference file (prefs.toml)
    PREFSYNC_SECRET     join token secret
    PREFSYNC_JWT        join token
    PREFSYNC_TOKEN_TTL  join token lifetime (24h)

Usage:
    prefsctl host [--addr=<addr>] [--prefs=<prefs>] [--secret=<secret>] [--session=<session>]
    prefsctl join <url> [--prefs=<prefs>] [--jwt=<jwt>]
    prefsctl token [--secret=<secret>] [--session=<session>] [--ttl=<ttl>]
    prefsctl show [--prefs=<prefs>]
    prefsctl set <category> <name> <value> [--prefs=<prefs>]
    prefsctl simulate [--peers=<peers>] [--changes=<changes>] [-v]

Options:
    -h --help              Show this screen.
    --version              Show version.
    --addr=<addr>          Host listen address.
    --prefs=<prefs>        Preference file.
    --secret=<secret>      Join token secret. Prompted when unset.
    --session=<session>    Session name [default: default].
    --jwt=<jwt>            Join token.
    --ttl=<ttl>            Join token lifetime.
    --peers=<peers>        Simulated peers [default: 3].
    --changes=<changes>    Mortality changes [default: 4].
    -v                     Log every simulated transition.`

	opts, err := docopt.ParseArgs(usage, os.Args[1:], RequireVersion())
	if err != nil {
		panic(err)
	}

	config, err := LoadConfig()
	if err != nil {
		Err.Fatal(err)
	}
	if err := config.ApplyOpts(opts); err != nil {
		Err.Fatal(err)
	}

	if host_, _ := opts.Bool("host"); host_ {
		host(config, opts)
	} else if join_, _ := opts.Bool("join"); join_ {
		join(config, opts)
	} else if token_, _ := opts.Bool("token"); token_ {
		token(config, opts)
	} else if show_, _ := opts.Bool("show"); show_ {
		show(config)
	} else if set_, _ := opts.Bool("set"); set_ {
		set(config, opts)
	} else if simulate_, _ := opts.Bool("simulate"); simulate_ {
		simulate(opts)
	}
}

func host(config *Config, opts docopt.Opts) {
	event := prefs.NewEventWithContext(context.Background())
	event.SetOnSignals(syscall.SIGINT, syscall.SIGQUIT, syscall.SIGTERM)
	ctx := event.Ctx()

	secret := requireSecret(config)
	sessionName, _ := opts.String("--session")

	store := prefs.NewTomlPreferenceStore(config.PrefsPath)
	settings := loadSettings(store)

	transport := prefs.NewWsHostTransportWithDefaults(ctx, secret)
	defer transport.Close()
	coordinator := settings.NewCoordinator(ctx, prefs.RoleAuthoritative, transport)
	defer coordinator.Close()
	// the host is participant 0
	if err := coordinator.PublishClientSettings(); err != nil {
		Err.Printf("publish client settings: %s\n", err)
	}

	hostLog := prefs.LogFn(prefs.LogLevelUrgent, "host")
	transport.AddPeerJoinedCallback(func(peerId prefs.Id, smallId prefs.SmallId) {
		hostLog("peer %d joined (%s)", smallId, peerId)
	})
	transport.AddPeerLeftCallback(func(peerId prefs.Id, smallId prefs.SmallId) {
		hostLog("peer %d left (%s)", smallId, peerId)
	})

	api, err := StartHostApi(
		HostApiOptions{
			Addr:        config.Addr,
			SessionName: sessionName,
			Settings:    settings,
			Transport:   transport,
		},
		func(err error) {
			Err.Printf("host error: %s\n", err)
			event.Set()
		},
	)
	if err != nil {
		Err.Fatal(err)
	}
	defer api.StopApi()

	jwt, err := prefs.NewJoinJwt(secret, prefs.NewId(), sessionName, config.TokenTtl)
	if err != nil {
		Err.Fatal(err)
	}
	Out.Printf("Hosting session %s on %s\n", sessionName, config.Addr)
	Out.Printf("Join with: prefsctl join %s --jwt=%s\n", sessionUrl(config.Addr), jwt)

	newConsole(settings, coordinator, store, newRenderer(os.Stdout), os.Stdout).run(ctx, os.Stdin)
	event.Set()
}

func join(config *Config, opts docopt.Opts) {
	url, _ := opts.String("<url>")
	if config.Jwt == "" {
		Err.Fatal("Join token required. Set PREFSYNC_JWT or --jwt.")
	}
	joinJwt, err := prefs.ParseJoinJwtUnverified(config.Jwt)
	if err != nil {
		Err.Fatal(err)
	}

	event := prefs.NewEventWithContext(context.Background())
	event.SetOnSignals(syscall.SIGINT, syscall.SIGQUIT, syscall.SIGTERM)
	ctx := event.Ctx()

	store := prefs.NewTomlPreferenceStore(config.PrefsPath)
	settings := loadSettings(store)

	transport := prefs.NewWsPeerTransportWithDefaults(ctx, url, config.Jwt)
	defer transport.Close()
	joinLog := prefs.LogFn(prefs.LogLevelUrgent, "join")
	transport.AddConnectionChangedCallback(func(connected bool) {
		if connected {
			joinLog("joined %s as peer %d", joinJwt.SessionName, transport.LocalSmallId())
		} else {
			joinLog("disconnected from %s", joinJwt.SessionName)
		}
	})
	// starts the transport. The coordinator clears the session state on disconnect
	// and republishes our client settings on each connect.
	coordinator := settings.NewCoordinator(ctx, prefs.RolePeer, transport)
	defer coordinator.Close()

	Out.Printf("Joining %s as %s\n", url, joinJwt.ClientId)
	newConsole(settings, coordinator, store, newRenderer(os.Stdout), os.Stdout).run(ctx, os.Stdin)
	event.Set()
}

func token(config *Config, opts docopt.Opts) {
	secret := requireSecret(config)
	sessionName, _ := opts.String("--session")

	jwt, err := prefs.NewJoinJwt(secret, prefs.NewId(), sessionName, config.TokenTtl)
	if err != nil {
		Err.Fatal(err)
	}
	Out.Printf("%s\n", jwt)
}

func show(config *Config) {
	settings := loadSettings(prefs.NewTomlPreferenceStore(config.PrefsPath))
	newConsole(settings, nil, nil, newRenderer(os.Stdout), os.Stdout).show()
}

func set(config *Config, opts docopt.Opts) {
	categoryName, _ := opts.String("<category>")
	name, _ := opts.String("<name>")
	value, _ := opts.String("<value>")

	store := prefs.NewTomlPreferenceStore(config.PrefsPath)
	settings := loadSettings(store)
	setConsole := newConsole(settings, nil, store, newRenderer(os.Stdout), os.Stdout)
	err := setConsole.set(categoryName, name, func(pref prefs.AnyPreference) error {
		return pref.SetText(value)
	})
	if err != nil {
		Err.Fatal(err)
	}
}

func simulate(opts docopt.Opts) {
	peersStr, _ := opts.String("--peers")
	peerCount, err := strconv.Atoi(peersStr)
	if err != nil {
		Err.Fatalf("--peers: %s", err)
	}
	changesStr, _ := opts.String("--changes")
	changeCount, err := strconv.Atoi(changesStr)
	if err != nil {
		Err.Fatalf("--changes: %s", err)
	}
	if verbose, _ := opts.Bool("-v"); verbose {
		prefs.GlobalLogLevel = prefs.LogLevelInfo
	}

	event := prefs.NewEventWithContext(context.Background())
	event.SetOnSignals(syscall.SIGINT, syscall.SIGQUIT, syscall.SIGTERM)
	defer event.Set()

	result, err := runSimulation(
		event.Ctx(),
		&simulationSettings{
			PeerCount:     peerCount,
			ChangeCount:   changeCount,
			SettleTimeout: 5 * time.Second,
		},
		prefs.LogFn(prefs.LogLevelInfo, "simulate"),
	)
	if err != nil {
		Err.Fatal(err)
	}

	smallIds := maps.Keys(result.Transitions)
	slices.Sort(smallIds)
	for _, smallId := range smallIds {
		Out.Printf("peer %d: %d transitions\n", smallId, result.Transitions[smallId])
	}
	Out.Printf("converged: %t\n", result.Converged)
}

// a load error keeps whatever values did load
func loadSettings(store *prefs.TomlPreferenceStore) *prefs.SessionSettings {
	settings := prefs.NewSessionSettings()
	if err := store.Load(settings.Categories()...); err != nil {
		Err.Printf("load %s: %s\n", store.Path(), err)
	}
	return settings
}

func requireSecret(config *Config) []byte {
	if config.Secret != "" {
		return []byte(config.Secret)
	}
	if !term.IsTerminal(int(syscall.Stdin)) {
		Err.Fatal("Secret required. Set PREFSYNC_SECRET or --secret.")
	}
	fmt.Print("Secret: ")
	secretBytes, err := term.ReadPassword(int(syscall.Stdin))
	if err != nil {
		panic(err)
	}
	fmt.Printf("\n")
	if len(secretBytes) == 0 {
		Err.Fatal("Secret required.")
	}
	return secretBytes
}

// the url peers join with, for a listen address
func sessionUrl(addr string) string {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return fmt.Sprintf("ws://%s%s", addr, SessionPath)
	}
	if host == "" {
		host = "localhost"
	}
	return fmt.Sprintf("ws://%s%s", net.JoinHostPort(host, port), SessionPath)
}

func RequireVersion() string {
	if version := os.Getenv("PREFSYNC_VERSION"); version != "" {
		return version
	}
	return LocalVersion
}
