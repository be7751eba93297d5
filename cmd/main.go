package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/exec"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/solidtime-io/tracker-companion/config"
	"github.com/solidtime-io/tracker-companion/internal/api"
	"github.com/solidtime-io/tracker-companion/internal/bridge"
	"github.com/solidtime-io/tracker-companion/internal/db"
	"github.com/solidtime-io/tracker-companion/internal/oauth"
	"github.com/solidtime-io/tracker-companion/internal/platform"
	"github.com/solidtime-io/tracker-companion/internal/popup"
	"github.com/solidtime-io/tracker-companion/internal/session"
	"github.com/solidtime-io/tracker-companion/internal/store"
	syncer "github.com/solidtime-io/tracker-companion/internal/sync"
	"github.com/solidtime-io/tracker-companion/internal/tracker"

	tea "github.com/charmbracelet/bubbletea"
)

// redirectURL is the loopback callback served by the OAuth driver during
// interactive logins.
const redirectURL = "http://127.0.0.1:46822/callback"

func main() {
	// Define command-line flags
	configPath := flag.String("config", "companion.json", "Path to configuration file")
	createConfig := flag.Bool("init", false, "Create a default configuration file if it doesn't exist")
	login := flag.Bool("login", false, "Run the interactive login flow")
	logout := flag.Bool("logout", false, "Forget the stored session")
	daemon := flag.Bool("daemon", false, "Run the background daemon serving the browser bridge")
	popupUI := flag.Bool("popup", false, "Open the interactive timer popup")
	status := flag.Bool("status", false, "Show the current timer state")
	startDesc := flag.String("start", "", "Start a timer with the given description")
	stop := flag.Bool("stop", false, "Stop the running timer")
	syncAll := flag.Bool("sync", false, "Sync remote data into the local cache")
	report := flag.Bool("report", false, "Show tracked time per day from the local cache")
	flag.Parse()

	// Create default configuration if requested
	if *createConfig {
		if err := config.CreateDefaultConfig(*configPath); err != nil {
			log.Fatalf("Failed to create default configuration: %v", err)
		}
		log.Printf("Created default configuration at %s", *configPath)
		return
	}

	// Load configuration
	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Open the shared store
	st, err := store.Open(cfg.StorePath)
	if err != nil {
		log.Fatalf("Failed to open shared store: %v", err)
	}
	defer st.Close()

	if err := st.Watch(); err != nil {
		log.Fatalf("Failed to watch shared store: %v", err)
	}

	ctx := context.Background()

	switch {
	case *login:
		runLogin(ctx, cfg, st)
	case *logout:
		runLogout(cfg, st)
	case *daemon:
		runDaemon(ctx, cfg, st)
	case *popupUI:
		runPopup(cfg, st)
	case *status:
		runStatus(ctx, cfg, st)
	case *startDesc != "":
		runStart(ctx, cfg, st, *startDesc)
	case *stop:
		runStop(ctx, cfg, st)
	case *syncAll:
		runSync(ctx, cfg, st)
	case *report:
		runReport(cfg, st)
	default:
		fmt.Println("solidtime tracker companion")
		fmt.Println("---------------------------")
		fmt.Println("Use -daemon to serve the browser bridge")
		fmt.Println("Use -login / -logout to manage the session")
		fmt.Println("Use -popup for the interactive timer")
		fmt.Println("Use -status, -start <description>, -stop for quick timer actions")
		fmt.Println("Use -sync and -report for the offline cache")
		fmt.Println("Use -init to create a default configuration file")
		fmt.Println()
		fmt.Printf("The instance endpoint can be overridden via the %s environment variable\n", config.EnvInstanceEndpoint)
	}
}

// daemonSession builds the session manager used by privileged contexts: the
// daemon refreshes tokens directly through the OAuth driver.
func daemonSession(cfg *config.Config, st *store.Store) *session.Manager {
	driver := oauth.NewDriver(cfg.InstanceEndpoint, cfg.InstanceClientID, redirectURL)
	return session.NewManager(st, driver)
}

// popupSession builds the session manager used by non-privileged contexts:
// refreshes go through the bridge to the daemon.
func popupSession(cfg *config.Config, st *store.Store) *session.Manager {
	client := bridge.NewClient(cfg.BridgeAddr, cfg.InstanceEndpoint, cfg.InstanceClientID)
	return session.NewManager(st, client)
}

func runLogin(ctx context.Context, cfg *config.Config, st *store.Store) {
	driver := oauth.NewDriver(cfg.InstanceEndpoint, cfg.InstanceClientID, redirectURL)

	sess, err := driver.Login(ctx, openBrowser)
	if err != nil {
		log.Fatalf("Login failed: %v", err)
	}

	manager := session.NewManager(st, driver)
	defer manager.Close()
	if err := manager.SetSession(*sess); err != nil {
		log.Fatalf("Failed to store session: %v", err)
	}
	log.Printf("Logged in to %s", cfg.InstanceEndpoint)
}

func runLogout(cfg *config.Config, st *store.Store) {
	manager := daemonSession(cfg, st)
	defer manager.Close()
	if err := manager.Clear(); err != nil {
		log.Fatalf("Failed to clear session: %v", err)
	}
	log.Printf("Logged out")
}

func runDaemon(ctx context.Context, cfg *config.Config, st *store.Store) {
	// Publish the deployment configuration for bridge clients.
	err := st.SetMany(map[string]string{
		store.KeyInstanceEndpoint: cfg.InstanceEndpoint,
		store.KeyInstanceClientID: cfg.InstanceClientID,
	})
	if err != nil {
		log.Fatalf("Failed to publish instance configuration: %v", err)
	}

	manager := daemonSession(cfg, st)
	defer manager.Close()

	client := api.NewClient(cfg.InstanceEndpoint, manager)
	tr := tracker.New(client, st)

	server := bridge.NewServer(cfg.BridgeAddr, redirectURL, manager, tr)
	server.OpenURL = openBrowser
	if cfg.GitHubToken != "" {
		server.SetEnricher(platform.NewTitleEnricher(cfg.GitHubToken))
	}

	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := server.ListenAndServe(ctx); err != nil {
		log.Fatalf("Bridge server failed: %v", err)
	}
}

func runPopup(cfg *config.Config, st *store.Store) {
	manager := popupSession(cfg, st)
	defer manager.Close()

	client := api.NewClient(cfg.InstanceEndpoint, manager)
	tr := tracker.New(client, st)

	model := popup.New(tr, client, st, manager)
	if _, err := tea.NewProgram(model, tea.WithAltScreen()).Run(); err != nil {
		log.Fatalf("Popup failed: %v", err)
	}
}

func runStatus(ctx context.Context, cfg *config.Config, st *store.Store) {
	manager := daemonSession(cfg, st)
	defer manager.Close()

	client := api.NewClient(cfg.InstanceEndpoint, manager)
	tr := tracker.New(client, st)

	entry, err := tr.CurrentEntry(ctx)
	if err != nil {
		log.Fatalf("Failed to fetch timer state: %v", err)
	}
	if entry == nil || !entry.Active() {
		fmt.Println("No timer running")
		return
	}

	elapsed := "unknown"
	if start, parseErr := time.Parse(time.RFC3339, entry.Start); parseErr == nil {
		elapsed = time.Since(start).Round(time.Second).String()
	}
	fmt.Printf("Tracking %q for %s\n", entry.Description, elapsed)
}

func runStart(ctx context.Context, cfg *config.Config, st *store.Store, description string) {
	manager := daemonSession(cfg, st)
	defer manager.Close()

	client := api.NewClient(cfg.InstanceEndpoint, manager)
	tr := tracker.New(client, st)

	entry, done, err := tr.Start(ctx, tracker.Draft{Description: description})
	if err != nil {
		log.Fatalf("Failed to start timer: %v", err)
	}
	if err := <-done; err != nil {
		log.Fatalf("Failed to start timer: %v", err)
	}
	fmt.Printf("Started tracking %q at %s\n", description, entry.Start)
}

func runStop(ctx context.Context, cfg *config.Config, st *store.Store) {
	manager := daemonSession(cfg, st)
	defer manager.Close()

	client := api.NewClient(cfg.InstanceEndpoint, manager)
	tr := tracker.New(client, st)

	done, err := tr.Stop(ctx, nil)
	if err != nil {
		log.Fatalf("Failed to stop timer: %v", err)
	}
	if err := <-done; err != nil {
		log.Fatalf("Failed to stop timer: %v", err)
	}
	fmt.Println("Timer stopped")
}

func runSync(ctx context.Context, cfg *config.Config, st *store.Store) {
	manager := daemonSession(cfg, st)
	defer manager.Close()

	database, err := db.New(cfg.DatabasePath)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer database.Close()

	if err := database.Initialize(); err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}

	client := api.NewClient(cfg.InstanceEndpoint, manager)

	startTime := time.Now()
	if err := syncer.New(database, client).SyncAll(ctx); err != nil {
		log.Fatalf("Sync failed: %v", err)
	}
	log.Printf("Sync completed in %v", time.Since(startTime))
}

func runReport(cfg *config.Config, st *store.Store) {
	database, err := db.New(cfg.DatabasePath)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer database.Close()

	if err := database.Initialize(); err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}

	orgID := st.Get(store.KeyOrganizationID)
	if orgID == "" {
		log.Fatalf("No organization selected; open the popup and pick one first")
	}

	totals, err := database.DailyTotals(orgID, 14)
	if err != nil {
		log.Fatalf("Failed to compute report: %v", err)
	}
	if len(totals) == 0 {
		fmt.Println("No cached time entries; run -sync first")
		return
	}

	for _, t := range totals {
		fmt.Printf("%s  %8s  (%d entries)\n", t.Day, (time.Duration(t.Seconds) * time.Second).String(), t.Entries)
	}
}

// openBrowser launches url in the user's default browser, falling back to
// printing it.
func openBrowser(url string) error {
	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "darwin":
		cmd = exec.Command("open", url)
	case "windows":
		cmd = exec.Command("rundll32", "url.dll,FileProtocolHandler", url)
	default:
		cmd = exec.Command("xdg-open", url)
	}
	if err := cmd.Start(); err != nil {
		fmt.Printf("Open this URL to authorize: %s\n", url)
	}
	return nil
}
