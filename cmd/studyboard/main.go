// Command studyboard is an interactive terminal client for the study-group
// collaboration board. It wires the session store, inactivity watchdog, and
// notification sync engine together and drives them from a small command
// prompt; every prompt command counts as user activity.
package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/studyboard/studyboard-client/internal/api"
	"github.com/studyboard/studyboard-client/internal/config"
	"github.com/studyboard/studyboard-client/internal/domain"
	"github.com/studyboard/studyboard-client/internal/logging"
	"github.com/studyboard/studyboard-client/internal/notify"
	"github.com/studyboard/studyboard-client/internal/platform/apperrors"
	"github.com/studyboard/studyboard-client/internal/session"
	"github.com/studyboard/studyboard-client/internal/store"
)

func setupConfig() *config.Config {
	// Use log before slog is initialized
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Printf("Skipping .env file: %v", err)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	return cfg
}

func setupCredentialStore(cfg *config.Config) domain.CredentialStore {
	creds, err := store.NewFileStore(cfg.StateDir)
	if err != nil {
		slog.Error("Failed to open credential store", "state_dir", cfg.StateDir, "error", err)
		os.Exit(1)
	}
	return creds
}

func startMetricsServer(addr string) {
	if addr == "" {
		return
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	go func() {
		slog.Info("Metrics server starting", "addr", addr)
		if err := http.ListenAndServe(addr, mux); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Metrics server error", "error", err)
		}
	}()
}

// consoleNavigator prints the navigation target; a full UI shell would route
// to the study surface instead.
type consoleNavigator struct{}

func (consoleNavigator) OpenStudyPost(studyID, postID int64) {
	fmt.Printf("-> opening study %d, post %d\n", studyID, postID)
}

func (consoleNavigator) OpenStudyIssue(studyID, issueID int64) {
	fmt.Printf("-> opening study %d, issue %d\n", studyID, issueID)
}

func main() {
	clock := clockwork.NewRealClock()

	cfg := setupConfig()

	logging.InitLogger(cfg.LogLevel, cfg.LogFormat)
	slog.Info("Client starting", "server_url", cfg.ServerURL, "state_dir", cfg.StateDir)

	startMetricsServer(cfg.MetricsAddr)

	client := api.New(cfg.ServerURL, clock)
	credStore := setupCredentialStore(cfg)
	sessions := session.NewStore(client, credStore)
	client.SetTokenSource(sessions.Token)

	watchdog := session.NewWatchdog(sessions, clock, cfg.InactivityTimeout,
		func(msg string) { fmt.Println(msg) },
		func() { fmt.Println("Please log in again.") },
	)

	engine := notify.NewEngine(client, clock, cfg.PollInterval, cfg.PageSize)
	view := notify.NewView(engine, consoleNavigator{}, watchdog.Activity)

	sessions.Subscribe(watchdog.HandleSession)
	sessions.Subscribe(engine.HandleSession)

	// Any 401 outside the credential exchange means the token is dead.
	client.SetUnauthorizedHandler(func() {
		sessions.ForceLogout(context.Background(), session.ReasonUnauthorized)
		fmt.Println("Session expired. Please log in again.")
	})

	unsubscribe := engine.Subscribe(func(s notify.Snapshot) {
		slog.Debug("Notification mirror updated", "items", len(s.Items), "unread", s.UnreadCount)
	})
	defer unsubscribe()

	if sess := sessions.Restore(context.Background()); sess.Status == domain.StatusAuthenticated {
		fmt.Printf("Welcome back, %s.\n", sess.User.Username)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		slog.Info("Shutdown signal received")
		watchdog.Disarm()
		os.Exit(0)
	}()

	runPrompt(sessions, watchdog, view, engine)
}

func runPrompt(sessions *session.Store, watchdog *session.Watchdog, view *notify.View, engine *notify.Engine) {
	fmt.Println(`Type "help" for commands.`)
	scanner := bufio.NewScanner(os.Stdin)

	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			return
		}

		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}
		watchdog.Activity()

		ctx := context.Background()
		cmd, args := fields[0], fields[1:]

		switch cmd {
		case "help":
			printHelp()
		case "login":
			runLogin(ctx, sessions, args)
		case "register":
			runRegister(ctx, sessions, args)
		case "logout":
			sessions.Logout(ctx)
			fmt.Println("Logged out.")
		case "whoami":
			printSession(sessions.Current())
		case "notifications":
			runOpenList(ctx, view, args)
		case "unread":
			fmt.Printf("%d unread\n", engine.Snapshot().UnreadCount)
		case "open":
			runOpen(ctx, view, engine, args)
		case "read":
			runMarkRead(ctx, view, args)
		case "read-all":
			reportIntent(view.MarkAllRead(ctx))
		case "delete":
			runDelete(ctx, view, args)
		case "clear":
			reportIntent(view.ClearAll(ctx))
		case "quit", "exit":
			return
		default:
			fmt.Printf("Unknown command %q. Type \"help\" for commands.\n", cmd)
		}
	}
}

func printHelp() {
	fmt.Println(`Commands:
  login <email> <password>               authenticate
  register <email> <username> <password> create an account
  logout                                 end the session
  whoami                                 show the current session
  notifications [unread]                 fetch and list notifications
  unread                                 show the unread count
  open <id>                              open a notification's target
  read <id>                              mark one notification read
  read-all                               mark everything read
  delete <id>                            delete one notification
  clear                                  delete everything
  quit                                   exit`)
}

func runLogin(ctx context.Context, sessions *session.Store, args []string) {
	if len(args) != 2 {
		fmt.Println("Usage: login <email> <password>")
		return
	}

	user, err := sessions.Login(ctx, args[0], args[1])
	if err != nil {
		fmt.Printf("Login failed: %s\n", userMessage(err))
		return
	}
	fmt.Printf("Logged in as %s.\n", user.Username)
}

func runRegister(ctx context.Context, sessions *session.Store, args []string) {
	if len(args) != 3 {
		fmt.Println("Usage: register <email> <username> <password>")
		return
	}

	user, err := sessions.Register(ctx, args[0], args[1], args[2])
	if err != nil {
		fmt.Printf("Registration failed: %s\n", userMessage(err))
		return
	}
	fmt.Printf("Account %q created. Log in to continue.\n", user.Username)
}

func printSession(sess domain.Session) {
	if sess.Status != domain.StatusAuthenticated {
		fmt.Println("Not logged in.")
		return
	}
	fmt.Printf("%s <%s> (id %d)\n", sess.User.Username, sess.User.Email, sess.User.ID)
}

func runOpenList(ctx context.Context, view *notify.View, args []string) {
	fetch := view.OpenList
	switch {
	case len(args) == 1 && args[0] == "unread":
		fetch = view.OpenUnreadList
	case len(args) > 0:
		fmt.Println("Usage: notifications [unread]")
		return
	}

	snap, err := fetch(ctx)
	if err != nil {
		fmt.Printf("Could not fetch notifications: %s\n", userMessage(err))
		return
	}

	if len(snap.Items) == 0 {
		fmt.Println("No notifications.")
		return
	}

	fmt.Printf("%d total, %d unread:\n", snap.Total, snap.UnreadCount)
	for _, n := range snap.Items {
		marker := " "
		if !n.IsRead {
			marker = "*"
		}
		fmt.Printf("%s [%d] %s (%s)\n", marker, n.ID, n.Message, n.Type)
	}
}

func runOpen(ctx context.Context, view *notify.View, engine *notify.Engine, args []string) {
	id, ok := parseID(args, "open")
	if !ok {
		return
	}

	for _, n := range engine.Snapshot().Items {
		if n.ID == id {
			reportIntent(view.Open(ctx, n))
			return
		}
	}
	fmt.Printf("No notification %d in the current list.\n", id)
}

func runMarkRead(ctx context.Context, view *notify.View, args []string) {
	if id, ok := parseID(args, "read"); ok {
		reportIntent(view.MarkOneRead(ctx, id))
	}
}

func runDelete(ctx context.Context, view *notify.View, args []string) {
	if id, ok := parseID(args, "delete"); ok {
		reportIntent(view.DeleteOne(ctx, id))
	}
}

func parseID(args []string, cmd string) (int64, bool) {
	if len(args) != 1 {
		fmt.Printf("Usage: %s <id>\n", cmd)
		return 0, false
	}

	id, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		fmt.Printf("Invalid id %q\n", args[0])
		return 0, false
	}
	return id, true
}

func reportIntent(err error) {
	if err == nil {
		return
	}
	if errors.Is(err, domain.ErrNotActive) {
		fmt.Println("Log in first.")
		return
	}
	fmt.Println(userMessage(err))
}

// userMessage strips the taxonomy prefix for terminal display.
func userMessage(err error) string {
	var structured *apperrors.Error
	if errors.As(err, &structured) {
		return structured.Message
	}
	return err.Error()
}
