package main

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	retry "github.com/appleboy/go-httpretry"
	"github.com/google/uuid"
	"github.com/joho/godotenv"

	tea "charm.land/bubbletea/v2"
	"github.com/go-authgate/session-cli/session"
	"github.com/go-authgate/session-cli/tui"
)

var (
	serverURL           string
	clientID            string
	tokenFile           string
	refreshInterval     time.Duration
	probeInterval       time.Duration
	verbose             bool
	flagServerURL       *string
	flagClientID        *string
	flagTokenFile       *string
	flagRefreshInterval *string
	flagProbeInterval   *string
	flagVerbose         *bool
	configInitialized   bool
	retryClient         *retry.Client
)

// Timeout configuration for different operations
const (
	deviceCodeRequestTimeout = 10 * time.Second
	tokenExchangeTimeout     = 5 * time.Second
	probeTimeout             = 10 * time.Second
)

// defaultProbeInterval is how often the kept-alive session is exercised
// against the server. Zero disables probing.
const defaultProbeInterval = 2 * time.Minute

func init() {
	// Load .env file if exists (ignore error if not found)
	_ = godotenv.Load()

	// Define flags (but don't parse yet to avoid conflicts with test flags)
	flagServerURL = flag.String(
		"server-url",
		"",
		"OAuth server URL (default: http://localhost:8080 or SERVER_URL env)",
	)
	flagClientID = flag.String("client-id", "", "OAuth client ID (required, or set CLIENT_ID env)")
	flagTokenFile = flag.String(
		"token-file",
		"",
		"Token storage file (default: .authgate-tokens.json or TOKEN_FILE env)",
	)
	flagRefreshInterval = flag.String(
		"refresh-interval",
		"",
		"Proactive token renewal period (default: 80% of token lifetime, or REFRESH_INTERVAL env)",
	)
	flagProbeInterval = flag.String(
		"probe-interval",
		"",
		"Session probe period, 0 disables (default: 2m or PROBE_INTERVAL env)",
	)
	flagVerbose = flag.Bool("verbose", false, "Enable debug logging (or VERBOSE env)")
}

// initConfig parses flags and initializes configuration
// Separated from init() to avoid conflicts with test flag parsing
func initConfig() {
	if configInitialized {
		return
	}
	configInitialized = true

	flag.Parse()

	// Priority: flag > env > default
	serverURL = getConfig(*flagServerURL, "SERVER_URL", "http://localhost:8080")
	clientID = getConfig(*flagClientID, "CLIENT_ID", "")
	tokenFile = getConfig(*flagTokenFile, "TOKEN_FILE", ".authgate-tokens.json")
	refreshInterval = getDurationConfig(*flagRefreshInterval, "REFRESH_INTERVAL", 0)
	probeInterval = getDurationConfig(*flagProbeInterval, "PROBE_INTERVAL", defaultProbeInterval)
	verbose = *flagVerbose || getEnv("VERBOSE", "") != ""

	// Validate SERVER_URL format
	if err := validateServerURL(serverURL); err != nil {
		fmt.Fprintf(os.Stderr, "Error: Invalid SERVER_URL: %v\n", err)
		os.Exit(1)
	}

	// Warn if using HTTP instead of HTTPS
	if strings.HasPrefix(strings.ToLower(serverURL), "http://") {
		fmt.Fprintln(
			os.Stderr,
			"⚠️  WARNING: Using HTTP instead of HTTPS. Tokens will be transmitted in plaintext!",
		)
		fmt.Fprintln(
			os.Stderr,
			"⚠️  This is only safe for local development. Use HTTPS in production.",
		)
		fmt.Fprintln(os.Stderr)
	}

	if clientID == "" {
		fmt.Println("Error: CLIENT_ID not set. Please provide it via:")
		fmt.Println("  1. Command line flag: -client-id=<your-client-id>")
		fmt.Println("  2. Environment variable: CLIENT_ID=<your-client-id>")
		fmt.Println("  3. .env file: CLIENT_ID=<your-client-id>")
		fmt.Println("\nYou can find the client_id in the server startup logs.")
		os.Exit(1)
	}

	// Validate CLIENT_ID format (should be UUID)
	if _, err := uuid.Parse(clientID); err != nil {
		fmt.Fprintf(
			os.Stderr,
			"⚠️  Warning: CLIENT_ID doesn't appear to be a valid UUID: %s\n",
			clientID,
		)
		fmt.Fprintln(
			os.Stderr,
			"⚠️  This may cause authentication issues if the server expects UUID format.",
		)
		fmt.Fprintln(os.Stderr)
	}

	// Initialize HTTP client with retry support
	baseHTTPClient := &http.Client{
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{
				MinVersion: tls.VersionTLS12,
			},
			MaxIdleConns:        10,
			IdleConnTimeout:     90 * time.Second,
			TLSHandshakeTimeout: 10 * time.Second,
			DisableKeepAlives:   false,
		},
	}

	// Wrap with retry logic using go-httpretry
	var err error
	retryClient, err = retry.NewBackgroundClient(
		retry.WithHTTPClient(baseHTTPClient),
	)
	if err != nil {
		panic(fmt.Sprintf("failed to create retry client: %v", err))
	}
}

// getConfig returns value with priority: flag > env > default
func getConfig(flagValue, envKey, defaultValue string) string {
	if flagValue != "" {
		return flagValue
	}
	return getEnv(envKey, defaultValue)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getDurationConfig parses a duration with priority: flag > env > default.
// A missing or invalid value selects the default.
func getDurationConfig(flagValue, envKey string, defaultValue time.Duration) time.Duration {
	raw := getConfig(flagValue, envKey, "")
	if raw == "" {
		return defaultValue
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d < 0 {
		fmt.Fprintf(os.Stderr, "⚠️  Warning: invalid %s duration %q, using %s\n", envKey, raw, defaultValue)
		return defaultValue
	}
	return d
}

// validateServerURL validates that the server URL is properly formatted
func validateServerURL(rawURL string) error {
	if rawURL == "" {
		return errors.New("server URL cannot be empty")
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid URL format: %w", err)
	}

	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("URL scheme must be http or https, got: %s", u.Scheme)
	}

	if u.Host == "" {
		return errors.New("URL must include a host")
	}

	return nil
}

func logLevel() slog.Level {
	if verbose {
		return slog.LevelDebug
	}
	return slog.LevelInfo
}

// isTTY reports whether stderr is a character device (interactive terminal).
// We check stderr because the TUI renders to stderr, allowing stdout to be piped.
func isTTY() bool {
	fi, err := os.Stderr.Stat()
	if err != nil {
		return false
	}
	return (fi.Mode() & os.ModeCharDevice) != 0
}

func main() {
	initConfig()

	if isTTY() {
		// Run TUI program on stderr so stdout pipes are not corrupted
		m := tui.NewModel()
		// WithInput(nil): disable stdin/keyboard input so BubbleTea skips terminal
		// capability queries (?2026/?2027). Ctrl+C is handled by signal.NotifyContext.
		p := tea.NewProgram(m, tea.WithOutput(os.Stderr), tea.WithInput(nil))

		var wg sync.WaitGroup
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := p.Run(); err != nil {
				fmt.Fprintf(os.Stderr, "TUI error: %v\n", err)
			}
		}()

		d := tui.NewProgramDisplayer(p)
		logger := slog.New(tui.NewLogHandler(p, logLevel()))
		d.Banner()
		runErr := run(d, logger)
		p.Quit() // let BubbleTea drain terminal query responses before exiting
		wg.Wait()
		if runErr != nil {
			os.Exit(1)
		}
	} else {
		d := tui.NewPlainDisplayer(os.Stderr)
		logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel()}))
		d.Banner()
		if err := run(d, logger); err != nil {
			os.Exit(1)
		}
	}
}

func run(d tui.Displayer, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store := openTokenStore(tokenFile, clientID)
	store.OnUpdate(func(s TokenStorage) {
		d.SessionRefreshed(time.Until(s.ExpiresAt))
	})

	renewer := newRenewalClient(serverURL, clientID, retryClient, store, logger)
	coord := session.NewCoordinator(renewer, logger)

	// A renewal that fails behind a 401 means interactive login is needed;
	// the pipeline raises the signal at most once per failed attempt and
	// the keep-alive loop below acts on it.
	reauth := make(chan struct{}, 1)
	notifier := session.ReauthNotifierFunc(func() {
		select {
		case reauth <- struct{}{}:
		default:
		}
	})
	pipeline := session.NewPipeline(retryClient, store, coord, notifier, logger)

	login := newLoginFlow(serverURL, clientID, retryClient, store)

	// Establish a usable session: stored tokens, a renewal, or a fresh
	// device flow, in that order.
	authed := false
	if store.HasCredentials() {
		d.TokensFound()
		if expiresIn := time.Until(store.ExpiresAt()); expiresIn > 0 {
			d.TokenValid(expiresIn)
			authed = true
		} else {
			d.TokenExpired()
			d.Refreshing()
			if coord.Refresh(ctx) {
				d.RefreshOK()
				authed = true
			} else {
				d.RefreshFailed()
			}
		}
	} else {
		d.TokensNotFound()
	}
	if !authed {
		if err := login.Run(ctx, d); err != nil {
			d.Fatal(err)
			return err
		}
	}

	current, ok := store.Current()
	if !ok {
		err := errors.New("no credentials after login")
		d.Fatal(err)
		return err
	}
	preview := current.AccessToken
	if len(preview) > 50 {
		preview = preview[:50]
	}
	d.SessionActive(preview, current.TokenType, time.Until(current.ExpiresAt))

	scheduler := session.NewScheduler(
		coord,
		session.ProcessResume{},
		chooseRefreshInterval(current.AccessToken, refreshInterval),
		logger,
	)
	scheduler.SetEnabled(true)
	defer scheduler.SetEnabled(false)
	d.KeepAliveStarted(scheduler.Interval(), probeInterval)

	if err := probeSession(ctx, pipeline, d); err != nil {
		d.ProbeFailed(err)
	}

	var probeC <-chan time.Time
	if probeInterval > 0 {
		probeTicker := time.NewTicker(probeInterval)
		defer probeTicker.Stop()
		probeC = probeTicker.C
	}

	for {
		select {
		case <-ctx.Done():
			d.Stopping()
			return nil

		case <-probeC:
			if err := probeSession(ctx, pipeline, d); err != nil {
				d.ProbeFailed(err)
			}

		case <-reauth:
			d.ReAuthRequired()
			scheduler.SetEnabled(false)
			if err := login.Run(ctx, d); err != nil {
				d.Fatal(err)
				return err
			}
			scheduler.SetEnabled(true)
			// Drop signals raised by probes that failed while the device
			// flow was still running.
			select {
			case <-reauth:
			default:
			}
		}
	}
}

// probeSession exercises the session once against the token info endpoint.
// An expired access token comes back renewed transparently through the
// pipeline's 401 handling.
func probeSession(ctx context.Context, p *session.Pipeline, d tui.Displayer) error {
	reqCtx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	resp, err := p.Get(reqCtx, serverURL+"/oauth/tokeninfo")
	if err != nil {
		return fmt.Errorf("probe request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		var errResp ErrorResponse
		if err := json.Unmarshal(body, &errResp); err == nil && errResp.Error != "" {
			return fmt.Errorf("%s: %s", errResp.Error, errResp.ErrorDescription)
		}
		return fmt.Errorf("probe failed with status %d: %s", resp.StatusCode, string(body))
	}

	d.ProbeOK(strings.TrimSpace(string(body)))
	return nil
}
