// Command authfront-login drives a full PKCE login from a native surface: it
// requests an authentication URL, waits for the provider redirect on a
// loopback listener, and runs the continuation sequence to completion.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/averlane/authfront"
	"github.com/averlane/authfront/internal/log"
)

var BuildVersion = "dev"

type settings struct {
	ProviderURL   string `env:"AUTHFRONT_PROVIDER_URL"`
	ApplicationID string `env:"AUTHFRONT_APPLICATION_ID"`
	ConnectionID  string `env:"AUTHFRONT_CONNECTION_ID"`
	ListenAddr    string `env:"AUTHFRONT_LISTEN_ADDR" envDefault:"127.0.0.1:53682"`
}

func main() {
	var cfg settings
	if err := env.Parse(&cfg); err != nil {
		log.LogError("Failed to parse environment: %v", err)
		os.Exit(1)
	}

	flag.StringVar(&cfg.ProviderURL, "provider", cfg.ProviderURL, "identity provider base URL")
	flag.StringVar(&cfg.ApplicationID, "app", cfg.ApplicationID, "application identifier")
	flag.StringVar(&cfg.ConnectionID, "connection", cfg.ConnectionID, "connection to authenticate against")
	flag.StringVar(&cfg.ListenAddr, "listen", cfg.ListenAddr, "loopback address for the redirect listener")
	version := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *version {
		fmt.Printf("authfront-login %s\n", BuildVersion)
		return
	}
	if cfg.ProviderURL == "" || cfg.ApplicationID == "" || cfg.ConnectionID == "" {
		fmt.Fprintln(os.Stderr, "usage: authfront-login -provider URL -app ID -connection ID")
		os.Exit(2)
	}

	if err := run(cfg); err != nil {
		log.LogError("Login failed: %v", err)
		os.Exit(1)
	}
}

func run(cfg settings) error {
	redirectURL := "http://" + cfg.ListenAddr + "/callback"

	environment, err := authfront.NewMemoryEnvironment(redirectURL)
	if err != nil {
		return err
	}
	client, err := authfront.New(cfg.ProviderURL, cfg.ApplicationID, environment)
	if err != nil {
		return err
	}

	landed := make(chan *url.URL, 1)
	server := &http.Server{Addr: cfg.ListenAddr, Handler: callbackHandler(cfg.ListenAddr, landed)}
	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.LogError("Redirect listener failed: %v", err)
			os.Exit(1)
		}
	}()
	defer server.Shutdown(context.Background())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	established, err := client.Authenticate(ctx, authfront.AuthenticateOptions{
		ConnectionID: cfg.ConnectionID,
		RedirectURL:  redirectURL,
	})
	if err != nil {
		return err
	}
	if !established {
		navigations := environment.Navigations()
		if len(navigations) == 0 {
			return fmt.Errorf("provider returned no authentication URL")
		}
		fmt.Printf("Open the following URL in your browser:\n\n  %s\n\n", navigations[len(navigations)-1])

		select {
		case callback := <-landed:
			environment.SetLocation(callback)
		case <-ctx.Done():
			return fmt.Errorf("timed out waiting for the provider redirect")
		}

		established, err = client.CheckSession(ctx)
		if err != nil {
			return err
		}
	}
	if !established {
		return fmt.Errorf("no session was established")
	}

	identity, ok := client.IdentityClaims()
	if !ok {
		fmt.Println("Logged in (no readable identity token).")
		return nil
	}
	pretty, err := json.MarshalIndent(identity, "", "  ")
	if err != nil {
		return err
	}
	fmt.Printf("Logged in.\n%s\n", pretty)
	return nil
}

func callbackHandler(listenAddr string, landed chan<- *url.URL) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/callback" {
			http.NotFound(w, r)
			return
		}
		full := *r.URL
		full.Scheme = "http"
		full.Host = listenAddr
		select {
		case landed <- &full:
		default:
		}
		fmt.Fprintln(w, "Login received. You can close this tab.")
	})
}
