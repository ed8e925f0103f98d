package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"golang.org/x/oauth2"

	"trainer/internal/provider"
)

const (
	// CallbackPort is the default port for the OAuth callback server
	CallbackPort = 8089
	// AuthTimeout is how long to wait for the user to complete auth
	AuthTimeout = 5 * time.Minute
)

// CallbackOptions controls the local callback server
type CallbackOptions struct {
	Port    int
	Timeout time.Duration
	Out     io.Writer // where the authorization URL is printed
}

// Authenticate runs the OAuth flow with a local callback server and exchanges
// the returned code for a token.
func Authenticate(ctx context.Context, p provider.Name, cfg *oauth2.Config, opts CallbackOptions) (*AuthResult, error) {
	if opts.Port == 0 {
		opts.Port = CallbackPort
	}
	if opts.Timeout == 0 {
		opts.Timeout = AuthTimeout
	}
	if opts.Out == nil {
		opts.Out = io.Discard
	}

	// Generate state for CSRF protection
	state, err := generateState()
	if err != nil {
		return nil, fmt.Errorf("generating state: %w", err)
	}

	codeChan := make(chan string, 1)
	errChan := make(chan error, 1)

	mux := http.NewServeMux()
	mux.HandleFunc("/callback", callbackHandler(state, codeChan, errChan))

	listener, err := net.Listen("tcp", fmt.Sprintf(":%d", opts.Port))
	if err != nil {
		return nil, fmt.Errorf("starting callback server: %w", err)
	}

	server := &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	go func() {
		if err := server.Serve(listener); err != http.ErrServerClosed {
			select {
			case errChan <- fmt.Errorf("server error: %w", err):
			default:
			}
		}
	}()

	authURL := cfg.AuthCodeURL(state, oauth2.AccessTypeOffline)
	fmt.Fprintln(opts.Out)
	fmt.Fprintf(opts.Out, "To connect %s, open this URL in your browser:\n", p)
	fmt.Fprintln(opts.Out)
	fmt.Fprintf(opts.Out, "  %s\n", authURL)
	fmt.Fprintln(opts.Out)
	fmt.Fprintln(opts.Out, "Waiting for authorization...")

	var code string
	select {
	case code = <-codeChan:
	case err := <-errChan:
		shutdownServer(server)
		return nil, err
	case <-time.After(opts.Timeout):
		shutdownServer(server)
		return nil, fmt.Errorf("authentication timeout after %v", opts.Timeout)
	case <-ctx.Done():
		shutdownServer(server)
		return nil, ctx.Err()
	}

	shutdownServer(server)

	token, err := cfg.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("exchanging code for token: %w", err)
	}

	return &AuthResult{
		Token:     token,
		AccountID: ExtractAccountID(p, token),
	}, nil
}

func callbackHandler(state string, codeChan chan<- string, errChan chan<- error) http.HandlerFunc {
	fail := func(w http.ResponseWriter, status int, msg string, err error) {
		select {
		case errChan <- err:
		default:
		}
		http.Error(w, msg, status)
	}

	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("state") != state {
			fail(w, http.StatusBadRequest, "State mismatch", fmt.Errorf("state mismatch - possible CSRF attack"))
			return
		}
		if errMsg := q.Get("error"); errMsg != "" {
			fail(w, http.StatusBadRequest, "Authorization failed", fmt.Errorf("auth error: %s", errMsg))
			return
		}
		code := q.Get("code")
		if code == "" {
			fail(w, http.StatusBadRequest, "No authorization code", fmt.Errorf("no code in callback"))
			return
		}

		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, `<!DOCTYPE html>
<html>
<head><title>Connected</title></head>
<body style="font-family: system-ui; display: flex; justify-content: center; align-items: center; height: 100vh; margin: 0;">
<div style="text-align: center;">
<h1 style="color: #10B981;">Connected</h1>
<p>You can close this window and return to the terminal.</p>
</div>
</body>
</html>`)
		select {
		case codeChan <- code:
		default:
		}
	}
}

// generateState creates a random state string for CSRF protection
func generateState() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

func shutdownServer(server *http.Server) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	server.Shutdown(ctx)
}
