// Package main obtains a Spotify refresh token for the playerd spotify engine.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/alecthomas/kingpin/v2"
	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
	zlog "github.com/rs/zerolog/log"
	spotifyauth "github.com/zmb3/spotify/v2/auth"
	"golang.org/x/oauth2"

	"github.com/osa030/audioplayer/internal/infra/spotify"
)

var (
	app          = kingpin.New("playerd-auth", "Obtain a Spotify refresh token for the playerd spotify engine")
	clientID     = app.Flag("client-id", "Spotify Client ID").Envar("SPOTIFY_CLIENT_ID").Required().String()
	clientSecret = app.Flag("client-secret", "Spotify Client Secret").Envar("SPOTIFY_CLIENT_SECRET").Required().String()
	port         = app.Flag("port", "Callback server port").Default("8888").Int()
	envFile      = app.Flag("write-env", "Store the token in this dotenv file").PlaceHolder(".env").String()
)

const completePage = `<!DOCTYPE html>
<html><head><title>playerd</title></head>
<body><p>playerd can now control your Spotify devices. You can close this window.</p></body></html>
`

// callback exchanges the authorization code for a token.
type callback struct {
	auth   *spotifyauth.Authenticator
	state  string
	tokens chan *oauth2.Token
}

func (c *callback) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if st := r.FormValue("state"); st != c.state {
		http.Error(w, "state mismatch", http.StatusForbidden)
		zlog.Error().Msgf("State mismatch: %q", st)
		return
	}
	token, err := c.auth.Token(r.Context(), c.state, r)
	if err != nil {
		http.Error(w, "token exchange failed", http.StatusForbidden)
		zlog.Error().Msgf("Failed to get token: %v", err)
		return
	}
	fmt.Fprint(w, completePage)
	c.tokens <- token
}

func main() {
	// Load .env file if it exists (errors are ignored)
	_ = godotenv.Load()

	kingpin.MustParse(app.Parse(os.Args[1:]))

	cb := &callback{
		auth: spotifyauth.New(
			spotifyauth.WithRedirectURL(fmt.Sprintf("http://127.0.0.1:%d/callback", *port)),
			spotifyauth.WithClientID(*clientID),
			spotifyauth.WithClientSecret(*clientSecret),
			spotifyauth.WithScopes(spotify.Scopes...),
		),
		state:  uuid.NewString(),
		tokens: make(chan *oauth2.Token, 1),
	}

	mux := http.NewServeMux()
	mux.Handle("/callback", cb)
	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", *port),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zlog.Fatal().Msgf("Failed to start callback server: %v", err)
		}
	}()

	fmt.Printf("Open this URL to authorize playerd:\n\n%s\n\nWaiting for the callback...\n", cb.auth.AuthURL(cb.state))
	token := <-cb.tokens

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		zlog.Error().Msgf("Failed to shutdown callback server: %v", err)
	}

	if *envFile != "" {
		if err := storeToken(*envFile, token.RefreshToken); err != nil {
			zlog.Fatal().Msgf("Failed to write %s: %v", *envFile, err)
		}
		fmt.Printf("Stored SPOTIFY_REFRESH_TOKEN and PLAYER_ENGINE=spotify in %s\n", *envFile)
		return
	}
	fmt.Printf("\nexport SPOTIFY_REFRESH_TOKEN=%q\nexport PLAYER_ENGINE=spotify\n", token.RefreshToken)
}

// storeToken merges the refresh token into a dotenv file, keeping other keys.
func storeToken(path, refreshToken string) error {
	env := map[string]string{}
	if _, err := os.Stat(path); err == nil {
		if env, err = godotenv.Read(path); err != nil {
			return errors.Wrap(err, "failed to read env file")
		}
	}
	env["SPOTIFY_REFRESH_TOKEN"] = refreshToken
	env["PLAYER_ENGINE"] = "spotify"
	if err := godotenv.Write(env, path); err != nil {
		return errors.Wrap(err, "failed to write env file")
	}
	return nil
}
