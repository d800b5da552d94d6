// Package spotify provides a client for the Spotify Web API player endpoints.
package spotify

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/zmb3/spotify/v2"
	spotifyauth "github.com/zmb3/spotify/v2/auth"
	"golang.org/x/oauth2"
)

// Scopes are the OAuth scopes the client needs.
var Scopes = []string{
	spotifyauth.ScopeUserReadPlaybackState,
	spotifyauth.ScopeUserModifyPlaybackState,
	spotifyauth.ScopeUserReadCurrentlyPlaying,
}

// Track is the subset of track metadata the player uses.
type Track struct {
	ID       string
	URI      string
	Name     string
	Artists  []string
	Album    string
	Duration time.Duration
}

// Playback is the state of the user's player.
type Playback struct {
	TrackID  string
	Progress time.Duration
	Duration time.Duration
	Playing  bool
}

// Client is a Spotify API client bound to one playback device.
type Client struct {
	client     *spotify.Client
	market     string
	deviceID   string
	maxRetries int
	retryDelay time.Duration
}

// Config represents Spotify client configuration.
type Config struct {
	ClientID     string
	ClientSecret string
	RefreshToken string
	Market       string
	DeviceID     string // empty means the user's active device
}

// New creates a new Spotify client.
func New(ctx context.Context, cfg Config) (*Client, error) {
	if cfg.ClientID == "" || cfg.ClientSecret == "" || cfg.RefreshToken == "" {
		return nil, errors.New("spotify credentials are required")
	}

	auth := spotifyauth.New(
		spotifyauth.WithClientID(cfg.ClientID),
		spotifyauth.WithClientSecret(cfg.ClientSecret),
		spotifyauth.WithScopes(Scopes...),
	)

	// Create token from refresh token
	token := &oauth2.Token{
		RefreshToken: cfg.RefreshToken,
	}

	// Get HTTP client with auto-refresh capability
	httpClient := auth.Client(ctx, token)

	market := cfg.Market
	if market == "" {
		market = "JP"
	}

	return &Client{
		client:     spotify.New(httpClient),
		market:     market,
		deviceID:   cfg.DeviceID,
		maxRetries: 3,
		retryDelay: time.Second,
	}, nil
}

// GetTrack retrieves track information by ID, URL, or URI.
func (c *Client) GetTrack(ctx context.Context, ref string) (*Track, error) {
	id := extractTrackID(ref)
	if id == "" {
		return nil, errors.New("track reference is empty")
	}

	var result *spotify.FullTrack
	err := c.retry(ctx, func() error {
		t, err := c.client.GetTrack(ctx, spotify.ID(id), spotify.Market(c.market))
		if err != nil {
			return err
		}
		result = t
		return nil
	})
	if err != nil {
		return nil, errors.Wrapf(err, "failed to get track %s", id)
	}

	return convertTrack(result), nil
}

// StartPlayback replaces the device queue with uri and starts it from the beginning.
func (c *Client) StartPlayback(ctx context.Context, uri string) error {
	opt := c.playOptions()
	opt.URIs = []spotify.URI{spotify.URI(uri)}
	return errors.Wrap(c.retry(ctx, func() error {
		return c.client.PlayOpt(ctx, opt)
	}), "failed to start playback")
}

// Resume resumes the current item.
func (c *Client) Resume(ctx context.Context) error {
	return errors.Wrap(c.retry(ctx, func() error {
		return c.client.PlayOpt(ctx, c.playOptions())
	}), "failed to resume playback")
}

// Pause pauses playback.
func (c *Client) Pause(ctx context.Context) error {
	return errors.Wrap(c.retry(ctx, func() error {
		return c.client.PauseOpt(ctx, c.playOptions())
	}), "failed to pause playback")
}

// Seek moves the position within the current item.
func (c *Client) Seek(ctx context.Context, position time.Duration) error {
	return errors.Wrap(c.retry(ctx, func() error {
		return c.client.SeekOpt(ctx, int(position.Milliseconds()), c.playOptions())
	}), "failed to seek")
}

// SetVolume sets the device volume in percent.
func (c *Client) SetVolume(ctx context.Context, percent int) error {
	return errors.Wrap(c.retry(ctx, func() error {
		return c.client.VolumeOpt(ctx, percent, c.playOptions())
	}), "failed to set volume")
}

// SetRepeat toggles repeating the current track.
func (c *Client) SetRepeat(ctx context.Context, on bool) error {
	state := "off"
	if on {
		state = "track"
	}
	return errors.Wrap(c.retry(ctx, func() error {
		return c.client.RepeatOpt(ctx, state, c.playOptions())
	}), "failed to set repeat")
}

// CurrentlyPlaying returns the user's playback state. TrackID is empty when
// nothing is loaded.
func (c *Client) CurrentlyPlaying(ctx context.Context) (*Playback, error) {
	var result *spotify.CurrentlyPlaying
	err := c.retry(ctx, func() error {
		cp, err := c.client.PlayerCurrentlyPlaying(ctx, spotify.Market(c.market))
		if err != nil {
			return err
		}
		result = cp
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to get currently playing")
	}

	pb := &Playback{}
	if result == nil || result.Item == nil {
		return pb, nil
	}
	pb.TrackID = string(result.Item.ID)
	pb.Progress = time.Duration(result.Progress) * time.Millisecond
	pb.Duration = time.Duration(result.Item.Duration) * time.Millisecond
	pb.Playing = result.Playing
	return pb, nil
}

// TrackURI returns the Spotify URI for a track ID.
func TrackURI(id string) string {
	return "spotify:track:" + id
}

// TrackURL returns the Spotify URL for a track.
func TrackURL(id string) string {
	return fmt.Sprintf("https://open.spotify.com/track/%s", id)
}

func (c *Client) playOptions() *spotify.PlayOptions {
	opt := &spotify.PlayOptions{}
	if c.deviceID != "" {
		id := spotify.ID(c.deviceID)
		opt.DeviceID = &id
	}
	return opt
}

// convertTrack converts a Spotify FullTrack to a Track.
func convertTrack(t *spotify.FullTrack) *Track {
	artists := make([]string, len(t.Artists))
	for i, a := range t.Artists {
		artists[i] = a.Name
	}

	return &Track{
		ID:       string(t.ID),
		URI:      TrackURI(string(t.ID)),
		Name:     t.Name,
		Artists:  artists,
		Album:    t.Album.Name,
		Duration: time.Duration(t.Duration) * time.Millisecond,
	}
}

// retry retries an operation with linear backoff until ctx is done.
func (c *Client) retry(ctx context.Context, fn func() error) error {
	var lastErr error
	for i := 0; i < c.maxRetries; i++ {
		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err

		if !isRetryable(err) {
			return err
		}

		if i < c.maxRetries-1 {
			select {
			case <-time.After(c.retryDelay * time.Duration(i+1)):
			case <-ctx.Done():
				return errors.Wrap(ctx.Err(), lastErr.Error())
			}
		}
	}
	return errors.Wrap(lastErr, "max retries exceeded")
}

// isRetryable checks if an error is retryable.
func isRetryable(err error) bool {
	if err == nil {
		return false
	}
	// Rate limit errors and server errors are retryable
	errStr := err.Error()
	return strings.Contains(errStr, "rate limit") ||
		strings.Contains(errStr, "429") ||
		strings.Contains(errStr, "500") ||
		strings.Contains(errStr, "502") ||
		strings.Contains(errStr, "503") ||
		strings.Contains(errStr, "504")
}

// extractTrackID extracts the track ID from a Spotify track URL or URI.
func extractTrackID(input string) string {
	input = strings.TrimSpace(input)
	input = strings.TrimPrefix(input, "spotify://")
	// Handle Spotify URI format: spotify:track:TRACK_ID
	if strings.HasPrefix(input, "spotify:track:") {
		return strings.TrimPrefix(input, "spotify:track:")
	}

	// Handle URL format: https://open.spotify.com/track/TRACK_ID or https://open.spotify.com/intl-XX/track/TRACK_ID
	if strings.Contains(input, "open.spotify.com") && strings.Contains(input, "/track/") {
		parts := strings.Split(input, "/track/")
		if len(parts) >= 2 {
			// Remove query parameters and trailing slashes
			id := strings.Split(parts[len(parts)-1], "?")[0]
			id = strings.TrimRight(id, "/")
			return id
		}
	}

	// Assume it's already a track ID
	return input
}
