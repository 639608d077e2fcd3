// Spotify Web API implementation
//
// Spotify API response types based on https://developer.spotify.com/documentation/web-api/reference/
package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/plup/internal/models"
	"github.com/desertthunder/plup/internal/shared"
	"golang.org/x/oauth2"
	"golang.org/x/time/rate"
)

const (
	spotifyAuthURL  = "https://accounts.spotify.com/authorize"
	spotifyTokenURL = "https://accounts.spotify.com/api/token"
	spotifyBaseURL  = "https://api.spotify.com/v1"

	defaultRedirectURI = "http://127.0.0.1:3000/callback"
	defaultTimeout     = 15 * time.Second
)

// SpotifyUser represents a Spotify user profile.
type SpotifyUser struct {
	ID          string         `json:"id"`
	DisplayName string         `json:"display_name"`
	Email       string         `json:"email"`
	Country     string         `json:"country"`
	Images      []SpotifyImage `json:"images"`
}

// SpotifyImage represents an image resource.
type SpotifyImage struct {
	URL    string `json:"url"`
	Height int    `json:"height"`
	Width  int    `json:"width"`
}

// SpotifyArtist represents a Spotify artist, simplified or full.
type SpotifyArtist struct {
	ID     string         `json:"id"`
	Name   string         `json:"name"`
	Genres []string       `json:"genres"`
	Images []SpotifyImage `json:"images"`
	URI    string         `json:"uri"`
}

// SpotifyAlbum represents a Spotify album. Tracks is only present on full albums.
type SpotifyAlbum struct {
	ID          string                     `json:"id"`
	Name        string                     `json:"name"`
	AlbumType   string                     `json:"album_type"`
	AlbumGroup  string                     `json:"album_group"`
	Artists     []SpotifyArtist            `json:"artists"`
	ReleaseDate string                     `json:"release_date"`
	TotalTracks int                        `json:"total_tracks"`
	Images      []SpotifyImage             `json:"images"`
	URI         string                     `json:"uri"`
	Tracks      *SpotifyPage[SpotifyTrack] `json:"tracks"`
}

// SpotifyTrack represents a Spotify track. Album is absent on tracks listed inside an album.
type SpotifyTrack struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Artists     []SpotifyArtist `json:"artists"`
	Album       *SpotifyAlbum   `json:"album"`
	DurationMS  int             `json:"duration_ms"`
	TrackNumber int             `json:"track_number"`
	IsLocal     bool            `json:"is_local"`
	URI         string          `json:"uri"`
}

// Owner is the owner of a playlist.
type Owner struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
}

type playlistTracksRef struct {
	Total int `json:"total"`
}

// SpotifyPlaylist represents a simplified or full playlist object. Only the track total is read.
type SpotifyPlaylist struct {
	ID          string            `json:"id"`
	Name        string            `json:"name"`
	Description string            `json:"description"`
	Owner       Owner             `json:"owner"`
	Public      bool              `json:"public"`
	SnapshotID  string            `json:"snapshot_id"`
	Tracks      playlistTracksRef `json:"tracks"`
	Images      []SpotifyImage    `json:"images"`
	URI         string            `json:"uri"`
}

// SpotifyPlaylistTrack represents a track within a playlist context. Track is null for removed tracks.
type SpotifyPlaylistTrack struct {
	AddedAt string        `json:"added_at"`
	IsLocal bool          `json:"is_local"`
	Track   *SpotifyTrack `json:"track"`
}

// SpotifyPage is a Spotify paging object.
type SpotifyPage[T any] struct {
	Items    []T     `json:"items"`
	Total    int     `json:"total"`
	Limit    int     `json:"limit"`
	Offset   int     `json:"offset"`
	Next     *string `json:"next"`
	Previous *string `json:"previous"`
}

// APIError is a non-2xx response from the Spotify Web API.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("spotify API error: status %d", e.StatusCode)
	}
	return fmt.Sprintf("spotify API error: status %d: %s", e.StatusCode, e.Body)
}

// Unwrap lets [errors.Is] match [shared.ErrAPIRequest], plus [shared.ErrTokenExpired] for a 401
// and [shared.ErrServiceUnavailable] for a 5xx.
func (e *APIError) Unwrap() []error {
	errs := []error{shared.ErrAPIRequest}
	switch {
	case e.StatusCode == http.StatusUnauthorized:
		errs = append(errs, shared.ErrTokenExpired)
	case e.StatusCode >= http.StatusInternalServerError:
		errs = append(errs, shared.ErrServiceUnavailable)
	}
	return errs
}

// Option configures a [SpotifyService].
type Option func(*SpotifyService)

// WithBaseURL points the client at another API root, e.g. an httptest server.
func WithBaseURL(baseURL string) Option {
	return func(s *SpotifyService) { s.baseURL = strings.TrimSuffix(baseURL, "/") }
}

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(s *SpotifyService) { s.timeout = d }
}

// WithRateLimit caps requests per second. Zero or less disables limiting.
func WithRateLimit(rps float64) Option {
	return func(s *SpotifyService) {
		if rps <= 0 {
			s.limiter = rate.NewLimiter(rate.Inf, 1)
			return
		}
		s.limiter = rate.NewLimiter(rate.Limit(rps), 1)
	}
}

// WithLogger sets the logger used for request tracing.
func WithLogger(l *log.Logger) Option {
	return func(s *SpotifyService) { s.logger = l }
}

// WithHTTPClient sets the client used for token refresh and as the base of the authenticated transport.
func WithHTTPClient(c *http.Client) Option {
	return func(s *SpotifyService) { s.baseClient = c }
}

// WithTokenURL overrides the OAuth2 token endpoint.
func WithTokenURL(tokenURL string) Option {
	return func(s *SpotifyService) { s.config.Endpoint.TokenURL = tokenURL }
}

// SpotifyService talks to the Spotify Web API.
//
// Uses [oauth2] for authentication; call Authenticate or Exchange before any API method.
type SpotifyService struct {
	config      *oauth2.Config
	source      oauth2.TokenSource
	httpClient  *http.Client
	baseClient  *http.Client
	baseURL     string
	timeout     time.Duration
	limiter     *rate.Limiter
	logger      *log.Logger
	credentials map[string]string
}

// NewSpotifyService creates a new Spotify service with the given OAuth2 credentials.
func NewSpotifyService(credentials map[string]string, opts ...Option) (*SpotifyService, error) {
	clientID, ok := credentials["client_id"]
	if !ok || clientID == "" {
		return nil, fmt.Errorf("%w: missing client_id", shared.ErrMissingCredentials)
	}

	clientSecret, ok := credentials["client_secret"]
	if !ok || clientSecret == "" {
		return nil, fmt.Errorf("%w: missing client_secret", shared.ErrMissingCredentials)
	}

	redirectURI, ok := credentials["redirect_uri"]
	if !ok || redirectURI == "" {
		redirectURI = defaultRedirectURI
	}

	config := &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		RedirectURL:  redirectURI,
		Scopes: []string{
			"user-read-private",
			"user-read-email",
			"playlist-read-private",
			"playlist-read-collaborative",
			"playlist-modify-public",
			"playlist-modify-private",
		},
		Endpoint: oauth2.Endpoint{
			AuthURL:  spotifyAuthURL,
			TokenURL: spotifyTokenURL,
		},
	}

	s := &SpotifyService{
		config:      config,
		baseClient:  http.DefaultClient,
		baseURL:     spotifyBaseURL,
		timeout:     defaultTimeout,
		limiter:     rate.NewLimiter(rate.Inf, 1),
		logger:      log.New(io.Discard),
		credentials: credentials,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Authenticate builds the authenticated client.
//
// Expects either "access_token" (with optional "refresh_token" and RFC 3339 "token_expiry") or "auth_code".
func (s *SpotifyService) Authenticate(ctx context.Context, credentials map[string]string) error {
	if accessToken := credentials["access_token"]; accessToken != "" {
		token := &oauth2.Token{
			AccessToken:  accessToken,
			RefreshToken: credentials["refresh_token"],
			TokenType:    "Bearer",
		}
		if expiry := credentials["token_expiry"]; expiry != "" {
			t, err := time.Parse(time.RFC3339, expiry)
			if err != nil {
				return fmt.Errorf("%w: token_expiry: %v", shared.ErrInvalidCredentials, err)
			}
			token.Expiry = t
		}
		s.SetToken(token)
		return nil
	}

	if authCode := credentials["auth_code"]; authCode != "" {
		_, err := s.Exchange(ctx, authCode)
		return err
	}

	return fmt.Errorf("%w: missing access_token or auth_code", shared.ErrMissingCredentials)
}

// Exchange trades an authorization code for a token and authenticates with it.
func (s *SpotifyService) Exchange(ctx context.Context, code string) (*oauth2.Token, error) {
	token, err := s.config.Exchange(s.oauthContext(ctx), code)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to exchange auth code: %v", shared.ErrAuthFailed, err)
	}
	s.SetToken(token)
	return token, nil
}

// SetToken authenticates the service with token, refreshing it through the token endpoint when it expires.
func (s *SpotifyService) SetToken(token *oauth2.Token) {
	s.source = s.config.TokenSource(s.oauthContext(context.Background()), token)
	client := oauth2.NewClient(s.oauthContext(context.Background()), s.source)
	client.Timeout = s.timeout
	s.httpClient = client
}

// Token returns the current, possibly refreshed, token.
func (s *SpotifyService) Token() (*oauth2.Token, error) {
	if s.source == nil {
		return nil, shared.ErrNotAuthenticated
	}
	token, err := s.source.Token()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", shared.ErrTokenExpired, err)
	}
	return token, nil
}

// Config returns the OAuth2 configuration.
func (s *SpotifyService) Config() *oauth2.Config {
	return s.config
}

func (s *SpotifyService) Name() string {
	return "Spotify"
}

// GetAuthURL returns the OAuth2 authorization URL for user login.
func (s *SpotifyService) GetAuthURL(state string) string {
	return s.config.AuthCodeURL(state, oauth2.AccessTypeOffline)
}

func (s *SpotifyService) oauthContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, s.baseClient)
}

// doRequest performs an authenticated HTTP request to the Spotify API.
//
// endpoint is either a path below the API root or an absolute next-page URL.
func (s *SpotifyService) doRequest(ctx context.Context, method, endpoint string, body any, result any) error {
	if s.httpClient == nil {
		return fmt.Errorf("%w: call Authenticate first", shared.ErrNotAuthenticated)
	}

	apiURL := endpoint
	if !strings.HasPrefix(endpoint, "http://") && !strings.HasPrefix(endpoint, "https://") {
		apiURL = s.baseURL + endpoint
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if err := s.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("%w: rate limiter: %w", shared.ErrTimeout, err)
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request body: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, apiURL, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := s.httpClient.Do(req)
	if err != nil {
		var urlErr *url.Error
		if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &urlErr) && urlErr.Timeout()) {
			return fmt.Errorf("%w: %w: %v", shared.ErrAPIRequest, shared.ErrTimeout, err)
		}
		return fmt.Errorf("%w: request failed: %v", shared.ErrAPIRequest, err)
	}
	defer resp.Body.Close()

	s.logger.Debug("spotify request", "method", method, "url", req.URL.Path, "status", resp.StatusCode, "elapsed", time.Since(start))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &APIError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(data))}
	}

	if result != nil {
		if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
			return fmt.Errorf("%w: failed to decode response: %v", shared.ErrAPIRequest, err)
		}
	}

	return nil
}

// CurrentUser retrieves the current authenticated user's profile.
func (s *SpotifyService) CurrentUser(ctx context.Context) (*models.User, error) {
	var user SpotifyUser
	if err := s.doRequest(ctx, http.MethodGet, "/me", nil, &user); err != nil {
		return nil, err
	}
	return user.toModel(), nil
}

// UserPlaylists retrieves one page of the current user's playlists.
func (s *SpotifyService) UserPlaylists(ctx context.Context, limit, offset int) (*models.Page[models.Playlist], error) {
	endpoint := fmt.Sprintf("/me/playlists?limit=%d&offset=%d", clampLimit(limit, PlaylistPageLimit), offset)

	var response SpotifyPage[SpotifyPlaylist]
	if err := s.doRequest(ctx, http.MethodGet, endpoint, nil, &response); err != nil {
		return nil, err
	}
	return convertPage(response, SpotifyPlaylist.toModel), nil
}

// Playlist retrieves a playlist summary by ID.
func (s *SpotifyService) Playlist(ctx context.Context, playlistID string) (*models.Playlist, error) {
	endpoint := fmt.Sprintf("/playlists/%s?fields=%s", url.PathEscape(playlistID),
		url.QueryEscape("id,name,description,owner(id,display_name),public,snapshot_id,tracks(total),images,uri"))

	var playlist SpotifyPlaylist
	if err := s.doRequest(ctx, http.MethodGet, endpoint, nil, &playlist); err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound {
			return nil, fmt.Errorf("%w: %s: %w", shared.ErrPlaylistNotFound, playlistID, err)
		}
		return nil, err
	}

	p := playlist.toModel()
	return &p, nil
}

// PlaylistTracks retrieves one page of a playlist's tracks.
func (s *SpotifyService) PlaylistTracks(ctx context.Context, playlistID string, limit, offset int) (*models.Page[models.Track], error) {
	endpoint := fmt.Sprintf("/playlists/%s/tracks?limit=%d&offset=%d", url.PathEscape(playlistID), clampLimit(limit, TrackPageLimit), offset)

	var response SpotifyPage[SpotifyPlaylistTrack]
	if err := s.doRequest(ctx, http.MethodGet, endpoint, nil, &response); err != nil {
		return nil, err
	}
	return convertPage(response, SpotifyPlaylistTrack.toModel), nil
}

// Artist retrieves a full artist by ID.
func (s *SpotifyService) Artist(ctx context.Context, artistID string) (*models.Artist, error) {
	var artist SpotifyArtist
	if err := s.doRequest(ctx, http.MethodGet, "/artists/"+url.PathEscape(artistID), nil, &artist); err != nil {
		return nil, err
	}
	a := artist.toModel()
	return &a, nil
}

// ArtistAlbums retrieves the first page of an artist's releases in the given groups.
func (s *SpotifyService) ArtistAlbums(ctx context.Context, artistID string, groups []string, limit int) (*models.Page[models.Album], error) {
	params := url.Values{}
	params.Set("include_groups", strings.Join(groups, ","))
	params.Set("limit", strconv.Itoa(clampLimit(limit, AlbumPageLimit)))
	endpoint := fmt.Sprintf("/artists/%s/albums?%s", url.PathEscape(artistID), params.Encode())

	return s.albumPage(ctx, endpoint)
}

// NextAlbums follows the next cursor of an album page.
func (s *SpotifyService) NextAlbums(ctx context.Context, next string) (*models.Page[models.Album], error) {
	return s.albumPage(ctx, next)
}

func (s *SpotifyService) albumPage(ctx context.Context, endpoint string) (*models.Page[models.Album], error) {
	var response SpotifyPage[SpotifyAlbum]
	if err := s.doRequest(ctx, http.MethodGet, endpoint, nil, &response); err != nil {
		return nil, err
	}
	return convertPage(response, SpotifyAlbum.toModel), nil
}

// SeveralAlbums retrieves full albums by ID (up to 20), in request order. Unknown IDs are skipped.
func (s *SpotifyService) SeveralAlbums(ctx context.Context, albumIDs []string) ([]models.Album, error) {
	if len(albumIDs) == 0 {
		return nil, fmt.Errorf("%w: no album IDs provided", shared.ErrInvalidArgument)
	}
	if len(albumIDs) > AlbumBatchLimit {
		return nil, fmt.Errorf("%w: maximum %d album IDs allowed", shared.ErrInvalidArgument, AlbumBatchLimit)
	}

	endpoint := "/albums?ids=" + url.QueryEscape(strings.Join(albumIDs, ","))

	var response struct {
		Albums []*SpotifyAlbum `json:"albums"`
	}
	if err := s.doRequest(ctx, http.MethodGet, endpoint, nil, &response); err != nil {
		return nil, err
	}

	albums := make([]models.Album, 0, len(response.Albums))
	for _, a := range response.Albums {
		if a != nil {
			albums = append(albums, a.toModel())
		}
	}
	return albums, nil
}

// NextTracks follows the next cursor of an album's track page.
func (s *SpotifyService) NextTracks(ctx context.Context, next string) (*models.Page[models.Track], error) {
	var response SpotifyPage[SpotifyTrack]
	if err := s.doRequest(ctx, http.MethodGet, next, nil, &response); err != nil {
		return nil, err
	}
	return convertPage(response, SpotifyTrack.toModel), nil
}

// AddTracks appends up to 100 track URIs to a playlist and returns the new snapshot ID.
func (s *SpotifyService) AddTracks(ctx context.Context, playlistID string, uris []string) (string, error) {
	if len(uris) == 0 {
		return "", fmt.Errorf("%w: no track URIs provided", shared.ErrInvalidArgument)
	}
	if len(uris) > AddTracksLimit {
		return "", fmt.Errorf("%w: maximum %d track URIs allowed", shared.ErrInvalidArgument, AddTracksLimit)
	}

	body := struct {
		URIs []string `json:"uris"`
	}{URIs: uris}

	var response struct {
		SnapshotID string `json:"snapshot_id"`
	}
	endpoint := fmt.Sprintf("/playlists/%s/tracks", url.PathEscape(playlistID))
	if err := s.doRequest(ctx, http.MethodPost, endpoint, body, &response); err != nil {
		return "", err
	}
	return response.SnapshotID, nil
}

func clampLimit(limit, maxLimit int) int {
	if limit <= 0 || limit > maxLimit {
		return maxLimit
	}
	return limit
}

func convertPage[S, T any](p SpotifyPage[S], convert func(S) T) *models.Page[T] {
	page := &models.Page[T]{
		Items:  make([]T, len(p.Items)),
		Total:  p.Total,
		Limit:  p.Limit,
		Offset: p.Offset,
	}
	for i, item := range p.Items {
		page.Items[i] = convert(item)
	}
	if p.Next != nil {
		page.Next = *p.Next
	}
	return page
}

func convertImages(images []SpotifyImage) []models.Image {
	if len(images) == 0 {
		return nil
	}
	out := make([]models.Image, len(images))
	for i, img := range images {
		out[i] = models.Image{URL: img.URL, Width: img.Width, Height: img.Height}
	}
	return out
}

func convertArtists(artists []SpotifyArtist) []models.Artist {
	out := make([]models.Artist, len(artists))
	for i, a := range artists {
		out[i] = a.toModel()
	}
	return out
}

func (u SpotifyUser) toModel() *models.User {
	return &models.User{
		ID:          u.ID,
		DisplayName: u.DisplayName,
		Email:       u.Email,
		Country:     u.Country,
		Images:      convertImages(u.Images),
	}
}

func (a SpotifyArtist) toModel() models.Artist {
	return models.Artist{ID: a.ID, Name: a.Name, URI: a.URI, Genres: a.Genres, Images: convertImages(a.Images)}
}

func (p SpotifyPlaylist) toModel() models.Playlist {
	return models.Playlist{
		ID:          p.ID,
		Name:        p.Name,
		Description: p.Description,
		OwnerID:     p.Owner.ID,
		OwnerName:   p.Owner.DisplayName,
		SnapshotID:  p.SnapshotID,
		Public:      p.Public,
		TrackTotal:  p.Tracks.Total,
		Images:      convertImages(p.Images),
	}
}

// toModel keeps removed tracks as empty placeholders so positions stay aligned with remote offsets.
func (t SpotifyPlaylistTrack) toModel() models.Track {
	if t.Track == nil {
		return models.Track{IsLocal: t.IsLocal}
	}
	track := t.Track.toModel()
	track.IsLocal = track.IsLocal || t.IsLocal
	return track
}

func (t SpotifyTrack) toModel() models.Track {
	track := models.Track{
		ID:          t.ID,
		Name:        t.Name,
		URI:         t.URI,
		Artists:     convertArtists(t.Artists),
		DurationMS:  t.DurationMS,
		TrackNumber: t.TrackNumber,
		IsLocal:     t.IsLocal,
	}
	if t.Album != nil {
		album := t.Album.toModel()
		track.Album = &album
	}
	return track
}

// toModel tolerates release dates Spotify reports as "0000" or leaves malformed.
func (a SpotifyAlbum) toModel() models.Album {
	date, err := models.ParseReleaseDate(a.ReleaseDate)
	if err != nil {
		date = models.ReleaseDate{}
	}

	album := models.Album{
		ID:          a.ID,
		Name:        a.Name,
		AlbumType:   a.AlbumType,
		URI:         a.URI,
		ReleaseDate: date,
		Artists:     convertArtists(a.Artists),
		Images:      convertImages(a.Images),
		TotalTracks: a.TotalTracks,
	}
	if a.Tracks != nil {
		album.Tracks = convertPage(*a.Tracks, SpotifyTrack.toModel)
	}
	return album
}
