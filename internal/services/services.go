// package services defines the Spotify Web API client and its request limits
package services

// Limits imposed by the Spotify Web API.
const (
	PlaylistPageLimit = 50
	TrackPageLimit    = 100
	AlbumPageLimit    = 50
	AlbumBatchLimit   = 20
	AddTracksLimit    = 100
)

// Album groups requested when listing an artist's releases.
var DefaultAlbumGroups = []string{"album", "single"}
