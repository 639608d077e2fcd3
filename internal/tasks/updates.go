package tasks

import "fmt"

// ProgressUpdate represents a progress event during a long-running operation.
//
// Used to send real-time updates to the CLI for display.
type ProgressUpdate struct {
	Phase   Phase  // Operation phase
	Step    int    // Current step number within phase
	Total   int    // Total steps in this phase
	Message string // Human-readable message for display
}

// Operation phase enumeration
type Phase int

const (
	SyncPlaylists Phase = iota
	SyncTracks
	ResolveArtist
	FetchAlbums
	ExpandAlbums
	AddTracks
	RefreshPlaylist
)

func (p Phase) String() string {
	switch p {
	case SyncPlaylists:
		return "sync_playlists"
	case SyncTracks:
		return "sync_tracks"
	case ResolveArtist:
		return "resolve_artist"
	case FetchAlbums:
		return "fetch_albums"
	case ExpandAlbums:
		return "expand_albums"
	case AddTracks:
		return "add_tracks"
	case RefreshPlaylist:
		return "refresh_playlist"
	default:
		return ""
	}
}

func syncUpdate(phase Phase, cached, total int) ProgressUpdate {
	return ProgressUpdate{
		Phase:   phase,
		Step:    cached,
		Total:   total,
		Message: fmt.Sprintf("Cached %d of %d items", cached, total),
	}
}

func resolveUpdate(name string) ProgressUpdate {
	return ProgressUpdate{
		Phase:   ResolveArtist,
		Step:    1,
		Total:   1,
		Message: fmt.Sprintf("Identifying main artist of %s...", name),
	}
}

func albumsUpdate(step, total int) ProgressUpdate {
	return ProgressUpdate{
		Phase:   FetchAlbums,
		Step:    step,
		Total:   total,
		Message: fmt.Sprintf("Fetching album batch %d of %d...", step, total),
	}
}

func expandUpdate(step, total int, name string) ProgressUpdate {
	return ProgressUpdate{
		Phase:   ExpandAlbums,
		Step:    step,
		Total:   total,
		Message: fmt.Sprintf("Listing tracks of %s...", name),
	}
}

func addTracksUpdate(step, total int) ProgressUpdate {
	return ProgressUpdate{
		Phase:   AddTracks,
		Step:    step,
		Total:   total,
		Message: fmt.Sprintf("Adding track batch %d of %d...", step, total),
	}
}

func refreshUpdate(id string) ProgressUpdate {
	return ProgressUpdate{
		Phase:   RefreshPlaylist,
		Step:    1,
		Total:   1,
		Message: fmt.Sprintf("Refreshing playlist %s...", id),
	}
}
