package library

// Business outcomes are closed result sets, never errors. Errors are
// reserved for storage failures (the command must not report success)
// and programming mistakes.

// LikeResult is the outcome of LikeSong.
type LikeResult int

const (
	LikeOK LikeResult = iota
	LikeAlreadyLiked
	LikeSongDoesNotExist
)

func (r LikeResult) String() string {
	switch r {
	case LikeOK:
		return "ok"
	case LikeAlreadyLiked:
		return "already_liked"
	case LikeSongDoesNotExist:
		return "song_does_not_exist"
	default:
		return "unknown"
	}
}

// UnlikeResult is the outcome of UnlikeSong.
type UnlikeResult int

const (
	UnlikeOK UnlikeResult = iota
	UnlikeAlreadyNotLiked
)

func (r UnlikeResult) String() string {
	switch r {
	case UnlikeOK:
		return "ok"
	case UnlikeAlreadyNotLiked:
		return "already_not_liked"
	default:
		return "unknown"
	}
}

// AddArtistResult is the outcome of AddArtistToServerLibrary.
type AddArtistResult int

const (
	AddArtistOK AddArtistResult = iota
	AddArtistAlreadyAdded
	// AddArtistDoesNotExist also covers metadata lookup failures and
	// timeouts: an existence check that cannot complete fails closed.
	AddArtistDoesNotExist
)

func (r AddArtistResult) String() string {
	switch r {
	case AddArtistOK:
		return "ok"
	case AddArtistAlreadyAdded:
		return "already_added"
	case AddArtistDoesNotExist:
		return "artist_does_not_exist"
	default:
		return "unknown"
	}
}

// RemoveArtistResult is the outcome of RemoveArtistFromServerLibrary.
type RemoveArtistResult int

const (
	RemoveArtistOK RemoveArtistResult = iota
	RemoveArtistNotInLibrary
)

func (r RemoveArtistResult) String() string {
	switch r {
	case RemoveArtistOK:
		return "ok"
	case RemoveArtistNotInLibrary:
		return "not_in_library"
	default:
		return "unknown"
	}
}

// AddReleaseResult is the outcome of AddReleaseToServerLibrary.
type AddReleaseResult int

const (
	AddReleaseOK AddReleaseResult = iota
	AddReleaseAlreadyAdded
	AddReleaseArtistNotInLibrary
)

func (r AddReleaseResult) String() string {
	switch r {
	case AddReleaseOK:
		return "ok"
	case AddReleaseAlreadyAdded:
		return "already_added"
	case AddReleaseArtistNotInLibrary:
		return "artist_not_in_library"
	default:
		return "unknown"
	}
}

// PlaylistResult is the shared outcome set for playlist commands.
type PlaylistResult int

const (
	PlaylistOK PlaylistResult = iota
	PlaylistNotFound
	PlaylistNotAllowed
	PlaylistSongAlreadyPresent
	PlaylistSongNotPresent
	// PlaylistUnknownOwner means the creating actor is not a known user.
	PlaylistUnknownOwner
)

func (r PlaylistResult) String() string {
	switch r {
	case PlaylistOK:
		return "ok"
	case PlaylistNotFound:
		return "not_found"
	case PlaylistNotAllowed:
		return "not_allowed"
	case PlaylistSongAlreadyPresent:
		return "song_already_present"
	case PlaylistSongNotPresent:
		return "song_not_present"
	case PlaylistUnknownOwner:
		return "unknown_owner"
	default:
		return "unknown"
	}
}

// CreateUserResult is the outcome of CreateUser.
type CreateUserResult int

const (
	CreateUserOK CreateUserResult = iota
	CreateUserNameTaken
)

func (r CreateUserResult) String() string {
	switch r {
	case CreateUserOK:
		return "ok"
	case CreateUserNameTaken:
		return "username_taken"
	default:
		return "unknown"
	}
}
