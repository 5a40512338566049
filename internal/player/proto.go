package player

// Wire protocol for the playerd worker: newline-delimited JSON
// request/response pairs over a loopback connection, processed in arrival
// order. The same types are used by the remote driver (client side) and by
// internal/playerd (server side).

const (
	StatusOK    = "ok"
	StatusError = "error"
)

// Request is one protocol action. Optional fields are pointers so the server
// can tell "absent" from zero.
type Request struct {
	Action  string   `json:"action"`
	Path    string   `json:"path,omitempty"`
	TimeMs  *int64   `json:"time,omitempty"`
	Exact   bool     `json:"exact,omitempty"`
	Rate    *float64 `json:"rate,omitempty"`
	Volume  *int     `json:"volume,omitempty"`
	Mute    *bool    `json:"mute,omitempty"`
	TrackID *int     `json:"track_id,omitempty"`
	Hwnd    *uint64  `json:"hwnd,omitempty"`
}

// Track describes one selectable stream in the loaded media.
type Track struct {
	ID    int    `json:"id"`
	Type  string `json:"type"` // "video", "audio", "sub"
	Title string `json:"title,omitempty"`
	Lang  string `json:"lang,omitempty"`
}

// Response carries the action result plus any payload fields.
type Response struct {
	Status   string  `json:"status"`
	Message  string  `json:"message,omitempty"`
	State    *int32  `json:"state,omitempty"`
	TimeMs   *int64  `json:"time,omitempty"`
	LengthMs *int64  `json:"length,omitempty"`
	Tracks   []Track `json:"tracks,omitempty"`
}
