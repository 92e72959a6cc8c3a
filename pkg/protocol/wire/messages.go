// Package wire defines the length-delimited protocol envelopes clients
// and the transfer engine exchange over a persistent connection
// (spec.md §6), plus a validator-backed decoder that rejects a
// malformed envelope before it reaches a controller.
package wire

// Type identifies which envelope a frame carries. The wire format is a
// 4-byte big-endian length prefix, a 1-byte Type, and a JSON body —
// see Encoder/Decoder in framing.go.
type Type uint8

const (
	TypeAuthRequest Type = iota + 1
	TypeAuthOK
	TypeGetRoot
	TypeRoot
	TypeMakeFile
	TypeMakeDir
	TypeNewNode
	TypePutContent
	TypeBeginContent
	TypeBytes
	TypeOK
	TypeGetContent
	TypeEOF
	TypeCancelRequest
	TypeError
)

func (t Type) String() string {
	switch t {
	case TypeAuthRequest:
		return "AUTH_REQUEST"
	case TypeAuthOK:
		return "AUTH_OK"
	case TypeGetRoot:
		return "GET_ROOT"
	case TypeRoot:
		return "ROOT"
	case TypeMakeFile:
		return "MAKE_FILE"
	case TypeMakeDir:
		return "MAKE_DIR"
	case TypeNewNode:
		return "NEW_NODE"
	case TypePutContent:
		return "PUT_CONTENT"
	case TypeBeginContent:
		return "BEGIN_CONTENT"
	case TypeBytes:
		return "BYTES"
	case TypeOK:
		return "OK"
	case TypeGetContent:
		return "GET_CONTENT"
	case TypeEOF:
		return "EOF"
	case TypeCancelRequest:
		return "CANCEL_REQUEST"
	case TypeError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// AuthRequest authenticates the connection before any other request is
// accepted.
type AuthRequest struct {
	Token string `json:"token" validate:"required"`
}

// AuthOK confirms authentication and carries the session identifier the
// connection will use for subsequent requests.
type AuthOK struct {
	Session string `json:"session"`
}

// GetRoot has no body; it is carried as a bare Type.

// Root answers GetRoot.
type Root struct {
	NodeID     string `json:"node_id"`
	Generation uint64 `json:"generation"`
}

// MakeNode is the shared body of MAKE_FILE and MAKE_DIR; Type
// distinguishes which.
type MakeNode struct {
	Volume   string `json:"volume" validate:"required"`
	Parent   string `json:"parent" validate:"required"`
	Name     string `json:"name" validate:"required"`
	IsPublic bool   `json:"is_public"`
}

// NewNode answers MAKE_FILE / MAKE_DIR.
type NewNode struct {
	NodeID     string `json:"node_id"`
	Generation uint64 `json:"generation"`
}

// PutContent opens an upload, resuming one identified by UploadID when
// present. RequestID tags every frame belonging to this request (the
// BYTES frames that follow, and any later CANCEL_REQUEST) so a
// connection can stream more than one request's body concurrently
// (spec.md §5: "run concurrently for their streaming body").
type PutContent struct {
	RequestID    string `json:"request_id" validate:"required"`
	Volume       string `json:"volume" validate:"required"`
	Node         string `json:"node" validate:"required"`
	PreviousHash string `json:"previous_hash" validate:"required"`
	Hash         string `json:"hash" validate:"required"`
	CRC32        uint32 `json:"crc32"`
	Size         uint64 `json:"size"`
	DeflatedSize uint64 `json:"deflated_size"`
	MagicHash    string `json:"magic_hash,omitempty"`
	UploadID     string `json:"upload_id,omitempty"`
}

// BeginContent is sent by the server at the start of either a PUT or a
// GET; fields not applicable to the direction are left zero.
type BeginContent struct {
	RequestID string `json:"request_id"`

	// Upload direction.
	Offset   uint64 `json:"offset,omitempty"`
	UploadID string `json:"upload_id,omitempty"`

	// Download direction.
	Size         uint64 `json:"size,omitempty"`
	DeflatedSize uint64 `json:"deflated_size,omitempty"`
	CRC32        uint32 `json:"crc32,omitempty"`
	Hash         string `json:"hash,omitempty"`
}

// Bytes carries one chunk of deflated payload in either direction,
// tagged with the request it belongs to.
type Bytes struct {
	RequestID string `json:"request_id"`
	Payload   []byte `json:"payload"`
}

// OK answers a successful PUT_CONTENT commit.
type OK struct {
	RequestID     string `json:"request_id"`
	NewGeneration uint64 `json:"new_generation"`
}

// GetContent opens a download.
type GetContent struct {
	RequestID string `json:"request_id" validate:"required"`
	Volume    string `json:"volume" validate:"required"`
	Node      string `json:"node" validate:"required"`
	Hash      string `json:"hash"`
	Offset    uint64 `json:"offset"`
}

// EOF closes out a successful download.
type EOF struct {
	RequestID string `json:"request_id"`
}

// CancelRequest asks the server to abort an in-flight PUT or GET.
type CancelRequest struct {
	RequestID string `json:"request_id" validate:"required"`
}

// ErrorMessage is the wire rendering of a txerr.Error.
type ErrorMessage struct {
	RequestID string `json:"request_id,omitempty"`
	Code      string `json:"code"`
	Message   string `json:"message,omitempty"`
	FreeBytes int64  `json:"free_bytes,omitempty"`
	ShareID   string `json:"share_id,omitempty"`
}
