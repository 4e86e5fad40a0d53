// Package driver defines the uniform key→byte-stream interface TileSet
// reads and writes through (spec §4.4), and the two concrete backends:
// driver/tilardriver (Tilar-archive-grouped) and driver/plaindriver
// (one file per key, afero-backed for testability).
package driver

import (
	"context"
	"io"
	"time"

	"github.com/opentiles/tilestore/tileid"
)

// TileFile identifies which payload of a tile a Key refers to.
type TileFile uint8

const (
	FileMesh TileFile = iota
	FileAtlas
	FileNavTile
	FileMeta
)

func (f TileFile) String() string {
	switch f {
	case FileMesh:
		return "mesh"
	case FileAtlas:
		return "atlas"
	case FileNavTile:
		return "navtile"
	case FileMeta:
		return "meta"
	default:
		return "unknown"
	}
}

// FileToken names a whole-tileset singleton resource that isn't addressed
// by TileId — config, the serialized TileIndex, and the reference-frame
// registry.
type FileToken string

const (
	TokenConfig    FileToken = "config"
	TokenTileIndex FileToken = "tileindex"
	TokenRegistry  FileToken = "registry"
)

// Key addresses either a per-tile payload (Tile+File) or a whole-tileset
// token (Token); exactly one of the two forms is populated, selected by
// IsToken.
type Key struct {
	Tile    tileid.ID
	File    TileFile
	Token   FileToken
	isToken bool
}

// TileKey builds a per-tile Key.
func TileKey(id tileid.ID, file TileFile) Key {
	return Key{Tile: id, File: file}
}

// TokenKey builds a whole-tileset Key.
func TokenKey(token FileToken) Key {
	return Key{Token: token, isToken: true}
}

// IsToken reports whether k addresses a whole-tileset resource rather than
// a per-tile payload.
func (k Key) IsToken() bool { return k.isToken }

func (k Key) String() string {
	if k.isToken {
		return string(k.Token)
	}
	return k.Tile.String() + "/" + k.File.String()
}

// Stat describes a stored resource without reading its content.
type Stat struct {
	Size         int64
	LastModified time.Time
}

// EventOp classifies a Watch notification.
type EventOp int

const (
	EventCreated EventOp = iota
	EventModified
	EventRemoved
)

// Event is a single change notification from Watch.
type Event struct {
	Key Key
	Op  EventOp
}

// Capabilities describes what a Driver implementation supports.
type Capabilities struct {
	ReadOnly bool
	// Watchable reports whether Watch delivers real change notifications
	// rather than never firing.
	Watchable bool
}

// Driver is the uniform key→stream interface below TileSet (spec §4.4).
type Driver interface {
	// Input opens key for reading, returning (nil, nil) if key doesn't exist.
	Input(key Key) (io.ReadCloser, error)
	// Output opens key for writing; the write is committed when the
	// returned WriteCloser is closed.
	Output(key Key) (io.WriteCloser, error)
	// Stat reports size/lastModified without opening the resource.
	Stat(key Key) (Stat, error)
	// Flush durably commits any buffered writes.
	Flush() error
	// Watch streams change notifications until ctx is cancelled.
	Watch(ctx context.Context) (<-chan Event, error)
	// Capabilities reports what this Driver implementation supports.
	Capabilities() Capabilities
	// LastModified returns the most recent modification time across the
	// whole driver's resources.
	LastModified() time.Time
	// Resources lists every resource key currently stored.
	Resources() []string
}
