package host

import (
	"context"
	"io"
)

// Conn is the live connection to the image-data host. It is shared
// read-mostly by all blocks of a chain activation; only one block's
// subprocess is ever active at a time.
type Conn interface {
	// KeepAlive signals the host that the calling session is still busy.
	// It must be called at least once per poll interval while a
	// subprocess or interactive session runs, or the host may consider
	// the session dead and tear it down.
	KeepAlive(ctx context.Context) error

	Item(ctx context.Context, id int64) (Item, error)
	Collection(ctx context.Context, id int64) (Collection, error)
}

// Item is one unit of input or output data, typically an image. Items
// never mutate in place: processing an item produces a new one.
type Item interface {
	ID() int64
	Name() string

	Description(ctx context.Context) (string, error)
	SetDescription(ctx context.Context, desc string) error

	// CollectionIDs lists the collections the item is a member of, in
	// host order.
	CollectionIDs(ctx context.Context) ([]int64, error)

	// Export writes the serialized image to w. The serialization format
	// is owned entirely by the host.
	Export(ctx context.Context, w io.Writer) error

	// AttachFile attaches the file at path as a named file annotation.
	AttachFile(ctx context.Context, path, name string) error
}

// Collection groups items (a dataset in the host's vocabulary).
type Collection interface {
	ID() int64
	Items(ctx context.Context) ([]Item, error)
}

// Client is the script-facing side of the host: submitted parameter
// values in, a single free-text report out.
type Client interface {
	// Inputs returns the parameter values submitted for this run. The
	// host elides optional parameters the user left unset, so absent
	// names are expected.
	Inputs(ctx context.Context) (map[string]any, error)

	// SetOutput delivers a named output value, the only one used being
	// the free-text "Message" report.
	SetOutput(ctx context.Context, name, value string) error

	// Endpoint reports the connection's routing endpoint host, or ""
	// when discovery yields nothing.
	Endpoint() string
}

// Importer publishes a processed image file as a new host item and
// returns the new item's identifier.
type Importer interface {
	Import(ctx context.Context, req ImportRequest) (int64, error)
}

// ImportRequest describes one import: the image file to upload, the name
// for the new item and the destination collection (zero for none).
type ImportRequest struct {
	Path         string
	Name         string
	CollectionID int64
}
