// Package hostfake is an in-memory implementation of the host capability
// surface. It backs the package tests and the CLI's local directory mode;
// it is not a network client.
package hostfake

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/bioimg/chainproc/internal/host"
)

// Fake implements host.Conn, host.Client and host.Importer over in-memory
// state. All methods are safe for concurrent use.
type Fake struct {
	mu          sync.Mutex
	items       map[int64]*Item
	collections map[int64]*Collection
	nextID      int64

	endpoint   string
	inputs     map[string]any
	outputs    map[string]string
	keepalives int

	// ImportErr, when set, makes every Import call fail with it.
	ImportErr error
}

func New() *Fake {
	return &Fake{
		items:       make(map[int64]*Item),
		collections: make(map[int64]*Collection),
		inputs:      make(map[string]any),
		outputs:     make(map[string]string),
	}
}

// FromDir seeds a Fake from a local directory: regular files become items
// and first-level subdirectories become collections holding their files.
// Entries are added in lexical order so identifiers are stable.
func FromDir(dir string) (*Fake, error) {
	f := New()

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", dir, err)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	for _, e := range entries {
		path := filepath.Join(dir, e.Name())
		if e.Type().IsRegular() {
			data, err := os.ReadFile(path)
			if err != nil {
				return nil, err
			}
			f.AddItem(e.Name(), data)
			continue
		}
		if e.IsDir() {
			coll := f.AddCollection(e.Name())
			err := addDirItems(f, coll, path)
			if err != nil {
				return nil, err
			}
		}
	}
	return f, nil
}

func addDirItems(f *Fake, coll *Collection, dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			return err
		}
		f.AddItem(e.Name(), data, coll.id)
	}
	return nil
}

func (f *Fake) AddItem(name string, data []byte, collections ...int64) *Item {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	it := &Item{
		fake:        f,
		id:          f.nextID,
		name:        name,
		data:        append([]byte(nil), data...),
		collections: append([]int64(nil), collections...),
	}
	f.items[it.id] = it
	for _, cid := range collections {
		if coll, ok := f.collections[cid]; ok {
			coll.members = append(coll.members, it.id)
		}
	}
	return it
}

func (f *Fake) AddCollection(name string) *Collection {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	coll := &Collection{fake: f, id: f.nextID, name: name}
	f.collections[coll.id] = coll
	return coll
}

func (f *Fake) WithEndpoint(endpoint string) *Fake {
	f.endpoint = endpoint
	return f
}

func (f *Fake) SetInputs(inputs map[string]any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inputs = inputs
}

// Output returns the value delivered through SetOutput for name.
func (f *Fake) Output(name string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.outputs[name]
}

// KeepAlives reports how many liveness calls were received.
func (f *Fake) KeepAlives() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.keepalives
}

// host.Conn

func (f *Fake) KeepAlive(_ context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.keepalives++
	return nil
}

func (f *Fake) Item(_ context.Context, id int64) (host.Item, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	it, ok := f.items[id]
	if !ok {
		return nil, fmt.Errorf("item %d: %w", id, fs.ErrNotExist)
	}
	return it, nil
}

func (f *Fake) Collection(_ context.Context, id int64) (host.Collection, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	coll, ok := f.collections[id]
	if !ok {
		return nil, fmt.Errorf("collection %d: %w", id, fs.ErrNotExist)
	}
	return coll, nil
}

// host.Client

func (f *Fake) Inputs(_ context.Context) (map[string]any, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]any, len(f.inputs))
	for k, v := range f.inputs {
		out[k] = v
	}
	return out, nil
}

func (f *Fake) SetOutput(_ context.Context, name, value string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.outputs[name] = value
	return nil
}

func (f *Fake) Endpoint() string {
	return f.endpoint
}

// host.Importer

func (f *Fake) Import(_ context.Context, req host.ImportRequest) (int64, error) {
	if f.ImportErr != nil {
		return 0, f.ImportErr
	}
	data, err := os.ReadFile(req.Path)
	if err != nil {
		return 0, fmt.Errorf("importing %s: %w", req.Path, err)
	}
	var collections []int64
	if req.CollectionID != 0 {
		collections = []int64{req.CollectionID}
	}
	it := f.AddItem(req.Name, data, collections...)
	return it.ID(), nil
}

// Item implements host.Item.
type Item struct {
	fake        *Fake
	id          int64
	name        string
	data        []byte
	desc        string
	collections []int64
	annotations map[string][]byte
}

func (it *Item) ID() int64    { return it.id }
func (it *Item) Name() string { return it.name }

func (it *Item) Description(_ context.Context) (string, error) {
	it.fake.mu.Lock()
	defer it.fake.mu.Unlock()
	return it.desc, nil
}

func (it *Item) SetDescription(_ context.Context, desc string) error {
	it.fake.mu.Lock()
	defer it.fake.mu.Unlock()
	it.desc = desc
	return nil
}

func (it *Item) CollectionIDs(_ context.Context) ([]int64, error) {
	it.fake.mu.Lock()
	defer it.fake.mu.Unlock()
	return append([]int64(nil), it.collections...), nil
}

func (it *Item) Export(_ context.Context, w io.Writer) error {
	it.fake.mu.Lock()
	data := append([]byte(nil), it.data...)
	it.fake.mu.Unlock()
	_, err := io.Copy(w, bytes.NewReader(data))
	return err
}

func (it *Item) AttachFile(_ context.Context, path, name string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	it.fake.mu.Lock()
	defer it.fake.mu.Unlock()
	if it.annotations == nil {
		it.annotations = make(map[string][]byte)
	}
	it.annotations[name] = data
	return nil
}

// Data returns the current image bytes, for test assertions.
func (it *Item) Data() []byte {
	it.fake.mu.Lock()
	defer it.fake.mu.Unlock()
	return append([]byte(nil), it.data...)
}

// Annotation returns an attached file annotation by name, nil if absent.
func (it *Item) Annotation(name string) []byte {
	it.fake.mu.Lock()
	defer it.fake.mu.Unlock()
	return it.annotations[name]
}

// Collection implements host.Collection.
type Collection struct {
	fake    *Fake
	id      int64
	name    string
	members []int64
}

func (c *Collection) ID() int64 { return c.id }

func (c *Collection) Items(_ context.Context) ([]host.Item, error) {
	c.fake.mu.Lock()
	defer c.fake.mu.Unlock()
	out := make([]host.Item, 0, len(c.members))
	for _, id := range c.members {
		if it, ok := c.fake.items[id]; ok {
			out = append(out, it)
		}
	}
	return out, nil
}
