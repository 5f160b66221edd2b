package pipelinetest

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"strings"
	"sync"

	"github.com/cuongbtq/briefcast/shared/objectstore"
)

// BaseURL prefixes every fake object URL
const BaseURL = "https://storage.test/briefcast"

// CDNBaseURL prefixes every fake CDN URL
const CDNBaseURL = "https://cdn.test"

type storedObject struct {
	info objectstore.Object
	data []byte
}

// Objects is an in-memory object store.
//
// Thread-safety: All methods are safe for concurrent use.
type Objects struct {
	mu      sync.Mutex
	clock   *Clock
	objects map[string]storedObject
	putErr  error
}

// NewObjects creates an empty object store reading time from clock.
func NewObjects(clock *Clock) *Objects {
	return &Objects{
		clock:   clock,
		objects: make(map[string]storedObject),
	}
}

// FailPuts makes every Put return err until cleared with nil.
func (o *Objects) FailPuts(err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.putErr = err
}

// Keys returns every stored key in order.
func (o *Objects) Keys() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return slices.Sorted(maps.Keys(o.objects))
}

// Has reports whether key exists.
func (o *Objects) Has(key string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	_, ok := o.objects[key]
	return ok
}

func (o *Objects) URLFor(key string) objectstore.Location {
	return objectstore.Location{
		URL:    BaseURL + "/" + key,
		CDNURL: CDNBaseURL + "/" + key,
	}
}

func (o *Objects) Put(_ context.Context, key string, data []byte, contentType string, metadata map[string]string) (objectstore.Location, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.putErr != nil {
		return objectstore.Location{}, o.putErr
	}
	o.objects[key] = storedObject{
		info: objectstore.Object{
			Key:          key,
			Size:         int64(len(data)),
			ContentType:  contentType,
			LastModified: o.clock.Now(),
			Metadata:     maps.Clone(metadata),
		},
		data: slices.Clone(data),
	}
	return o.URLFor(key), nil
}

func (o *Objects) Get(_ context.Context, key string) ([]byte, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	obj, ok := o.objects[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s", objectstore.ErrNotFound, key)
	}
	return slices.Clone(obj.data), nil
}

func (o *Objects) Stat(_ context.Context, key string) (objectstore.Object, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	obj, ok := o.objects[key]
	if !ok {
		return objectstore.Object{}, fmt.Errorf("%w: %s", objectstore.ErrNotFound, key)
	}
	return obj.info, nil
}

func (o *Objects) Delete(_ context.Context, key string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.objects, key)
	return nil
}

func (o *Objects) List(_ context.Context, prefix string) ([]objectstore.Object, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	var out []objectstore.Object
	for _, key := range slices.Sorted(maps.Keys(o.objects)) {
		if strings.HasPrefix(key, prefix) {
			out = append(out, o.objects[key].info)
		}
	}
	return out, nil
}
