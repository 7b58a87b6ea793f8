// Package objectstore keeps job text and generated audio in a NATS JetStream
// object store bucket.
package objectstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/nats-io/nats.go"
)

const (
	errFmtBind     = "failed to bind object store bucket '%s': %w"
	errFmtGet      = "failed to get object '%s' from bucket '%s': %w"
	errFmtPut      = "failed to put object '%s' to bucket '%s': %w"
	metadataSource = "source"
)

// NatsObjectStore implements core.ObjectStore on a JetStream bucket.
type NatsObjectStore struct {
	bucket string
	store  nats.ObjectStore
}

// New binds to bucketName, creating it first when it does not exist yet.
func New(jetstreamContext nats.JetStreamContext, bucketName string) (*NatsObjectStore, error) {
	store, createErr := jetstreamContext.CreateObjectStore(&nats.ObjectStoreConfig{
		Bucket:      bucketName,
		Description: "Speech job text and generated audio.",
		Storage:     nats.FileStorage,
		Replicas:    1,
	})
	if createErr != nil {
		// Creation fails for an existing bucket; binding decides whether the
		// bucket is usable.
		var bindErr error

		store, bindErr = jetstreamContext.ObjectStore(bucketName)
		if bindErr != nil {
			return nil, fmt.Errorf(errFmtBind, bucketName, errors.Join(createErr, bindErr))
		}
	}

	return &NatsObjectStore{bucket: bucketName, store: store}, nil
}

// Bucket returns the bucket name.
func (n *NatsObjectStore) Bucket() string {
	return n.bucket
}

// Download retrieves an object from the NATS object store.
func (n *NatsObjectStore) Download(ctx context.Context, key string) ([]byte, error) {
	obj, err := n.store.Get(key, nats.Context(ctx))
	if err != nil {
		return nil, fmt.Errorf(errFmtGet, key, n.bucket, err)
	}

	data, readErr := io.ReadAll(obj)
	closeErr := obj.Close()

	if readErr != nil {
		return nil, fmt.Errorf("failed to read object '%s': %w", key, readErr)
	}

	if closeErr != nil {
		return data, fmt.Errorf("failed to close object '%s': %w", key, closeErr)
	}

	return data, nil
}

// Upload saves an object to the NATS object store.
func (n *NatsObjectStore) Upload(ctx context.Context, key string, data []byte) error {
	return n.put(ctx, &nats.ObjectMeta{Name: key}, bytes.NewReader(data))
}

// UploadFile streams the file at path into the bucket under key. The file's
// base name is kept as object metadata.
func (n *NatsObjectStore) UploadFile(ctx context.Context, key, path string) error {
	file, err := os.Open(filepath.Clean(path))
	if err != nil {
		return fmt.Errorf("failed to open '%s' for upload: %w", path, err)
	}
	defer file.Close()

	meta := &nats.ObjectMeta{
		Name:     key,
		Metadata: map[string]string{metadataSource: filepath.Base(path)},
	}

	return n.put(ctx, meta, file)
}

func (n *NatsObjectStore) put(ctx context.Context, meta *nats.ObjectMeta, reader io.Reader) error {
	_, err := n.store.Put(meta, reader, nats.Context(ctx))
	if err != nil {
		return fmt.Errorf(errFmtPut, meta.Name, n.bucket, err)
	}

	return nil
}
