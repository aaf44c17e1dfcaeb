package assemble

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"

	"github.com/go-logr/logr"
	"gocloud.dev/blob"
)

const apkContentType = "application/vnd.android.package-archive"

// Publish uploads the package and its metadata to the bucket at bucketURL,
// under <package id>/<version>/. The bucket's scheme must have been
// registered by importing its gocloud.dev driver. It returns the key of the
// uploaded package.
func Publish(ctx context.Context, art *Artifact, bucketURL string) (string, error) {
	bucket, err := blob.OpenBucket(ctx, bucketURL)
	if err != nil {
		return "", fmt.Errorf("open bucket: %w", err)
	}
	defer bucket.Close()

	prefix := path.Join(art.Metadata.PackageID, art.Metadata.Version)
	key := path.Join(prefix, filepath.Base(art.Path))

	f, err := os.Open(art.Path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	if err := upload(ctx, bucket, key, apkContentType, f); err != nil {
		return "", err
	}

	info, err := json.MarshalIndent(art.Metadata, "", "  ")
	if err != nil {
		return "", err
	}
	if err := bucket.WriteAll(ctx, path.Join(prefix, "build-info.json"), info, &blob.WriterOptions{
		ContentType: "application/json",
	}); err != nil {
		return "", fmt.Errorf("upload metadata: %w", err)
	}

	logr.FromContextOrDiscard(ctx).Info("Published package", "bucket", bucketURL, "key", key)
	return key, nil
}

func upload(ctx context.Context, bucket *blob.Bucket, key, contentType string, r io.Reader) error {
	w, err := bucket.NewWriter(ctx, key, &blob.WriterOptions{ContentType: contentType})
	if err != nil {
		return err
	}
	if _, err := io.Copy(w, r); err != nil {
		w.Close()
		return fmt.Errorf("upload %s: %w", key, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("upload %s: %w", key, err)
	}
	return nil
}
