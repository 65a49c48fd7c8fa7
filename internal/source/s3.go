package source

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
)

// S3Client is the subset of the S3 API used by the reader.
type S3Client = s3iface.S3API

// S3Reader reads objects whose keys match a glob below a bucket, for
// example s3://udacity-dend/log_data/*/*/*.json.
type S3Reader struct {
	uri        string
	bucket     string
	pattern    string
	prefix     string
	client     S3Client
	downloader *s3manager.Downloader
}

// NewS3Reader creates a reader for an s3:// or s3a:// URI.
func NewS3Reader(uri string, client S3Client) (*S3Reader, error) {
	bucket, pattern, err := SplitS3URI(uri)
	if err != nil {
		return nil, err
	}
	return &S3Reader{
		uri:        uri,
		bucket:     bucket,
		pattern:    pattern,
		prefix:     GlobPrefix(pattern),
		client:     client,
		downloader: s3manager.NewDownloaderWithClient(client),
	}, nil
}

// List implements Reader.
func (r *S3Reader) List(ctx context.Context) ([]string, error) {
	var keys []string
	var matchErr error

	err := r.client.ListObjectsV2PagesWithContext(ctx,
		&s3.ListObjectsV2Input{
			Bucket: aws.String(r.bucket),
			Prefix: aws.String(r.prefix),
		},
		func(page *s3.ListObjectsV2Output, lastPage bool) bool {
			for _, obj := range page.Contents {
				key := aws.StringValue(obj.Key)
				ok, err := MatchKey(r.pattern, key)
				if err != nil {
					matchErr = err
					return false
				}
				if ok {
					keys = append(keys, key)
				}
			}
			return !lastPage
		})
	if err != nil {
		return nil, fmt.Errorf("listing s3://%s/%s: %w", r.bucket, r.prefix, err)
	}
	if matchErr != nil {
		return nil, matchErr
	}
	return keys, nil
}

// Open implements Reader. The object is downloaded into memory.
func (r *S3Reader) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	buf := aws.NewWriteAtBuffer(nil)
	_, err := r.downloader.DownloadWithContext(ctx, buf, &s3.GetObjectInput{
		Bucket: aws.String(r.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("downloading s3://%s/%s: %w", r.bucket, key, err)
	}
	return io.NopCloser(bytes.NewReader(buf.Bytes())), nil
}

func (r *S3Reader) String() string {
	return r.uri
}

// SplitS3URI splits s3://bucket/key/pattern into bucket and key pattern.
func SplitS3URI(uri string) (bucket, key string, err error) {
	rest, ok := strings.CutPrefix(uri, "s3://")
	if !ok {
		rest, ok = strings.CutPrefix(uri, "s3a://")
	}
	if !ok {
		return "", "", fmt.Errorf("not an s3 uri: %s", uri)
	}
	bucket, key, _ = strings.Cut(rest, "/")
	if bucket == "" {
		return "", "", fmt.Errorf("missing bucket in %s", uri)
	}
	return bucket, key, nil
}

// GlobPrefix returns the literal part of pattern before the first glob
// metacharacter, used as the S3 list prefix.
func GlobPrefix(pattern string) string {
	if i := strings.IndexAny(pattern, `*?[\`); i >= 0 {
		return pattern[:i]
	}
	return pattern
}

// MatchKey reports whether an object key matches the pattern. A pattern
// without metacharacters names either a single object or a directory, in
// which case every *.json key below it matches.
func MatchKey(pattern, key string) (bool, error) {
	if GlobPrefix(pattern) != pattern {
		return path.Match(pattern, key)
	}
	if key == pattern {
		return true, nil
	}
	dir := strings.TrimSuffix(pattern, "/") + "/"
	if pattern != "" && !strings.HasPrefix(key, dir) {
		return false, nil
	}
	return strings.EqualFold(path.Ext(key), ".json"), nil
}
