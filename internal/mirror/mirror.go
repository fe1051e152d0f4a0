// Package mirror keeps an off-host copy of original uploads in S3.
//
// The mirror is best-effort: the publication root and the record store are
// the source of truth, and callers only log mirror failures.
package mirror

import (
	"context"
	"os"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/keithlinneman/sitedrop/internal/log"
	"github.com/keithlinneman/sitedrop/internal/site"
	"github.com/keithlinneman/sitedrop/internal/xerrors"
)

// ObjectAPI is the slice of the S3 client the mirror uses.
type ObjectAPI interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

type Options struct {
	Logger log.Logger

	// S3 location: s3://{Bucket}/{Prefix}/{id}/{filename}
	Bucket string
	Prefix string

	// Client overrides the S3 client built from AWSConfig
	Client ObjectAPI

	// AWS config (uses default if nil)
	AWSConfig *aws.Config
}

// S3Mirror stores each original upload under its site id.
type S3Mirror struct {
	client ObjectAPI
	bucket string
	prefix string
	logger log.Logger
}

// New builds an S3Mirror, loading the default AWS config when neither a
// client nor a config is supplied.
func New(ctx context.Context, opts Options) (*S3Mirror, error) {
	if opts.Bucket == "" {
		return nil, xerrors.New("mirror: Bucket is required")
	}
	if opts.Logger == nil {
		opts.Logger = log.Nop()
	}

	client := opts.Client
	if client == nil {
		var awsCfg aws.Config
		if opts.AWSConfig != nil {
			awsCfg = *opts.AWSConfig
		} else {
			var err error
			awsCfg, err = config.LoadDefaultConfig(ctx)
			if err != nil {
				return nil, xerrors.Wrap(err, "load AWS config")
			}
		}
		client = s3.NewFromConfig(awsCfg)
	}

	return &S3Mirror{
		client: client,
		bucket: opts.Bucket,
		prefix: strings.Trim(opts.Prefix, "/"),
		logger: opts.Logger,
	}, nil
}

// Key returns the object key for a site's original upload
func (m *S3Mirror) Key(s site.Site) string {
	return path.Join(m.prefix, s.ID, s.OriginalFilename)
}

// Put uploads the file at localPath as the site's original upload.
func (m *S3Mirror) Put(ctx context.Context, s site.Site, localPath string) error {
	f, err := os.Open(localPath)
	if err != nil {
		return xerrors.Wrap(err, "open upload for mirror")
	}
	defer f.Close()

	key := m.Key(s)
	in := &s3.PutObjectInput{
		Bucket:        aws.String(m.bucket),
		Key:           aws.String(key),
		Body:          f,
		ContentLength: aws.Int64(s.Size),
		Metadata: map[string]string{
			"site-id":  s.ID,
			"owner-id": s.OwnerID,
			"kind":     string(s.Kind),
			"sha256":   s.SHA256,
		},
	}
	if _, err := m.client.PutObject(ctx, in); err != nil {
		return xerrors.Wrapf(err, "put s3://%s/%s", m.bucket, key)
	}

	m.logger.Debug(ctx, "mirrored upload", "bucket", m.bucket, "key", key, "bytes", s.Size)
	return nil
}

// Delete removes the site's original upload. Missing objects are not an error.
func (m *S3Mirror) Delete(ctx context.Context, s site.Site) error {
	key := m.Key(s)
	_, err := m.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(m.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return xerrors.Wrapf(err, "delete s3://%s/%s", m.bucket, key)
	}
	return nil
}
