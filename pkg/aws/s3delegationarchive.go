package aws

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/storacha/go-ucanto/core/delegation"
	"github.com/storacha/go-ucanto/ucan"

	"github.com/storacha/upload-service/pkg/store"
	"github.com/storacha/upload-service/pkg/store/delegationstore"
)

// S3DelegationArchive implements the delegationstore.ArchiveStore interface
// on S3. Delegations are stored as CAR archives keyed by their root CID.
type S3DelegationArchive struct {
	bucket    string
	keyPrefix string
	s3Client  *s3.Client
}

var _ delegationstore.ArchiveStore = (*S3DelegationArchive)(nil)

func NewS3DelegationArchive(cfg aws.Config, bucket string, keyPrefix string, opts ...func(*s3.Options)) *S3DelegationArchive {
	return &S3DelegationArchive{
		s3Client:  s3.NewFromConfig(cfg, opts...),
		bucket:    bucket,
		keyPrefix: keyPrefix,
	}
}

func (s *S3DelegationArchive) key(root ucan.Link) string {
	return s.keyPrefix + root.String()
}

// Put implements delegationstore.ArchiveStore.
func (s *S3DelegationArchive) Put(ctx context.Context, dlg delegation.Delegation) error {
	data, err := io.ReadAll(dlg.Archive())
	if err != nil {
		return fmt.Errorf("archiving delegation: %w", err)
	}
	_, err = s.s3Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(s.key(dlg.Link())),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
	})
	if err != nil {
		return wrapErr("storing delegation", err)
	}
	return nil
}

// Get implements delegationstore.ArchiveStore.
func (s *S3DelegationArchive) Get(ctx context.Context, root ucan.Link) (delegation.Delegation, error) {
	outPut, err := s.s3Client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(root)),
	})
	if err != nil {
		var noSuchKeyError *s3types.NoSuchKey
		if errors.As(err, &noSuchKeyError) {
			return nil, store.ErrNotFound
		}
		return nil, wrapErr("fetching delegation", err)
	}
	defer outPut.Body.Close()
	data, err := io.ReadAll(outPut.Body)
	if err != nil {
		return nil, fmt.Errorf("reading delegation data: %w", err)
	}
	dlg, err := delegation.Extract(data)
	if err != nil {
		return nil, fmt.Errorf("decoding delegation: %w", err)
	}
	return dlg, nil
}
