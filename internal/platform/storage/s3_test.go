package storage

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/require"
)

type recordingPutter struct {
	input *s3.PutObjectInput
	body  []byte
	err   error
}

func (r *recordingPutter) PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if r.err != nil {
		return nil, r.err
	}
	r.input = params
	data, _ := io.ReadAll(params.Body)
	r.body = data
	return &s3.PutObjectOutput{}, nil
}

func TestArchivePutAppliesPrefix(t *testing.T) {
	putter := &recordingPutter{}
	archive := NewArchive(putter, "docs", WithPrefix("/invoices/"))

	key, err := archive.Put(context.Background(), "INV-000001.pdf", "application/pdf", []byte("%PDF"))
	require.NoError(t, err)
	require.Equal(t, "invoices/INV-000001.pdf", key)
	require.Equal(t, "docs", aws.ToString(putter.input.Bucket))
	require.Equal(t, "application/pdf", aws.ToString(putter.input.ContentType))
	require.Equal(t, []byte("%PDF"), putter.body)
}

func TestArchivePutWrapsClientError(t *testing.T) {
	archive := NewArchive(&recordingPutter{err: errors.New("boom")}, "docs")

	_, err := archive.Put(context.Background(), "a.pdf", "application/pdf", nil)
	require.ErrorContains(t, err, "boom")
}

func TestNilArchiveRejectsPut(t *testing.T) {
	var archive *Archive
	_, err := archive.Put(context.Background(), "a.pdf", "application/pdf", nil)
	require.Error(t, err)
}
