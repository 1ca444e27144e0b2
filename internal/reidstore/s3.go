package reidstore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/wolfman30/ensemble-deid/internal/redact"
	"github.com/wolfman30/ensemble-deid/internal/reid"
)

// S3API is the subset of the S3 client used by S3Store.
type S3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

const s3KeyPrefix = "reid-maps/"

func s3PagesPrefix(docID string) string { return s3KeyPrefix + docID + "/pages/" }

func s3PageKey(docID string, page int) string {
	return fmt.Sprintf("%s%d.json", s3PagesPrefix(docID), page)
}

// S3Store keeps one encrypted object per page under
// reid-maps/<doc_id>/pages/<n>.json.
type S3Store struct {
	client S3API
	bucket string
}

// NewS3Store builds a store writing to bucket.
func NewS3Store(client S3API, bucket string) *S3Store {
	if client == nil {
		panic("reidstore: s3 client cannot be nil")
	}
	if bucket == "" {
		panic("reidstore: bucket cannot be empty")
	}
	return &S3Store{client: client, bucket: bucket}
}

// PutPage implements Store.
func (s *S3Store) PutPage(ctx context.Context, page redact.PageSet) error {
	if err := validatePage(page); err != nil {
		return err
	}
	page.Replacements = nonNil(page.Replacements)
	data, err := json.Marshal(page)
	if err != nil {
		return fmt.Errorf("reidstore: marshal page %d: %w", page.PageNumber, err)
	}
	key := s3PageKey(page.DocID, page.PageNumber)
	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:               aws.String(s.bucket),
		Key:                  aws.String(key),
		Body:                 bytes.NewReader(data),
		ContentType:          aws.String("application/json"),
		ServerSideEncryption: s3types.ServerSideEncryptionAes256,
	})
	if err != nil {
		return fmt.Errorf("reidstore: s3 put %s: %w", key, err)
	}
	return nil
}

// Load implements Store.
func (s *S3Store) Load(ctx context.Context, docID string) (*reid.DocumentMap, error) {
	if err := ValidateDocID(docID); err != nil {
		return nil, err
	}
	m := reid.NewDocumentMap(docID, "")
	prefix := s3PagesPrefix(docID)
	pager := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(prefix),
	})
	for pager.HasMorePages() {
		out, err := pager.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("reidstore: s3 list %s: %w", prefix, err)
		}
		for _, obj := range out.Contents {
			key := aws.ToString(obj.Key)
			n, err := strconv.Atoi(strings.TrimSuffix(strings.TrimPrefix(key, prefix), ".json"))
			if err != nil {
				continue
			}
			page, err := s.getPage(ctx, key)
			if err != nil {
				return nil, err
			}
			if m.DocName == "" {
				m.DocName = page.DocName
			}
			m.Pages[n] = reid.Page{Replacements: nonNil(page.Replacements)}
		}
	}
	if len(m.Pages) == 0 {
		return nil, ErrNotFound
	}
	return m, nil
}

func (s *S3Store) getPage(ctx context.Context, key string) (redact.PageSet, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var nsk *s3types.NoSuchKey
		if errors.As(err, &nsk) {
			return redact.PageSet{}, fmt.Errorf("reidstore: s3 get %s: %w", key, ErrNotFound)
		}
		return redact.PageSet{}, fmt.Errorf("reidstore: s3 get %s: %w", key, err)
	}
	defer out.Body.Close()
	data, err := io.ReadAll(out.Body)
	if err != nil {
		return redact.PageSet{}, fmt.Errorf("reidstore: s3 read %s: %w", key, err)
	}
	var page redact.PageSet
	if err := json.Unmarshal(data, &page); err != nil {
		return redact.PageSet{}, fmt.Errorf("reidstore: s3 decode %s: %w", key, err)
	}
	return page, nil
}
