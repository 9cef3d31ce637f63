// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package blobstore implements an S3-backed attachment store. Objects
// are stored within a prefix in a bucket.
package blobstore

import (
	"context"
	"crypto/rand"
	"fmt"
	"io"
	"net/url"
	"path"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
	"github.com/grailbio/base/digest"
	"github.com/grailbio/pipeflow"
	"github.com/grailbio/pipeflow/errors"
)

const (
	objectsPath = "objects"
	uploadsPath = "uploads"

	s3minpartsize = 100 << 20
	s3concurrency = 20
)

// Store implements an S3-backed Store. Objects are stored in the
// given bucket under the given prefix, followed by "objects":
//
//	s3://bucket/<prefix>/objects/sha256:<hex>...
//
// In-progress uploads are stored under "uploads":
//
//	s3://bucket/<prefix>/uploads/<hex>
type Store struct {
	Client s3iface.S3API
	Bucket string
	Prefix string
}

// Stat queries the store for object metadata.
func (s *Store) Stat(ctx context.Context, id digest.Digest) (pipeflow.Attachment, error) {
	resp, err := s.Client.HeadObject(&s3.HeadObjectInput{
		Bucket: aws.String(s.Bucket),
		Key:    aws.String(path.Join(s.Prefix, objectsPath, id.String())),
	})
	if err != nil {
		if notExist(err) {
			return pipeflow.Attachment{}, errors.E("stat", s.URL().String(), id, errors.NotExist, err)
		}
		return pipeflow.Attachment{}, err
	}
	if resp.ContentLength == nil {
		return pipeflow.Attachment{}, errors.Errorf("stat %v %v: missing content length", s.URL(), id)
	}
	return pipeflow.Attachment{ID: id, Size: *resp.ContentLength}, nil
}

// Get retrieves an object from the store.
func (s *Store) Get(ctx context.Context, id digest.Digest) (io.ReadCloser, error) {
	resp, err := s.Client.GetObject(&s3.GetObjectInput{
		Bucket: aws.String(s.Bucket),
		Key:    aws.String(path.Join(s.Prefix, objectsPath, id.String())),
	})
	if err != nil {
		if notExist(err) {
			return nil, errors.E("get", s.URL().String(), id, errors.NotExist, err)
		}
		return nil, err
	}
	return resp.Body, nil
}

// Contains tells whether the store has an object with a digest.
func (s *Store) Contains(ctx context.Context, id digest.Digest) (bool, error) {
	_, err := s.Stat(ctx, id)
	if err == nil {
		return true, nil
	}
	if errors.Is(errors.NotExist, err) {
		return false, nil
	}
	return false, err
}

// Put installs an object into the store; its digest identity is
// returned. The object is first uploaded under "uploads" and then
// copied to its content-addressed key, so that partial uploads are
// never visible under "objects".
func (s *Store) Put(ctx context.Context, body io.Reader) (digest.Digest, error) {
	dw := pipeflow.Digester.NewWriter()
	up := s3manager.NewUploaderWithClient(s.Client, func(u *s3manager.Uploader) {
		u.PartSize = s3minpartsize
		u.Concurrency = s3concurrency
	})
	uploadKey := path.Join(s.Prefix, uploadsPath, newID())
	_, err := up.Upload(&s3manager.UploadInput{
		Bucket: aws.String(s.Bucket),
		Key:    aws.String(uploadKey),
		Body:   io.TeeReader(body, dw),
	})
	if err != nil {
		return digest.Digest{}, err
	}
	defer func() {
		s.Client.DeleteObject(&s3.DeleteObjectInput{
			Bucket: aws.String(s.Bucket),
			Key:    aws.String(uploadKey),
		})
	}()
	id := dw.Digest()
	_, err = s.Client.CopyObject(&s3.CopyObjectInput{
		Bucket:     aws.String(s.Bucket),
		Key:        aws.String(path.Join(s.Prefix, objectsPath, id.String())),
		CopySource: aws.String(path.Join(s.Bucket, uploadKey)),
	})
	return id, err
}

// Collect is not supported on S3.
func (s *Store) Collect(ctx context.Context, live pipeflow.Liveset) error {
	return errors.E("collect", errors.NotSupported)
}

// URL returns the URL for this store. It is of the form:
//
//	s3://bucket/prefix
func (s *Store) URL() *url.URL {
	return &url.URL{
		Scheme: "s3",
		Host:   s.Bucket,
		Path:   s.Prefix,
	}
}

func notExist(err error) bool {
	aerr, ok := err.(awserr.Error)
	return ok && (aerr.Code() == "NoSuchKey" || aerr.Code() == "NoSuchBucket")
}

// newID returns a new, randomly generated hexadecimal
// identifier of length 16.
func newID() string {
	var b [8]byte
	_, err := rand.Read(b[:])
	if err != nil {
		panic(err)
	}
	return fmt.Sprintf("%x", b[:])
}
