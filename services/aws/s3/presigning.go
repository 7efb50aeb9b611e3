// Copyright Amazon.com, Inc. or its affiliates. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

package s3

import (
	"context"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/sirupsen/logrus"
)

// Presigner hands out presigned links to stored results.
// Presigned requests contain temporary credentials and can be made from any HTTP client.
type Presigner struct {
	PresignClient *s3.PresignClient
}

func NewPresigner(client *s3.Client) Presigner {
	return Presigner{PresignClient: s3.NewPresignClient(client)}
}

// GetObject makes a presigned request that can be used to get an object from a bucket.
// The presigned request is valid for lifetime.
func (presigner Presigner) GetObject(
	ctx context.Context, bucket, objectKey string, lifetime time.Duration) (*v4.PresignedHTTPRequest, error) {
	request, err := presigner.PresignClient.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(objectKey),
	}, func(opts *s3.PresignOptions) {
		opts.Expires = lifetime
	})
	if err != nil {
		logrus.Errorf("Couldn't get a presigned request to get %v:%v. Here's why: %v",
			bucket, objectKey, err)
	}
	return request, err
}
