package kms

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	awskms "github.com/aws/aws-sdk-go/service/kms"
)

// AWSKMS wraps DEKs under an AWS KMS customer master key. The wrapped form is
// the opaque CiphertextBlob returned by KMS, which already encodes the key id
// used for encryption.
type AWSKMS struct {
	svc   *awskms.KMS
	keyID string
}

// NewAWSKMS creates an adapter for the given key (id, alias or ARN) in the
// given region. Credentials come from the default AWS chain.
func NewAWSKMS(region, keyID string) (*AWSKMS, error) {
	if keyID == "" {
		return nil, fmt.Errorf("aws kms key id is required")
	}
	sess, err := session.NewSession(&aws.Config{Region: aws.String(region)})
	if err != nil {
		return nil, fmt.Errorf("failed to create aws session: %w", err)
	}
	return &AWSKMS{svc: awskms.New(sess), keyID: keyID}, nil
}

// KeyID identifies the master key, qualified by backend.
func (k *AWSKMS) KeyID() string { return "aws:" + k.keyID }

// Wrap encrypts the DEK under the configured master key.
func (k *AWSKMS) Wrap(ctx context.Context, dek []byte) ([]byte, error) {
	out, err := k.svc.EncryptWithContext(ctx, &awskms.EncryptInput{
		KeyId:     aws.String(k.keyID),
		Plaintext: dek,
	})
	if err != nil {
		return nil, fmt.Errorf("aws kms encrypt failed: %w", err)
	}
	return out.CiphertextBlob, nil
}

// Unwrap decrypts a wrapped DEK. The key id is passed explicitly so blobs
// from a different master key are rejected by KMS itself.
func (k *AWSKMS) Unwrap(ctx context.Context, wrappedDEK []byte) ([]byte, error) {
	out, err := k.svc.DecryptWithContext(ctx, &awskms.DecryptInput{
		KeyId:          aws.String(k.keyID),
		CiphertextBlob: wrappedDEK,
	})
	if err != nil {
		return nil, fmt.Errorf("aws kms decrypt failed: %w", err)
	}
	return out.Plaintext, nil
}
