package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	smithy "github.com/aws/smithy-go"

	"github.com/objectfs/shadowvfs/internal/backend"
)

// mutexStaleAfter bounds how long a lock object may be held before a new
// locker treats it as abandoned (e.g. a crashed process) and reclaims it,
// reporting staleness to the caller per the Backend.NewMutex contract.
const mutexStaleAfter = 5 * time.Minute

// mutex is a cross-process commit lock built on a single lock object,
// written with an If-None-Match conditional PutObject so only one locker
// wins the race.
type mutex struct {
	backend  *Backend
	lockKey  string
	acquired bool
}

// NewMutex returns a Mutex backed by a conditional-write lock object at the
// bucket root, guarding commits across every process sharing this bucket.
func (b *Backend) NewMutex() backend.Mutex {
	return &mutex{backend: b, lockKey: b.key("/") + lockKeySuffix}
}

// Lock does not wait for another holder: if the lock object already exists
// and is younger than mutexStaleAfter, it returns an error. An older lock
// object is overwritten and reported as stale; stale is not reported for
// changes another holder made under a lock it released normally.
func (m *mutex) Lock(ctx context.Context) (bool, error) {
	var stale bool

	err := m.backend.call(ctx, func(ctx context.Context) error {
		_, err := m.backend.client.PutObject(ctx, &s3.PutObjectInput{
			Bucket:      aws.String(m.backend.cfg.Bucket),
			Key:         aws.String(m.lockKey),
			Body:        timestampBody(),
			IfNoneMatch: aws.String("*"),
		})
		if err == nil {
			m.acquired = true
			return nil
		}

		if !isPreconditionFailed(err) {
			return translateError(err, m.lockKey)
		}

		// Lock object exists: check whether it's stale enough to steal.
		head, herr := m.backend.client.HeadObject(ctx, &s3.HeadObjectInput{
			Bucket: aws.String(m.backend.cfg.Bucket),
			Key:    aws.String(m.lockKey),
		})
		if herr != nil {
			return translateError(herr, m.lockKey)
		}

		if time.Since(aws.ToTime(head.LastModified)) < mutexStaleAfter {
			return fmt.Errorf("s3: commit lock %s held by another process", m.lockKey)
		}

		// Steal the stale lock: overwrite unconditionally and report
		// staleness so the caller notifies OnPossibleUnknownChanges.
		_, err = m.backend.client.PutObject(ctx, &s3.PutObjectInput{
			Bucket: aws.String(m.backend.cfg.Bucket),
			Key:    aws.String(m.lockKey),
			Body:   timestampBody(),
		})
		if err != nil {
			return translateError(err, m.lockKey)
		}
		m.acquired = true
		stale = true
		return nil
	})

	return stale, err
}

func (m *mutex) Unlock(ctx context.Context) error {
	if !m.acquired {
		return nil
	}
	return m.backend.call(ctx, func(ctx context.Context) error {
		_, err := m.backend.client.DeleteObject(ctx, &s3.DeleteObjectInput{
			Bucket: aws.String(m.backend.cfg.Bucket),
			Key:    aws.String(m.lockKey),
		})
		if err != nil {
			return translateError(err, m.lockKey)
		}
		m.acquired = false
		return nil
	})
}

func timestampBody() *bytes.Reader {
	return bytes.NewReader([]byte(time.Now().UTC().Format(time.RFC3339Nano)))
}

// isPreconditionFailed reports whether err is the S3 API error returned
// when an If-None-Match conditional PutObject loses the race (the object
// already exists). S3 does not model this as a distinct Go error type, so
// it is matched by API error code via smithy's generic APIError interface.
func isPreconditionFailed(err error) bool {
	var apiErr smithy.APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	return apiErr.ErrorCode() == "PreconditionFailed"
}
