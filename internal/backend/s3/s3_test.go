package s3

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewRejectsEmptyBucket(t *testing.T) {
	_, err := New(context.Background(), Config{Region: "us-east-1"})
	assert.Error(t, err)
}

func TestKeyAndDirKeyWithoutPrefix(t *testing.T) {
	b := &Backend{cfg: Config{Bucket: "b"}}
	assert.Equal(t, "a/b/c", b.key("/a/b/c"))
	assert.Equal(t, "a/b/c/", b.dirKey("/a/b/c"))
	assert.Equal(t, "", b.dirKey("/"))
}

func TestKeyAndDirKeyWithPrefix(t *testing.T) {
	b := &Backend{cfg: Config{Bucket: "b", Prefix: "tenant-1/"}}
	assert.Equal(t, "tenant-1/a/b", b.key("/a/b"))
	assert.Equal(t, "tenant-1/a/b/", b.dirKey("/a/b"))
}

func TestJoinPathAndBasename(t *testing.T) {
	assert.Equal(t, "/a", joinPath("/", "a"))
	assert.Equal(t, "/a/b", joinPath("/a", "b"))
	assert.Equal(t, "b", pathBasename("/a/b"))
	assert.Equal(t, "a", pathBasename("a"))
}
