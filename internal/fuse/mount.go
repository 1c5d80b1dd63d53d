package fuse

import (
	"fmt"
	"log"
	"os"
	"time"

	gofs "github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"
)

// MountOptions controls the underlying FUSE mount.
type MountOptions struct {
	ReadOnly     bool
	AllowOther   bool
	Debug        bool
	FSName       string
	AttrTimeout  time.Duration
	EntryTimeout time.Duration
}

// DefaultMountOptions returns conservative single-host defaults.
func DefaultMountOptions() *MountOptions {
	return &MountOptions{
		FSName:       "shadowvfs",
		AttrTimeout:  time.Second,
		EntryTimeout: time.Second,
	}
}

// MountManager mounts a FileSystem at a host directory using go-fuse.
type MountManager struct {
	filesystem *FileSystem
	mountPoint string
	options    *MountOptions
	server     *fuse.Server
	mounted    bool
}

// NewMountManager returns a MountManager for filesystem at mountPoint.
func NewMountManager(filesystem *FileSystem, mountPoint string, options *MountOptions) *MountManager {
	if options == nil {
		options = DefaultMountOptions()
	}
	return &MountManager{filesystem: filesystem, mountPoint: mountPoint, options: options}
}

// Mount mounts the filesystem and starts serving in the background.
func (m *MountManager) Mount() error {
	if m.mounted {
		return fmt.Errorf("fuse: already mounted at %s", m.mountPoint)
	}
	if err := m.validateMountPoint(); err != nil {
		return fmt.Errorf("fuse: invalid mount point: %w", err)
	}

	opts := &gofs.Options{
		MountOptions: fuse.MountOptions{
			Name:       m.options.FSName,
			FsName:     m.options.FSName,
			Debug:      m.options.Debug,
			AllowOther: m.options.AllowOther,
		},
		AttrTimeout:  &m.options.AttrTimeout,
		EntryTimeout: &m.options.EntryTimeout,
	}
	if m.options.ReadOnly {
		opts.Options = append(opts.Options, "ro")
	}

	server, err := gofs.Mount(m.mountPoint, m.filesystem.Root(), opts)
	if err != nil {
		return fmt.Errorf("fuse: mount failed: %w", err)
	}

	m.server = server
	m.mounted = true
	log.Printf("shadowvfs mounted at %s", m.mountPoint)

	go func() {
		m.server.Wait()
		m.mounted = false
		log.Printf("shadowvfs unmounted from %s", m.mountPoint)
	}()
	return nil
}

// Unmount unmounts the filesystem.
func (m *MountManager) Unmount() error {
	if !m.mounted || m.server == nil {
		return fmt.Errorf("fuse: not mounted")
	}
	if err := m.server.Unmount(); err != nil {
		return fmt.Errorf("fuse: unmount failed: %w", err)
	}
	m.mounted = false
	m.server = nil
	return nil
}

// Wait blocks until the filesystem is unmounted.
func (m *MountManager) Wait() {
	if m.server != nil {
		m.server.Wait()
	}
}

// IsMounted reports whether the filesystem is currently mounted.
func (m *MountManager) IsMounted() bool {
	return m.mounted
}

func (m *MountManager) validateMountPoint() error {
	if m.mountPoint == "" {
		return fmt.Errorf("mount point cannot be empty")
	}
	info, err := os.Stat(m.mountPoint)
	if err != nil {
		return fmt.Errorf("cannot access mount point: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("mount point is not a directory: %s", m.mountPoint)
	}
	return nil
}
