// Command vfsfuse mounts a shadowvfs VFS at a host directory via FUSE. It is
// a thin wiring demo: production use would drive pkg/vfs directly rather
// than round-tripping through the kernel's VFS layer.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/objectfs/shadowvfs/internal/config"
	shadowfuse "github.com/objectfs/shadowvfs/internal/fuse"
	"github.com/objectfs/shadowvfs/pkg/vfs"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "vfsfuse:", err)
		os.Exit(1)
	}
}

func run() error {
	mountPoint := flag.String("mount", "", "host directory to mount at")
	configPath := flag.String("config", "", "path to a YAML config file (optional)")
	readOnly := flag.Bool("ro", false, "mount read-only")
	flag.Parse()

	if *mountPoint == "" {
		return fmt.Errorf("-mount is required")
	}

	cfg := config.NewDefault()
	if *configPath != "" {
		if err := cfg.LoadFromFile(*configPath); err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
	}
	if err := cfg.LoadFromEnv(); err != nil {
		return fmt.Errorf("loading env overrides: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	v, err := vfs.New(ctx, cfg)
	if err != nil {
		return fmt.Errorf("starting vfs: %w", err)
	}
	defer v.Close(ctx)

	fsOpts := shadowfuse.DefaultConfig()
	fsOpts.ReadOnly = *readOnly
	fsys := shadowfuse.NewFileSystem(v, fsOpts)

	mountOpts := shadowfuse.DefaultMountOptions()
	mountOpts.ReadOnly = *readOnly
	manager := shadowfuse.NewMountManager(fsys, *mountPoint, mountOpts)

	if err := manager.Mount(); err != nil {
		return fmt.Errorf("mounting: %w", err)
	}

	go func() {
		<-ctx.Done()
		if err := v.Commit(context.Background()); err != nil {
			fmt.Fprintln(os.Stderr, "vfsfuse: commit on shutdown:", err)
		}
		_ = manager.Unmount()
	}()

	manager.Wait()
	return nil
}
