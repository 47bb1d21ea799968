// Command corekerneld boots the kernel core: it mounts a root filesystem,
// constructs the first process, wires every syscall handler into a
// dispatcher, and runs one goroutine per configured hart until asked to
// stop. There is no real RISC-V hardware underneath — see
// internal/trapframe's package doc — so this binary exists to exercise
// the boot-time wiring end to end rather than to run on a board.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/rvos/corekernel/device"
	"github.com/rvos/corekernel/fs/extfs"
	"github.com/rvos/corekernel/fs/fatfs"
	"github.com/rvos/corekernel/internal/dispatch"
	"github.com/rvos/corekernel/internal/errno"
	"github.com/rvos/corekernel/internal/klog"
	"github.com/rvos/corekernel/internal/task"
	"github.com/rvos/corekernel/kernel"
	"github.com/rvos/corekernel/vfs"
	"github.com/rvos/corekernel/vfs/tmpfs"
)

var (
	cfgFile       string
	bindErr       error
	configFileErr error
)

var rootCmd = &cobra.Command{
	Use:   "corekerneld",
	Short: "Boot the corekernel core over a chosen root filesystem",
	RunE: func(cmd *cobra.Command, args []string) error {
		if bindErr != nil {
			return bindErr
		}
		if configFileErr != nil {
			return configFileErr
		}
		cfg, err := Unmarshal()
		if err != nil {
			return fmt.Errorf("decoding configuration: %w", err)
		}
		if cfg.Harts < 1 {
			return fmt.Errorf("harts must be >= 1, got %d", cfg.Harts)
		}
		return run(cfg)
	},
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config-file", "", "path to a YAML config file")
	bindErr = BindFlags(rootCmd.PersistentFlags())
}

func initConfig() {
	if cfgFile == "" {
		return
	}
	viper.SetConfigFile(cfgFile)
	viper.SetConfigType("yaml")
	if err := viper.ReadInConfig(); err != nil {
		configFileErr = fmt.Errorf("reading config file %s: %w", cfgFile, err)
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// run mounts the configured root filesystem, builds the first process and
// its syscall dispatcher, starts cfg.Harts hart goroutines, and blocks
// until SIGINT/SIGTERM.
func run(cfg Config) error {
	klog.EnableDebug(cfg.Debug)
	log := klog.For("boot")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rootSB, err := mountRoot(ctx, cfg)
	if err != nil {
		return fmt.Errorf("mounting root filesystem: %w", err)
	}
	rootDentry := rootSB.RootDentry()
	if rootDentry == nil {
		return fmt.Errorf("root filesystem %s produced no root dentry", cfg.RootFS)
	}

	proc := kernel.NewProcess(rootDentry, &console{})

	exec := task.NewExecutor()
	d := dispatch.NewDispatcher(exec)
	kernel.RegisterAll(d, proc)

	for i := 0; i < cfg.Harts; i++ {
		go exec.RunHart()
	}
	log.WithFields(logrus.Fields{
		"harts":     cfg.Harts,
		"root_fs":   string(cfg.RootFS),
		"readahead": int64(cfg.Readahead),
	}).Info("corekernel booted")

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	<-sigs

	log.Info("shutting down")
	exec.Close()
	return nil
}

// mountRoot constructs the filesystem type named by cfg.RootFS and calls
// BaseMount with no parent, producing the global root superblock. tmpfs
// needs no backing device; fat opens its own disk image by path; ext4
// reads through a device.BlockDevice.
func mountRoot(ctx context.Context, cfg Config) (vfs.SuperBlock, error) {
	switch cfg.RootFS {
	case RootFSTmpfs, "":
		return tmpfs.New().BaseMount(ctx, "/", nil, 0, nil)

	case RootFSFat:
		if cfg.RootDevice == "" {
			return nil, fmt.Errorf("root-fs=fat requires --root-device")
		}
		return fatfs.New().BaseMount(ctx, "/", nil, 0, cfg.RootDevice)

	case RootFSExt4:
		if cfg.RootDevice == "" {
			return nil, fmt.Errorf("root-fs=ext4 requires --root-device")
		}
		blk, err := device.OpenFileDevice(cfg.RootDevice)
		if err != nil {
			return nil, err
		}
		return extfs.New().BaseMount(ctx, "/", nil, 0, blk)

	default:
		return nil, fmt.Errorf("unknown root-fs %q", cfg.RootFS)
	}
}

// console stands in for the tty device bound to fds 0/1/2: a vfs.File
// backed directly by the process's own stdin/stdout, since no real
// terminal driver exists below the trap pipeline.
type console struct {
	meta vfs.FileMeta
}

func (c *console) Meta() *vfs.FileMeta { return &c.meta }

func (c *console) BaseReadAt(ctx context.Context, offset int64, buf []byte) (int, error) {
	n, err := os.Stdin.Read(buf)
	if err != nil {
		return n, nil // EOF and other stdin errors surface as a short read
	}
	return n, nil
}

func (c *console) BaseWriteAt(ctx context.Context, offset int64, buf []byte) (int, error) {
	return os.Stdout.Write(buf)
}

func (c *console) BaseReadDir(ctx context.Context) ([]vfs.DirEntry, error) {
	return nil, errno.ENOTDIR
}

func (c *console) BaseLoadDir(ctx context.Context) error { return errno.ENOTDIR }

func (c *console) Flush(ctx context.Context) error { return nil }

func (c *console) Ioctl(ctx context.Context, cmd uint32, arg uint64) (uint64, error) {
	return 0, errno.ENOTTY
}

func (c *console) Poll(ctx context.Context, events uint32) (uint32, error) {
	return events, nil
}

func (c *console) Seek(ctx context.Context, whence vfs.SeekWhence, pos int64) (int64, error) {
	return 0, errno.ESPIPE
}
