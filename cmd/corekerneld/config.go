package main

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// RootFSType names the backing filesystem implementation mounted at "/".
type RootFSType string

const (
	RootFSTmpfs RootFSType = "tmpfs"
	RootFSFat   RootFSType = "fat"
	RootFSExt4  RootFSType = "ext4"
)

// ByteSize is a config value accepting suffixed sizes ("64KB", "4MB") the
// way cfg.Octal in gcsfuse's config package accepts "0644"-style strings,
// via a custom mapstructure decode hook rather than plain numeric YAML.
type ByteSize int64

// Config is corekernel's boot configuration: hart count, the root device
// and its filesystem type, and a readahead size. Readahead is parsed and
// logged at boot; no filesystem code reads it.
type Config struct {
	Harts      int        `mapstructure:"harts"`
	RootFS     RootFSType `mapstructure:"root-fs"`
	RootDevice string     `mapstructure:"root-device"`
	Readahead  ByteSize   `mapstructure:"readahead"`
	Debug      bool       `mapstructure:"debug"`
}

// byteSizeHook parses suffixed byte sizes for ByteSize fields, and
// validates RootFSType against the three backends corekernel ships,
// mirroring the shape of gcsfuse's cfg.hookFunc: a mapstructure
// DecodeHookFuncType dispatched on the target reflect.Type.
func byteSizeHook() mapstructure.DecodeHookFuncType {
	return func(from, to reflect.Type, data interface{}) (interface{}, error) {
		if from.Kind() != reflect.String {
			return data, nil
		}
		s, _ := data.(string)
		switch to {
		case reflect.TypeOf(ByteSize(0)):
			return parseByteSize(s)
		case reflect.TypeOf(RootFSType("")):
			v := RootFSType(strings.ToLower(s))
			switch v {
			case RootFSTmpfs, RootFSFat, RootFSExt4:
				return v, nil
			default:
				return nil, fmt.Errorf("invalid root-fs %q: want tmpfs, fat, or ext4", s)
			}
		}
		return data, nil
	}
}

func parseByteSize(s string) (ByteSize, error) {
	s = strings.TrimSpace(s)
	mult := int64(1)
	switch {
	case strings.HasSuffix(s, "KB"):
		mult, s = 1024, strings.TrimSuffix(s, "KB")
	case strings.HasSuffix(s, "MB"):
		mult, s = 1024*1024, strings.TrimSuffix(s, "MB")
	case strings.HasSuffix(s, "GB"):
		mult, s = 1024*1024*1024, strings.TrimSuffix(s, "GB")
	}
	n, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid byte size %q: %w", s, err)
	}
	return ByteSize(n * mult), nil
}

// BindFlags registers corekernel's boot flags on flagSet and binds each to
// viper, the same BindFlags-then-viper.Unmarshal pattern gcsfuse's
// cfg.BindFlags follows.
func BindFlags(flagSet *pflag.FlagSet) error {
	flagSet.IntP("harts", "", 1, "number of hart goroutines to run")
	if err := viper.BindPFlag("harts", flagSet.Lookup("harts")); err != nil {
		return err
	}

	flagSet.StringP("root-fs", "", "tmpfs", "root filesystem type: tmpfs, fat, or ext4")
	if err := viper.BindPFlag("root-fs", flagSet.Lookup("root-fs")); err != nil {
		return err
	}

	flagSet.StringP("root-device", "", "", "path to the root filesystem's backing disk image (unused for tmpfs)")
	if err := viper.BindPFlag("root-device", flagSet.Lookup("root-device")); err != nil {
		return err
	}

	flagSet.StringP("readahead", "", "64KB", "directory readahead window, e.g. 64KB, 4MB")
	if err := viper.BindPFlag("readahead", flagSet.Lookup("readahead")); err != nil {
		return err
	}

	flagSet.BoolP("debug", "", false, "enable debug-level logging")
	return viper.BindPFlag("debug", flagSet.Lookup("debug"))
}

// Unmarshal decodes viper's bound values into a Config, applying
// byteSizeHook alongside mapstructure's default string-to-basic-kind
// hooks.
func Unmarshal() (Config, error) {
	var cfg Config
	err := viper.Unmarshal(&cfg, viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		byteSizeHook(),
	)))
	return cfg, err
}
