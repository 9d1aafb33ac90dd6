// Command mkfs formats a set of disk images as one filesystem.
//
//	mkfs -r 1 -d disk1 -d disk2 -i 32 -b 200
package main

import (
	"flag"
	"fmt"
	"os"
	"strings"

	gdisk "github.com/tchajed/goose/machine/disk"

	"github.com/batra98/p6/common"
	"github.com/batra98/p6/disk"
	"github.com/batra98/p6/mkfs"
	"github.com/batra98/p6/util"
)

type diskList []string

func (l *diskList) String() string {
	return strings.Join(*l, ",")
}

func (l *diskList) Set(s string) error {
	*l = append(*l, s)
	return nil
}

func ferr(f string, s ...interface{}) {
	fmt.Fprintf(os.Stderr, f, s...)
}

func openImages(paths []string, size uint64) ([]disk.Disk, error) {
	var disks []disk.Disk
	for _, p := range paths {
		if err := disk.CreateImage(p, size); err != nil {
			return disks, err
		}
		d, err := disk.OpenMmap(p)
		if err != nil {
			return disks, err
		}
		disks = append(disks, d)
	}
	return disks, nil
}

// memImages builds throwaway disks for a dry run.
func memImages(n int, size uint64) []disk.Disk {
	disks := make([]disk.Disk, n)
	for i := range disks {
		disks[i] = disk.FromBlockDevice(gdisk.NewMemDisk(util.RoundUp(size, gdisk.BlockSize)))
	}
	return disks
}

func main() {
	var disks diskList
	var mode int
	var ninodes, nblocks uint64
	var dry bool
	var debug uint64

	flag.IntVar(&mode, "r", -1, "raid mode: 0 (striped) or 1 (mirrored)")
	flag.Var(&disks, "d", "disk image (repeat for every disk, in order)")
	flag.Uint64Var(&ninodes, "i", 0, "number of inodes")
	flag.Uint64Var(&nblocks, "b", 0, "number of data blocks (rounded up to a multiple of 32)")
	flag.BoolVar(&dry, "mem", false, "format in-memory disks and only print the layout")
	flag.Uint64Var(&debug, "debug", 0, "debug level")
	flag.Parse()
	util.Debug = debug

	p := mkfs.Params{
		Mode:     common.RaidMode(mode),
		NInodes:  ninodes,
		NBlocks:  nblocks,
		RootMode: mkfs.DefaultRootMode,
	}
	if mode < 0 || !p.Mode.Valid() || ninodes == 0 || nblocks == 0 ||
		uint64(len(disks)) < mkfs.MinDisks || flag.NArg() != 0 {
		ferr("Usage: %s -r 0|1 -d disk1 -d disk2 [-d ...] -i inodes -b blocks\n", os.Args[0])
		flag.PrintDefaults()
		os.Exit(1)
	}

	size := p.RequiredSize()
	var ds []disk.Disk
	if dry {
		ds = memImages(len(disks), size)
	} else {
		var err error
		ds, err = openImages(disks, size)
		if err != nil {
			for _, d := range ds {
				d.Close()
			}
			ferr("mkfs: %v\n", err)
			os.Exit(1)
		}
	}

	fs, err := mkfs.Format(ds, p)
	for _, d := range ds {
		if cerr := d.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	if err != nil {
		ferr("mkfs: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("%s: %d disks of %d bytes\n", p.Mode, len(disks), size)
	fmt.Printf("%v\n", fs.Super)
}
