// Command wfs mounts a filesystem spread over several disk images.
//
//	wfs disk1 disk2 [...] [-f] [-s] [-d] [-o opt,...] [-degraded] [-check] mountpoint
//
// Disk images come first, in any order; the last argument is the mount
// point. -o passes FUSE mount options such as allow_other or ro.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strconv"
	"strings"

	"bazil.org/fuse"
	"bazil.org/fuse/fs"
	"golang.org/x/sys/unix"

	"github.com/batra98/p6/mount"
	"github.com/batra98/p6/util"
	"github.com/batra98/p6/wfsfuse"
)

func usage() {
	fmt.Fprintf(os.Stderr,
		"Usage: %s disk1 disk2 [...] [-f] [-s] [-d] [-o opt,...] [-degraded] [-check] [-io mmap|block] mountpoint\n",
		os.Args[0])
	flag.PrintDefaults()
	os.Exit(1)
}

// splitArgs separates the leading disk image paths, which must exist, from
// the options and the mount point that follow them.
func splitArgs(args []string) (disks []string, rest []string, mnt string) {
	i := 0
	for i < len(args) && !strings.HasPrefix(args[i], "-") {
		if _, err := os.Stat(args[i]); err != nil {
			break
		}
		i++
	}
	disks = args[:i]
	rest = args[i:]
	if len(rest) == 0 && len(disks) > 0 {
		// the mount point exists too, so it was taken for a disk
		mnt = disks[len(disks)-1]
		disks = disks[:len(disks)-1]
		return
	}
	if len(rest) > 0 {
		mnt = rest[len(rest)-1]
		rest = rest[:len(rest)-1]
	}
	return
}

// optList collects repeated -o flags, each a comma-separated list.
type optList []string

func (l *optList) String() string {
	return strings.Join(*l, ",")
}

func (l *optList) Set(v string) error {
	for _, o := range strings.Split(v, ",") {
		if o != "" {
			*l = append(*l, o)
		}
	}
	return nil
}

// mountOptions translates -o options into bazil mount options, after the
// defaults naming the filesystem.
func mountOptions(opts []string) ([]fuse.MountOption, error) {
	mopts := []fuse.MountOption{fuse.FSName("wfs"), fuse.Subtype("wfs")}
	for _, o := range opts {
		key, val, hasVal := strings.Cut(o, "=")
		var mo fuse.MountOption
		switch key {
		case "allow_other":
			mo = fuse.AllowOther()
		case "allow_root":
			mo = fuse.AllowRoot()
		case "default_permissions":
			mo = fuse.DefaultPermissions()
		case "ro":
			mo = fuse.ReadOnly()
		case "rw":
			continue
		case "dev":
			mo = fuse.AllowDev()
		case "suid":
			mo = fuse.AllowSUID()
		case "nonempty":
			mo = fuse.AllowNonEmptyMount()
		case "async_read":
			mo = fuse.AsyncRead()
		case "writeback_cache":
			mo = fuse.WritebackCache()
		case "fsname":
			mo = fuse.FSName(val)
		case "subtype":
			mo = fuse.Subtype(val)
		case "max_readahead":
			n, err := strconv.ParseUint(val, 10, 32)
			if err != nil {
				return nil, fmt.Errorf("mount option %s: %v", o, err)
			}
			mo = fuse.MaxReadahead(uint32(n))
		default:
			return nil, fmt.Errorf("unsupported mount option %s", o)
		}
		if hasVal != (key == "fsname" || key == "subtype" || key == "max_readahead") {
			return nil, fmt.Errorf("malformed mount option %s", o)
		}
		mopts = append(mopts, mo)
	}
	return mopts, nil
}

func main() {
	flag.Usage = usage
	flag.Bool("f", false, "run in the foreground (always the case)")
	single := flag.Bool("s", false, "handle one request at a time")
	debug := flag.Bool("d", false, "print debug output")
	degraded := flag.Bool("degraded", false, "mount a mirrored set with disks missing")
	check := flag.Bool("check", false, "check consistency before serving")
	io := flag.String("io", mount.IOMmap, "disk access: mmap or block")
	var opts optList
	flag.Var(&opts, "o", "FUSE mount options, comma separated")

	disks, rest, mnt := splitArgs(os.Args[1:])
	if err := flag.CommandLine.Parse(rest); err != nil || flag.NArg() != 0 {
		usage()
	}
	if mnt == "" || (len(disks) < mount.MinDisks && !*degraded) {
		usage()
	}
	mopts, err := mountOptions(opts)
	if err != nil {
		fmt.Fprintf(os.Stderr, "wfs: %v\n", err)
		os.Exit(1)
	}
	if st, err := os.Stat(mnt); err != nil || !st.IsDir() {
		fmt.Fprintf(os.Stderr, "wfs: mount point %s is not a directory\n", mnt)
		os.Exit(1)
	}
	if *debug {
		util.Debug = 5
		fuse.Debug = func(msg interface{}) { log.Print(msg) }
	}

	cfg := mount.DefaultConfig()
	cfg.AllowDegraded = *degraded
	cfg.IO = *io
	m, err := mount.Open(disks, cfg)
	if err != nil {
		log.Fatalf("wfs: %v", err)
	}
	if *check {
		if err := m.Check(); err != nil {
			m.Close()
			log.Fatalf("wfs: inconsistent filesystem: %v", err)
		}
	}

	c, err := fuse.Mount(mnt, mopts...)
	if err != nil {
		m.Close()
		log.Fatalf("wfs: mount %s: %v", mnt, err)
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, unix.SIGTERM)
	go func() {
		<-sig
		if err := fuse.Unmount(mnt); err != nil {
			log.Printf("wfs: unmount %s: %v", mnt, err)
		}
	}()

	err = fs.Serve(c, wfsfuse.New(m.FS, *single))
	if err == nil {
		<-c.Ready
		err = c.MountError
	}
	c.Close()
	if cerr := m.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		log.Fatalf("wfs: %v", err)
	}
}
