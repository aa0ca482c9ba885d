/*
 *
 * Copyright 2025 gRPC authors.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 *
 */

// Binary hostcache owns, inspects and edits a shared memory hostname cache.
//
// One long-running process owns the segment:
//
//	hostcache serve -name dns -size 4194304 -sweep 30s -http :8089
//
// Other invocations attach to it:
//
//	hostcache set -name dns -ttl 60s a.example.org 1.2.3.4
//	hostcache get -name dns a.example.org
//	hostcache dump -name dns
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"google.golang.org/grpc/grpclog"

	"github.com/shmkit/shmcache/hostcache"
)

var logger = grpclog.Component("hostcache")

const usage = `usage: hostcache <command> [flags] [args]

commands:
  serve               create and own a segment until interrupted
  get HOST            print the live alias for HOST
  set HOST ALIAS      store ALIAS for HOST (-ttl)
  del HOST            remove HOST
  sweep               remove expired entries
  clear               remove all entries
  stats               print segment statistics as JSON
  dump                list all entries, expired ones included

Run "hostcache <command> -h" for the flags of a command.
`

// errNotFound makes get exit non-zero on a miss.
var errNotFound = errors.New("not found")

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	cmd, args := os.Args[1], os.Args[2:]
	var err error
	switch cmd {
	case "serve":
		err = runServe(args)
	case "get":
		err = runGet(args)
	case "set":
		err = runSet(args)
	case "del":
		err = runDel(args)
	case "sweep":
		err = runSweep(args)
	case "clear":
		err = runClear(args)
	case "stats":
		err = runStats(args)
	case "dump":
		err = runDump(args)
	case "help", "-h", "--help":
		fmt.Print(usage)
		return
	default:
		fmt.Fprintf(os.Stderr, "hostcache: unknown command %q\n\n%s", cmd, usage)
		os.Exit(2)
	}

	if errors.Is(err, flag.ErrHelp) {
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "hostcache %s: %v\n", cmd, err)
		os.Exit(1)
	}
}

// segmentFlags are shared by every command.
type segmentFlags struct {
	name string
	dir  string
}

func newFlagSet(cmd string, sf *segmentFlags) *flag.FlagSet {
	fs := flag.NewFlagSet(cmd, flag.ContinueOnError)
	fs.StringVar(&sf.name, "name", "hostcache", "segment name")
	fs.StringVar(&sf.dir, "dir", "", "directory holding the segment (default /dev/shm)")
	return fs
}

func (sf *segmentFlags) options() []hostcache.Option {
	if sf.dir == "" {
		return nil
	}
	return []hostcache.Option{hostcache.WithDir(sf.dir)}
}

// attach parses args and attaches to the named segment, checking that
// exactly nargs positional arguments remain.
func attach(cmd string, args []string, nargs int, extra func(*flag.FlagSet)) (*hostcache.Cache, []string, error) {
	var sf segmentFlags
	fs := newFlagSet(cmd, &sf)
	if extra != nil {
		extra(fs)
	}
	if err := fs.Parse(args); err != nil {
		return nil, nil, err
	}
	if fs.NArg() != nargs {
		return nil, nil, fmt.Errorf("expected %d argument(s), got %d", nargs, fs.NArg())
	}

	c, err := hostcache.Attach(sf.name, sf.options()...)
	if err != nil {
		return nil, nil, err
	}
	return c, fs.Args(), nil
}

func runServe(args []string) error {
	var (
		sf    segmentFlags
		size  uint64
		sweep time.Duration
		addr  string
		cors  string
	)
	fs := newFlagSet("serve", &sf)
	fs.Uint64Var(&size, "size", 1<<20, "segment size in bytes")
	fs.DurationVar(&sweep, "sweep", 30*time.Second, "interval between expiry sweeps (0 disables)")
	fs.StringVar(&addr, "http", "", "serve the admin API on this address")
	fs.StringVar(&cors, "cors", "", "comma-separated origins allowed to call the admin API")
	if err := fs.Parse(args); err != nil {
		return err
	}

	c := hostcache.New(sf.options()...)
	if err := c.Init(sf.name, size); err != nil {
		return err
	}
	defer c.Deinit()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	stopJanitor := c.StartJanitor(ctx, sweep)
	defer stopJanitor()

	var srv *http.Server
	if addr != "" {
		srv = &http.Server{
			Addr:              addr,
			Handler:           newRouter(c, splitOrigins(cors)),
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			logger.Infof("Serving admin API on %s", addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Errorf("Admin API stopped: %v", err)
				stop()
			}
		}()
	}

	logger.Infof("Owning segment %q (pid %d); interrupt to remove it", sf.name, os.Getpid())
	<-ctx.Done()

	if srv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warningf("Admin API shutdown: %v", err)
		}
	}
	return nil
}

func splitOrigins(s string) []string {
	var origins []string
	for _, o := range strings.Split(s, ",") {
		if o = strings.TrimSpace(o); o != "" {
			origins = append(origins, o)
		}
	}
	return origins
}

func runGet(args []string) error {
	c, rest, err := attach("get", args, 1, nil)
	if err != nil {
		return err
	}
	defer c.Close()

	alias, ok := c.Lookup(rest[0])
	if !ok {
		return fmt.Errorf("%s: %w", rest[0], errNotFound)
	}
	fmt.Println(alias)
	return nil
}

func runSet(args []string) error {
	var ttl time.Duration
	c, rest, err := attach("set", args, 2, func(fs *flag.FlagSet) {
		fs.DurationVar(&ttl, "ttl", time.Minute, "time to live, rounded up to whole seconds")
	})
	if err != nil {
		return err
	}
	defer c.Close()

	inserted, err := c.InsertOrAssign(rest[0], rest[1], ttl)
	if err != nil {
		return err
	}
	if inserted {
		fmt.Println("inserted")
	} else {
		fmt.Println("updated")
	}
	return nil
}

func runDel(args []string) error {
	c, rest, err := attach("del", args, 1, nil)
	if err != nil {
		return err
	}
	defer c.Close()

	c.Erase(rest[0])
	return nil
}

func runSweep(args []string) error {
	c, _, err := attach("sweep", args, 0, nil)
	if err != nil {
		return err
	}
	defer c.Close()

	fmt.Println(c.EraseExpired())
	return nil
}

func runClear(args []string) error {
	c, _, err := attach("clear", args, 0, nil)
	if err != nil {
		return err
	}
	defer c.Close()

	c.Clear()
	return nil
}

func runStats(args []string) error {
	c, _, err := attach("stats", args, 0, nil)
	if err != nil {
		return err
	}
	defer c.Close()

	out, err := json.MarshalIndent(c.Stats(), "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}

func runDump(args []string) error {
	c, _, err := attach("dump", args, 0, nil)
	if err != nil {
		return err
	}
	defer c.Close()

	now := time.Now()
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "HOST\tALIAS\tEXPIRES\tTTL\tSTATE")
	c.Range(func(key string, e hostcache.Entry) bool {
		state := "live"
		if e.Expired(now) {
			state = "expired"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%v\t%s\n", key, e.Alias, e.Expiration.Format(time.RFC3339), e.TTL, state)
		return true
	})
	return w.Flush()
}
