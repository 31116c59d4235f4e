// Program baiji-cache is a small inspector over AssetCache: fetch, delete,
// list, and locate entries from the command line.
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/creachadair/command"
	"github.com/creachadair/flax"

	"github.com/bodylabs/baiji-pod/internal/cliinit"
)

var flags cliinit.Flags

func main() {
	root := &command.C{
		Name:  command.ProgramName(),
		Usage: "command [args]",
		Help: `Inspect and manipulate the local asset cache.

Keys are a kind of URL, of the form s3://BUCKET/PATH/TO/FILE. Run a
subcommand (cache, del, ls, loc) against the cache rooted at --cache-dir
(default $STATIC_CACHE_DIR, or ~/.baiji_cache).`,

		SetFlags: command.Flags(flax.MustBind, &flags),

		Commands: []*command.C{
			{
				Name:     "cache",
				Usage:    "key",
				Help:     "Cache key, printing the resulting local path.",
				SetFlags: command.Flags(flax.MustBind, &cacheFlags),
				Run:      command.Adapt(runCache),
			},
			{
				Name:  "del",
				Usage: "key",
				Help:  "Delete key's local data file and timestamp sidecar.",
				Run:   command.Adapt(runDel),
			},
			{
				Name:     "ls",
				Usage:    "[-l]",
				Help:     "List every entry currently in the cache.",
				SetFlags: command.Flags(flax.MustBind, &lsFlags),
				Run:      command.Adapt(runLs),
			},
			{
				Name:  "loc",
				Usage: "",
				Help:  "Print the cache's root directory.",
				Run:   command.Adapt(runLoc),
			},
			command.HelpCommand(nil),
			command.VersionCommand(),
		},
	}
	command.RunOrFail(root.NewEnv(nil), os.Args[1:])
}

var cacheFlags struct {
	Update bool `flag:"u,default=false,Always check for updates"`
}

func runCache(env *command.Env, args ...string) error {
	key, err := singleArg(args, "cache")
	if err != nil {
		return err
	}
	cache, err := cliinit.New(env.Context(), &flags)
	if err != nil {
		return err
	}
	local, err := cache.AC.Get(env.Context(), key, "", cacheFlags.Update)
	if err != nil {
		return err
	}
	fmt.Println(local)
	return nil
}

func runDel(env *command.Env, args ...string) error {
	key, err := singleArg(args, "del")
	if err != nil {
		return err
	}
	cache, err := cliinit.New(env.Context(), &flags)
	if err != nil {
		return err
	}
	return cache.AC.Delete(key, "")
}

var lsFlags struct {
	Long bool `flag:"l,default=false,Show size and age alongside each entry"`
}

func runLs(env *command.Env) error {
	cache, err := cliinit.New(env.Context(), &flags)
	if err != nil {
		return err
	}
	for entry := range cache.AC.List() {
		if lsFlags.Long {
			days := entry.Age(time.Now()).Hours() / 24
			fmt.Printf("%s %d %.0f days\n", entry.RemoteURI(), entry.Size(), days)
		} else {
			fmt.Println(entry.RemoteURI())
		}
	}
	return nil
}

func runLoc(env *command.Env) error {
	cache, err := cliinit.New(env.Context(), &flags)
	if err != nil {
		return err
	}
	fmt.Println(cache.AC.Config.CacheRoot)
	return nil
}

func singleArg(args []string, command string) (string, error) {
	if len(args) != 1 {
		return "", fmt.Errorf("usage: %s key", command)
	}
	return args[0], nil
}
