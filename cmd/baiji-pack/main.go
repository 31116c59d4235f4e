// Program baiji-pack bundles cached assets into zip packs for offline
// transport, restores them on the receiving end, and prefetches a list of
// references into the local cache ahead of time.
package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/creachadair/command"
	"github.com/creachadair/flax"
	"gopkg.in/yaml.v3"

	"github.com/bodylabs/baiji-pod/internal/assetpack"
	"github.com/bodylabs/baiji-pod/internal/cliinit"
	"github.com/bodylabs/baiji-pod/internal/prefill"
)

var flags cliinit.Flags

func main() {
	root := &command.C{
		Name:  command.ProgramName(),
		Usage: "command [args]",
		Help: `Bundle and restore cached assets, and prefill the local cache.

dump and prefill both read a list of paths from a YAML file: a flat list
of s3:// URIs and/or VersionedCache logical paths.`,

		SetFlags: command.Flags(flax.MustBind, &flags),

		Commands: []*command.C{
			{
				Name:     "dump",
				Usage:    "file save-to",
				Help:     "Write every path in the YAML file to one or more zip packs at save-to.",
				SetFlags: command.Flags(flax.MustBind, &dumpFlags),
				Run:      command.Adapt(runDump),
			},
			{
				Name:  "load",
				Usage: "file [file...]",
				Help:  "Restore one or more previously-dumped packs into the local cache.",
				Run:   command.Adapt(runLoad),
			},
			{
				Name:     "prefill",
				Usage:    "-f file",
				Help:     "Fetch every path in the YAML file into the local cache, up to --concurrency at a time.",
				SetFlags: command.Flags(flax.MustBind, &prefillFlags),
				Run:      command.Adapt(runPrefill),
			},
			command.HelpCommand(nil),
			command.VersionCommand(),
		},
	}
	command.RunOrFail(root.NewEnv(nil), os.Args[1:])
}

var dumpFlags struct {
	MaxSizeMB int `flag:"max-size,default=0,Maximum size of each zip file, in MB (0: one zip file)"`
}

func runDump(env *command.Env, args ...string) error {
	if len(args) != 2 {
		return errors.New("usage: dump file save-to")
	}
	paths, err := loadPathList(args[0])
	if err != nil {
		return err
	}
	cache, err := cliinit.New(env.Context(), &flags)
	if err != nil {
		return err
	}
	var maxSizeBytes int64
	if dumpFlags.MaxSizeMB > 0 {
		maxSizeBytes = int64(dumpFlags.MaxSizeMB) * 1024 * 1024
	}
	return assetpack.Dump(env.Context(), cache.AC, cache.VC, paths, args[1], maxSizeBytes)
}

func runLoad(env *command.Env, args ...string) error {
	if len(args) < 1 {
		return errors.New("usage: load file [file...]")
	}
	cache, err := cliinit.New(env.Context(), &flags)
	if err != nil {
		return err
	}
	return assetpack.Load(cache.AC.Config.CacheRoot, args)
}

var prefillFlags struct {
	File        string `flag:"f,default=,YAML file containing what to prefill (required)"`
	Concurrency int    `flag:"concurrency,default=0,Number of paths to fetch at once (0: use the configured default)"`
}

func runPrefill(env *command.Env) error {
	if prefillFlags.File == "" {
		return errors.New("usage: prefill -f file")
	}
	paths, err := loadPathList(prefillFlags.File)
	if err != nil {
		return err
	}
	if len(paths) == 0 {
		fmt.Println("Nothing to prefill!")
		return nil
	}
	cache, err := cliinit.New(env.Context(), &flags)
	if err != nil {
		return err
	}
	concurrency := prefillFlags.Concurrency
	if concurrency <= 0 {
		concurrency = cache.AC.Config.PrefillConcurrency
	}
	prefill.Run(env.Context(), cache.AC, cache.VC, paths, concurrency, flags.Verbose)
	return nil
}

// loadPathList reads a flat YAML list of paths, expanding a leading "~".
func loadPathList(path string) ([]string, error) {
	if len(path) > 0 && path[0] == '~' {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, err
		}
		path = filepath.Join(home, path[1:])
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var paths []string
	if err := yaml.Unmarshal(data, &paths); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return paths, nil
}
