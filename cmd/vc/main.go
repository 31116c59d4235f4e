// Program vc drives VersionedCache: publish new versions, bump existing
// ones, inspect the manifest, and resolve versioned paths to local or
// remote locations.
package main

import (
	"errors"
	"fmt"
	"os"
	"os/exec"

	"github.com/creachadair/command"
	"github.com/creachadair/flax"

	"github.com/bodylabs/baiji-pod/internal/cliinit"
	"github.com/bodylabs/baiji-pod/internal/versionedcache"
)

var flags cliinit.Flags

func main() {
	root := &command.C{
		Name:  command.ProgramName(),
		Usage: "command [args]",
		Help: `Publish, bump, and resolve semantically-versioned assets.

The manifest (--manifest, default vc_manifest.json) maps a logical path
to the version currently published for it in --version-bucket (default:
--bucket).`,

		SetFlags: command.Flags(flax.MustBind, &flags),

		Commands: []*command.C{
			{
				Name:  "add",
				Usage: "path local-file [version]",
				Help:  "Publish local-file as path's first version (default 1.0.0).",
				Run:   command.Adapt(runAdd),
			},
			{
				Name:     "update",
				Usage:    "path local-file [min-version]",
				Help:     "Publish local-file as a new version of path, bumping --major, --minor, or --patch.",
				SetFlags: command.Flags(flax.MustBind, &updateFlags),
				Run:      command.Adapt(runUpdate),
			},
			{
				Name:  "versions",
				Usage: "path",
				Help:  "List every version of path available remotely.",
				Run:   command.Adapt(runVersions),
			},
			{
				Name:  "sync",
				Usage: "destination",
				Help:  "Fetch every manifest entry and copy it into destination.",
				Run:   command.Adapt(runSync),
			},
			{
				Name:  "ls",
				Usage: "",
				Help:  "List every logical path in the manifest.",
				Run:   command.Adapt(runLs),
			},
			{
				Name:  "ls-remote",
				Usage: "",
				Help:  "List every distinct logical path (version stripped) present in the bucket.",
				Run:   command.Adapt(runLsRemote),
			},
			{
				Name:  "get",
				Usage: "path [version] destination",
				Help:  "Fetch path (at version, or the manifest version), copying it to destination.",
				Run:   command.Adapt(runGet),
			},
			{
				Name:  "path",
				Usage: "path [version]",
				Help:  "Cache the file locally and print its path (e.g. open `vc path /foo/bar.png`).",
				Run:   command.Adapt(runPath),
			},
			{
				Name:  "open",
				Usage: "path [version]",
				Help:  "Cache the file locally and open it with the platform opener.",
				Run:   command.Adapt(runOpen),
			},
			{
				Name:  "path-remote",
				Usage: "path [version]",
				Help:  "Print the remote URI path resolves to, without fetching.",
				Run:   command.Adapt(runPathRemote),
			},
			{
				Name:  "cat",
				Usage: "path [version]",
				Help:  "Fetch path and print its contents to stdout.",
				Run:   command.Adapt(runCat),
			},
			command.HelpCommand(nil),
			command.VersionCommand(),
		},
	}
	command.RunOrFail(root.NewEnv(nil), os.Args[1:])
}

func runAdd(env *command.Env, args ...string) error {
	if len(args) < 2 {
		return errors.New("usage: add path local-file [version]")
	}
	cache, err := cliinit.New(env.Context(), &flags)
	if err != nil {
		return err
	}
	version := ""
	if len(args) > 2 {
		version = args[2]
	}
	return cache.VC.Add(env.Context(), args[0], args[1], version)
}

var updateFlags struct {
	Major bool `flag:"major,default=false,Bump the major version"`
	Minor bool `flag:"minor,default=false,Bump the minor version"`
	Patch bool `flag:"patch,default=false,Bump the patch version"`
}

func runUpdate(env *command.Env, args ...string) error {
	if len(args) < 2 {
		return errors.New("usage: update path local-file [min-version]")
	}
	cache, err := cliinit.New(env.Context(), &flags)
	if err != nil {
		return err
	}
	minVersion := ""
	if len(args) > 2 {
		minVersion = args[2]
	}
	newVersion, err := cache.VC.Update(env.Context(), args[0], args[1], versionedcache.UpdateOpts{
		Major:      updateFlags.Major,
		Minor:      updateFlags.Minor,
		Patch:      updateFlags.Patch,
		MinVersion: minVersion,
	})
	if err != nil {
		return err
	}
	fmt.Println(newVersion)
	return nil
}

func runVersions(env *command.Env, args ...string) error {
	if len(args) < 1 {
		return errors.New("usage: versions path")
	}
	cache, err := cliinit.New(env.Context(), &flags)
	if err != nil {
		return err
	}
	versions, err := cache.VC.VersionsAvailable(env.Context(), args[0])
	if err != nil {
		return err
	}
	for _, v := range versions {
		fmt.Println(v)
	}
	return nil
}

func runSync(env *command.Env, args ...string) error {
	if len(args) < 1 {
		return errors.New("usage: sync destination")
	}
	cache, err := cliinit.New(env.Context(), &flags)
	if err != nil {
		return err
	}
	return cache.VC.Sync(env.Context(), args[0])
}

func runLs(env *command.Env) error {
	cache, err := cliinit.New(env.Context(), &flags)
	if err != nil {
		return err
	}
	files, err := cache.VC.ManifestFiles()
	if err != nil {
		return err
	}
	for _, f := range files {
		fmt.Println(f)
	}
	return nil
}

func runLsRemote(env *command.Env) error {
	cache, err := cliinit.New(env.Context(), &flags)
	if err != nil {
		return err
	}
	keys, err := cache.VC.LsRemote(env.Context())
	if err != nil {
		return err
	}
	for _, k := range keys {
		fmt.Println(k)
	}
	return nil
}

func runGet(env *command.Env, args ...string) error {
	if len(args) < 2 {
		return errors.New("usage: get path [version] destination")
	}
	path, version, destination := args[0], "", args[len(args)-1]
	if len(args) > 2 {
		version = args[1]
	}
	cache, err := cliinit.New(env.Context(), &flags)
	if err != nil {
		return err
	}
	local, err := cache.VC.Get(env.Context(), path, version)
	if err != nil {
		return err
	}
	return cache.VC.AC.Store.Copy(env.Context(), string(local), destination, true, false)
}

func runPath(env *command.Env, args ...string) error {
	path, version, err := pathAndVersion(args)
	if err != nil {
		return err
	}
	cache, err := cliinit.New(env.Context(), &flags)
	if err != nil {
		return err
	}
	local, err := cache.VC.Get(env.Context(), path, version)
	if err != nil {
		return err
	}
	fmt.Println(local)
	return nil
}

func runOpen(env *command.Env, args ...string) error {
	path, version, err := pathAndVersion(args)
	if err != nil {
		return err
	}
	cache, err := cliinit.New(env.Context(), &flags)
	if err != nil {
		return err
	}
	local, err := cache.VC.Get(env.Context(), path, version)
	if err != nil {
		return err
	}
	return exec.Command("open", string(local)).Run()
}

func runPathRemote(env *command.Env, args ...string) error {
	path, version, err := pathAndVersion(args)
	if err != nil {
		return err
	}
	cache, err := cliinit.New(env.Context(), &flags)
	if err != nil {
		return err
	}
	if version == "" {
		version, err = cache.VC.ManifestVersion(path)
		if err != nil {
			return err
		}
	}
	uri, err := cache.VC.URI(env.Context(), path, version, true, nil)
	if err != nil {
		return err
	}
	fmt.Println(uri)
	return nil
}

func runCat(env *command.Env, args ...string) error {
	path, version, err := pathAndVersion(args)
	if err != nil {
		return err
	}
	cache, err := cliinit.New(env.Context(), &flags)
	if err != nil {
		return err
	}
	local, err := cache.VC.Get(env.Context(), path, version)
	if err != nil {
		return err
	}
	data, err := os.ReadFile(string(local))
	if err != nil {
		return err
	}
	_, err = os.Stdout.Write(data)
	return err
}

func pathAndVersion(args []string) (path, version string, err error) {
	if len(args) == 0 {
		return "", "", errors.New("path argument is required")
	}
	path = args[0]
	if len(args) > 1 {
		version = args[1]
	}
	return path, version, nil
}
