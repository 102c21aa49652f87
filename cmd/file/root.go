package file

import (
	"fmt"
	"github.com/ValentinKolb/artic/cmd/util"
	"github.com/ValentinKolb/artic/lib/cache"
	"github.com/ValentinKolb/artic/rpc/client"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"strconv"
)

var (
	session  *client.Session
	provider *cache.Provider

	// FileCommands represents the file command group
	FileCommands = &cobra.Command{
		Use:                "file",
		Short:              "Access remote files through the tiered cache",
		PersistentPreRunE:  setupFileClient,
		PersistentPostRunE: stopFileClient,
	}
)

func init() {
	// Initialize viper
	cobra.OnInitialize(util.InitClientConfig)

	// Add common flags to the file commands
	util.SetupClientFlags(FileCommands)
	util.SetupCacheFlags(FileCommands)

	key := "archive"
	FileCommands.PersistentFlags().Uint64(key, 0, util.WrapString("Handle of the archive the file belongs to, used for the cache key"))
	key = "path"
	FileCommands.PersistentFlags().String(key, "", util.WrapString("Path of the file inside the archive, used for the cache key (defaults to the file handle)"))

	// Add subcommands
	FileCommands.AddCommand(readCmd)
	FileCommands.AddCommand(writeCmd)
	FileCommands.AddCommand(sizeCmd)
	FileCommands.AddCommand(perfTestCmd)
}

// setupFileClient connects the session and creates the cache provider
func setupFileClient(cmd *cobra.Command, _ []string) error {
	// The root pre run is shadowed by this one
	if root := cmd.Root(); root.PersistentPreRunE != nil {
		if err := root.PersistentPreRunE(cmd, nil); err != nil {
			return err
		}
	}

	// Bind command flags to viper
	if err := util.BindCommandFlags(cmd); err != nil {
		return err
	}

	var err error
	provider, err = cache.NewProvider(util.GetCacheConfig())
	if err != nil {
		return err
	}

	session, err = util.Connect()
	return err
}

// stopFileClient stops the session
func stopFileClient(_ *cobra.Command, _ []string) error {
	if session != nil {
		session.Stop()
	}
	return nil
}

// --------------------------------------------------------------------------
// Helper
// --------------------------------------------------------------------------

// fileCache returns the cache of the file with the given handle
func fileCache(handle int32) *cache.Cache {
	path := viper.GetString("path")
	if path == "" {
		path = fmt.Sprintf("#%d", handle)
	}
	return provider.ProvideCache(cache.PathKey(viper.GetUint64("archive"), path), client.NewRPCFile(session), true)
}

// parseHandle parses a file handle argument
func parseHandle(arg string) (int32, error) {
	handle, err := strconv.ParseInt(arg, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("handle must be a number: %w", err)
	}
	return int32(handle), nil
}
