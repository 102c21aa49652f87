package file

import (
	"encoding/hex"
	"fmt"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"os"
	"strconv"
)

var (
	readCmd = &cobra.Command{
		Use:   "read [handle] [offset] [length]",
		Short: "Reads a range of a remote file",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			handle, err := parseHandle(args[0])
			if err != nil {
				return err
			}
			offset, err := strconv.ParseUint(args[1], 10, 64)
			if err != nil {
				return fmt.Errorf("offset must be a number: %w", err)
			}
			length, err := strconv.Atoi(args[2])
			if err != nil || length < 0 {
				return fmt.Errorf("length must be a positive number")
			}

			buf := make([]byte, length)
			n, err := fileCache(handle).Read(handle, offset, buf)
			if err != nil {
				return err
			}

			if out := viper.GetString("out"); out != "" {
				if err := os.WriteFile(out, buf[:n], 0o644); err != nil {
					return err
				}
				fmt.Printf("%d bytes written to %s\n", n, out)
				return nil
			}

			dumper := hex.Dumper(os.Stdout)
			defer dumper.Close()
			_, err = dumper.Write(buf[:n])
			return err
		},
	}
	writeCmd = &cobra.Command{
		Use:   "write [handle] [offset] [data]",
		Short: "Writes data to a remote file",
		Long:  "Writes data to a remote file. With --in the data is read from a local file and the data argument is omitted.",
		Args:  cobra.RangeArgs(2, 3),
		RunE: func(cmd *cobra.Command, args []string) error {
			handle, err := parseHandle(args[0])
			if err != nil {
				return err
			}
			offset, err := strconv.ParseUint(args[1], 10, 64)
			if err != nil {
				return fmt.Errorf("offset must be a number: %w", err)
			}

			var data []byte
			switch in := viper.GetString("in"); {
			case in != "":
				if data, err = os.ReadFile(in); err != nil {
					return err
				}
			case len(args) == 3:
				data = []byte(args[2])
			default:
				return fmt.Errorf("either data or --in is required")
			}

			n, err := fileCache(handle).Write(handle, offset, data, uint32(viper.GetUint("flags")))
			if err != nil {
				return err
			}
			fmt.Printf("%d of %d bytes written\n", n, len(data))
			return nil
		},
	}
	sizeCmd = &cobra.Command{
		Use:   "size [handle]",
		Short: "Prints the size of a remote file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			handle, err := parseHandle(args[0])
			if err != nil {
				return err
			}
			size, err := fileCache(handle).GetSize(handle)
			if err != nil {
				return err
			}
			fmt.Println(size)
			return nil
		},
	}
)

func init() {
	key := "out"
	readCmd.Flags().String(key, "", "Write the data to this local file instead of printing a hex dump")
	key = "in"
	writeCmd.Flags().String(key, "", "Read the data from this local file")
	key = "flags"
	writeCmd.Flags().Uint32(key, 0, "Write flags passed to the peer")
}
