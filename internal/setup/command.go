package setup

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
)

// NewCommand builds the "setup" command tree for a server binary.
// defaultDataDir is reported when a registration sets no data directory.
func NewCommand(serverType, defaultDataDir string) *cobra.Command {
	var configPath string

	resolvePath := func() (string, error) {
		if configPath != "" {
			return configPath, nil
		}
		return DefaultClientConfigPath()
	}

	root := &cobra.Command{
		Use:   "setup",
		Short: "Register the server with a desktop MCP client",
	}
	root.PersistentFlags().StringVar(&configPath, "client-config", "", "client configuration file (default: platform specific)")

	opts := Options{ServerType: serverType}
	register := &cobra.Command{
		Use:   "register",
		Short: "Add or update the server entry",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			path, err := resolvePath()
			if err != nil {
				return err
			}
			if opts.BinaryPath == "" {
				if exe, err := os.Executable(); err == nil {
					opts.BinaryPath = exe
				}
			}
			entry, err := Register(path, opts)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Registered %q in %s\n", ServerName, path)
			fmt.Fprintf(out, "  command: %s\n", entry.Command)
			for k, v := range entry.Env {
				fmt.Fprintf(out, "  %s=%s\n", k, v)
			}
			fmt.Fprintln(out, "Restart the client to load the new configuration.")
			return nil
		},
	}
	register.Flags().StringVar(&opts.BinaryPath, "binary", "", "server binary (default: this executable)")
	register.Flags().StringVar(&opts.DataDir, "data-dir", "", "data directory passed as KIDNEY_DATA_DIR")
	register.Flags().StringVar(&opts.Solver, "solver", "", "default solver passed as KIDNEY_SOLVER")
	if serverType == "full" {
		register.Flags().StringVar(&opts.ConfigFile, "server-config", "", "configuration file passed to the server as --config")
	}

	var asJSON bool
	status := &cobra.Command{
		Use:   "status",
		Short: "Show the registration state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			path, err := resolvePath()
			if err != nil {
				return err
			}
			st, err := Inspect(path, defaultDataDir)
			if err != nil {
				return err
			}
			return printStatus(cmd.OutOrStdout(), st, asJSON)
		},
	}
	status.Flags().BoolVar(&asJSON, "json", false, "print JSON")

	remove := &cobra.Command{
		Use:   "remove",
		Short: "Remove the server entry",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			path, err := resolvePath()
			if err != nil {
				return err
			}
			removed, err := Unregister(path)
			if err != nil {
				return err
			}
			if removed {
				fmt.Fprintf(cmd.OutOrStdout(), "Removed %q from %s\n", ServerName, path)
			} else {
				fmt.Fprintf(cmd.OutOrStdout(), "%q was not registered in %s\n", ServerName, path)
			}
			return nil
		},
	}

	root.AddCommand(register, status, remove)
	return root
}

func printStatus(out io.Writer, st *Status, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(st)
	}
	fmt.Fprintf(out, "Client config: %s\n", st.ConfigPath)
	if st.Registered {
		fmt.Fprintf(out, "Registered:    yes (%s)\n", st.Command)
	} else {
		fmt.Fprintln(out, "Registered:    no")
	}
	fmt.Fprintf(out, "Data dir:      %s\n", st.DataDir)
	fmt.Fprintf(out, "Runs database: %t\n", st.RunsDBExists)
	for _, issue := range st.Issues {
		fmt.Fprintf(out, "  ! %s\n", issue)
	}
	return nil
}
