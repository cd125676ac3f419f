package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
)

func main() {
	root := buildRoot()
	if err := root.Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// APIFlags holds the daemon connection flags shared by client commands.
type APIFlags struct {
	URL     string
	Timeout time.Duration
}

func addAPIFlags(cmd *cobra.Command, flags *APIFlags) {
	cmd.Flags().StringVar(&flags.URL, "api-url", "", "daemon URL (default http://127.0.0.1:8181)")
	cmd.Flags().DurationVar(&flags.Timeout, "api-timeout", 10*time.Second, "request timeout")
}

// ServeFlags holds flags for the serve command.
type ServeFlags struct {
	ConfigPath string
}

func buildRoot() *cobra.Command {
	root := createRootCommand()
	root.AddCommand(
		createServeCommand(),
		createStartCommand(),
		createStopCommand(),
		createRestartCommand(),
		createStatusCommand(),
		createLogsCommand(),
		createVersionCommand(),
		createConfigCommand(),
		createPackagesCommand(),
		createUsersCommand(),
		createSettingsCommand(),
	)
	return root
}

func createRootCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "verdadesk",
		Short: "Verdaccio registry control panel",
		Long: `Verdadesk supervises a local Verdaccio npm registry: it launches and
stops the registry process, buffers its output, and manages its
configuration, packages and users.

Examples:
  verdadesk serve                    # Start the control daemon
  verdadesk start --port=4873        # Launch the registry
  verdadesk status
  verdadesk logs
  verdadesk packages list --type=cached`,
	}
}

func createServeCommand() *cobra.Command {
	serveFlags := &ServeFlags{}
	cmd := &cobra.Command{
		Use:   "serve [config.toml]",
		Short: "Start the verdadesk daemon",
		Long: `Start the daemon that owns the registry process and exposes the
control API.

Examples:
  verdadesk serve                    # Built-in defaults, 127.0.0.1:8181
  verdadesk serve verdadesk.toml     # With a config file`,
		RunE: func(cmd *cobra.Command, args []string) error {
			configPath := serveFlags.ConfigPath
			if len(args) > 0 {
				configPath = args[0]
			}
			return runServe(configPath)
		},
	}
	cmd.Flags().StringVar(&serveFlags.ConfigPath, "config", "", "path to TOML config file (optional)")
	return cmd
}

func createStartCommand() *cobra.Command {
	apiFlags := &APIFlags{}
	var port uint16
	var allowLAN bool
	cmd := &cobra.Command{
		Use:   "start",
		Short: "Launch the registry",
		Long: `Launch the Verdaccio registry through the daemon.

Examples:
  verdadesk start
  verdadesk start --port=5000 --allow-lan`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return newCommand(apiFlags).Start(port, allowLAN)
		},
	}
	cmd.Flags().Uint16Var(&port, "port", 0, "registry port (default from daemon settings)")
	cmd.Flags().BoolVar(&allowLAN, "allow-lan", false, "bind to all interfaces instead of loopback")
	addAPIFlags(cmd, apiFlags)
	return cmd
}

func createStopCommand() *cobra.Command {
	apiFlags := &APIFlags{}
	cmd := &cobra.Command{
		Use:   "stop",
		Short: "Stop the registry",
		RunE: func(cmd *cobra.Command, args []string) error {
			return newCommand(apiFlags).Stop()
		},
	}
	addAPIFlags(cmd, apiFlags)
	return cmd
}

func createRestartCommand() *cobra.Command {
	apiFlags := &APIFlags{}
	var port uint16
	var allowLAN bool
	cmd := &cobra.Command{
		Use:   "restart",
		Short: "Restart the registry",
		RunE: func(cmd *cobra.Command, args []string) error {
			return newCommand(apiFlags).Restart(port, allowLAN)
		},
	}
	cmd.Flags().Uint16Var(&port, "port", 0, "registry port (default: current port)")
	cmd.Flags().BoolVar(&allowLAN, "allow-lan", false, "bind to all interfaces instead of loopback")
	addAPIFlags(cmd, apiFlags)
	return cmd
}

func createStatusCommand() *cobra.Command {
	apiFlags := &APIFlags{}
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show registry status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return newCommand(apiFlags).Status()
		},
	}
	addAPIFlags(cmd, apiFlags)
	return cmd
}

func createLogsCommand() *cobra.Command {
	apiFlags := &APIFlags{}
	var clear bool
	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Show buffered registry logs",
		Long: `Print the registry's buffered output, oldest first.

Examples:
  verdadesk logs
  verdadesk logs --clear`,
		RunE: func(cmd *cobra.Command, args []string) error {
			c := newCommand(apiFlags)
			if clear {
				return c.ClearLogs()
			}
			return c.Logs()
		},
	}
	cmd.Flags().BoolVar(&clear, "clear", false, "clear the log buffer instead of printing it")
	addAPIFlags(cmd, apiFlags)
	return cmd
}

func createVersionCommand() *cobra.Command {
	apiFlags := &APIFlags{}
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Show the bundled Verdaccio version",
		RunE: func(cmd *cobra.Command, args []string) error {
			return newCommand(apiFlags).Version()
		},
	}
	addAPIFlags(cmd, apiFlags)
	return cmd
}

func createConfigCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage the registry configuration file",
	}

	showFlags := &APIFlags{}
	show := &cobra.Command{
		Use:   "show",
		Short: "Print the registry config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			return newCommand(showFlags).ConfigShow()
		},
	}
	addAPIFlags(show, showFlags)

	saveFlags := &APIFlags{}
	var file string
	save := &cobra.Command{
		Use:   "save",
		Short: "Replace the registry config file",
		Long: `Replace the registry config with the contents of a local file.

Example:
  verdadesk config save --file=./config.yaml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return newCommand(saveFlags).ConfigSave(file)
		},
	}
	save.Flags().StringVar(&file, "file", "", "path to the new config file (required)")
	addAPIFlags(save, saveFlags)
	if err := save.MarkFlagRequired("file"); err != nil {
		panic(err)
	}

	resetFlags := &APIFlags{}
	reset := &cobra.Command{
		Use:   "reset",
		Short: "Restore the stock registry config",
		RunE: func(cmd *cobra.Command, args []string) error {
			return newCommand(resetFlags).ConfigReset()
		},
	}
	addAPIFlags(reset, resetFlags)

	cmd.AddCommand(show, save, reset)
	return cmd
}

func createPackagesCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "packages",
		Short: "Inspect and manage stored packages",
	}

	listFlags := &APIFlags{}
	var typ string
	var page, pageSize int
	list := &cobra.Command{
		Use:   "list",
		Short: "List stored packages",
		Long: `List packages in the registry's storage.

Examples:
  verdadesk packages list
  verdadesk packages list --type=private --page=2 --page-size=50`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return newCommand(listFlags).PackagesList(typ, page, pageSize)
		},
	}
	list.Flags().StringVar(&typ, "type", "all", "package type: private, cached or all")
	list.Flags().IntVar(&page, "page", 1, "page number")
	list.Flags().IntVar(&pageSize, "page-size", 20, "packages per page")
	addAPIFlags(list, listFlags)

	countFlags := &APIFlags{}
	var countType string
	count := &cobra.Command{
		Use:   "count",
		Short: "Count stored packages",
		RunE: func(cmd *cobra.Command, args []string) error {
			return newCommand(countFlags).PackagesCount(countType)
		},
	}
	count.Flags().StringVar(&countType, "type", "all", "package type: private, cached or all")
	addAPIFlags(count, countFlags)

	deleteFlags := &APIFlags{}
	var name, deleteType string
	del := &cobra.Command{
		Use:   "delete",
		Short: "Delete stored packages",
		Long: `Delete one package by name, or every package of a type.

Examples:
  verdadesk packages delete --name=@scope/pkg
  verdadesk packages delete --type=cached`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if name == "" && deleteType == "" {
				return fmt.Errorf("one of --name or --type is required")
			}
			return newCommand(deleteFlags).PackagesDelete(name, deleteType)
		},
	}
	del.Flags().StringVar(&name, "name", "", "package name to delete")
	del.Flags().StringVar(&deleteType, "type", "", "delete all packages of this type")
	addAPIFlags(del, deleteFlags)

	cmd.AddCommand(list, count, del)
	return cmd
}

func createUsersCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "users",
		Short: "Manage registry accounts",
	}

	listFlags := &APIFlags{}
	list := &cobra.Command{
		Use:   "list",
		Short: "List accounts",
		RunE: func(cmd *cobra.Command, args []string) error {
			return newCommand(listFlags).UsersList()
		},
	}
	addAPIFlags(list, listFlags)

	addFlags := &APIFlags{}
	var username, password string
	add := &cobra.Command{
		Use:   "add",
		Short: "Create an account",
		Long: `Create a registry account in the htpasswd file.

Example:
  verdadesk users add --username=alice --password=secret`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return newCommand(addFlags).UsersAdd(username, password)
		},
	}
	add.Flags().StringVar(&username, "username", "", "account name (required)")
	add.Flags().StringVar(&password, "password", "", "account password (required)")
	addAPIFlags(add, addFlags)
	for _, f := range []string{"username", "password"} {
		if err := add.MarkFlagRequired(f); err != nil {
			panic(err)
		}
	}

	removeFlags := &APIFlags{}
	var removeName string
	remove := &cobra.Command{
		Use:   "remove",
		Short: "Delete an account",
		RunE: func(cmd *cobra.Command, args []string) error {
			return newCommand(removeFlags).UsersRemove(removeName)
		},
	}
	remove.Flags().StringVar(&removeName, "username", "", "account name (required)")
	addAPIFlags(remove, removeFlags)
	if err := remove.MarkFlagRequired("username"); err != nil {
		panic(err)
	}

	passwdFlags := &APIFlags{}
	var passwdName, newPassword string
	passwd := &cobra.Command{
		Use:   "passwd",
		Short: "Change an account password",
		RunE: func(cmd *cobra.Command, args []string) error {
			return newCommand(passwdFlags).UsersPasswd(passwdName, newPassword)
		},
	}
	passwd.Flags().StringVar(&passwdName, "username", "", "account name (required)")
	passwd.Flags().StringVar(&newPassword, "password", "", "new password (required)")
	addAPIFlags(passwd, passwdFlags)
	for _, f := range []string{"username", "password"} {
		if err := passwd.MarkFlagRequired(f); err != nil {
			panic(err)
		}
	}

	countFlags := &APIFlags{}
	count := &cobra.Command{
		Use:   "count",
		Short: "Count accounts",
		RunE: func(cmd *cobra.Command, args []string) error {
			return newCommand(countFlags).UsersCount()
		},
	}
	addAPIFlags(count, countFlags)

	cmd.AddCommand(list, add, remove, passwd, count)
	return cmd
}

func createSettingsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "settings",
		Short: "Manage control panel preferences",
	}

	showFlags := &APIFlags{}
	show := &cobra.Command{
		Use:   "show",
		Short: "Print current preferences",
		RunE: func(cmd *cobra.Command, args []string) error {
			return newCommand(showFlags).SettingsShow()
		},
	}
	addAPIFlags(show, showFlags)

	setFlags := &APIFlags{}
	set := &cobra.Command{
		Use:   "set",
		Short: "Update preferences",
		Long: `Update one or more preferences; unset flags keep their saved values.

Examples:
  verdadesk settings set --default-port=5000
  verdadesk settings set --auto-start-registry=true --allow-lan=false`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return newCommand(setFlags).SettingsSet(settingsUpdate{
				autoStart:         flagBool(cmd, "auto-start"),
				minimizeToTray:    flagBool(cmd, "minimize-to-tray"),
				autoStartRegistry: flagBool(cmd, "auto-start-registry"),
				allowLAN:          flagBool(cmd, "allow-lan"),
				defaultPort:       flagUint16(cmd, "default-port"),
			})
		},
	}
	set.Flags().Bool("auto-start", false, "launch the panel at login")
	set.Flags().Bool("minimize-to-tray", true, "minimize to tray instead of quitting")
	set.Flags().Bool("auto-start-registry", false, "launch the registry when the daemon starts")
	set.Flags().Bool("allow-lan", false, "bind the registry to all interfaces")
	set.Flags().Uint16("default-port", 0, "default registry port")
	addAPIFlags(set, setFlags)

	cmd.AddCommand(show, set)
	return cmd
}

func flagBool(cmd *cobra.Command, name string) *bool {
	if !cmd.Flag(name).Changed {
		return nil
	}
	v, _ := cmd.Flags().GetBool(name)
	return &v
}

func flagUint16(cmd *cobra.Command, name string) *uint16 {
	if !cmd.Flag(name).Changed {
		return nil
	}
	v, _ := cmd.Flags().GetUint16(name)
	return &v
}
