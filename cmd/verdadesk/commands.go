package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/npmint/verdadesk/pkg/client"
)

// command wraps the daemon API client for CLI use.
type command struct {
	client *client.Client
}

func newCommand(flags *APIFlags) command {
	cfg := client.DefaultConfig()
	if flags.URL != "" {
		cfg.BaseURL = flags.URL
	}
	if flags.Timeout > 0 {
		cfg.Timeout = flags.Timeout
	}
	return command{client: client.New(cfg)}
}

func (c command) Start(port uint16, allowLAN bool) error {
	st, err := c.client.Start(context.Background(), client.StartRequest{Port: port, AllowLAN: allowLAN})
	if err != nil {
		return err
	}
	fmt.Printf("registry started, pid %d, port %d\n", st.PID, st.Port)
	return nil
}

func (c command) Stop() error {
	if err := c.client.Stop(context.Background()); err != nil {
		return err
	}
	fmt.Println("registry stopped")
	return nil
}

func (c command) Restart(port uint16, allowLAN bool) error {
	st, err := c.client.Restart(context.Background(), client.StartRequest{Port: port, AllowLAN: allowLAN})
	if err != nil {
		return err
	}
	fmt.Printf("registry restarted, pid %d, port %d\n", st.PID, st.Port)
	return nil
}

func (c command) Status() error {
	st, err := c.client.Status(context.Background())
	if err != nil {
		return err
	}
	printJSON(st)
	return nil
}

func (c command) Logs() error {
	entries, err := c.client.Logs(context.Background())
	if err != nil {
		return err
	}
	for _, e := range entries {
		fmt.Printf("%s [%s] %s\n", e.Timestamp, e.Level, e.Message)
	}
	return nil
}

func (c command) ClearLogs() error {
	if err := c.client.ClearLogs(context.Background()); err != nil {
		return err
	}
	fmt.Println("logs cleared")
	return nil
}

func (c command) Version() error {
	v, err := c.client.Version(context.Background())
	if err != nil {
		return err
	}
	fmt.Println(v)
	return nil
}

func (c command) ConfigShow() error {
	content, err := c.client.RegistryConfig(context.Background())
	if err != nil {
		return err
	}
	fmt.Print(content)
	return nil
}

func (c command) ConfigSave(file string) error {
	data, err := os.ReadFile(filepath.Clean(file))
	if err != nil {
		return fmt.Errorf("read %s: %w", file, err)
	}
	if err := c.client.SaveRegistryConfig(context.Background(), string(data)); err != nil {
		return err
	}
	fmt.Println("config saved")
	return nil
}

func (c command) ConfigReset() error {
	if err := c.client.ResetRegistryConfig(context.Background()); err != nil {
		return err
	}
	fmt.Println("config reset to defaults")
	return nil
}

func (c command) PackagesList(typ string, page, pageSize int) error {
	result, err := c.client.Packages(context.Background(), client.PackagesQuery{
		Type:     typ,
		Page:     page,
		PageSize: pageSize,
	})
	if err != nil {
		return err
	}
	printJSON(result)
	return nil
}

func (c command) PackagesCount(typ string) error {
	n, err := c.client.PackageCount(context.Background(), typ)
	if err != nil {
		return err
	}
	fmt.Println(n)
	return nil
}

func (c command) PackagesDelete(name, typ string) error {
	if name != "" {
		if err := c.client.DeletePackage(context.Background(), name); err != nil {
			return err
		}
		fmt.Printf("deleted %s\n", name)
		return nil
	}
	n, err := c.client.DeletePackages(context.Background(), typ)
	if err != nil {
		return err
	}
	fmt.Printf("deleted %d package(s)\n", n)
	return nil
}

func (c command) UsersList() error {
	list, err := c.client.Users(context.Background())
	if err != nil {
		return err
	}
	printJSON(list)
	return nil
}

func (c command) UsersAdd(username, password string) error {
	if err := c.client.AddUser(context.Background(), username, password); err != nil {
		return err
	}
	fmt.Printf("user %s added\n", username)
	return nil
}

func (c command) UsersRemove(username string) error {
	if err := c.client.DeleteUser(context.Background(), username); err != nil {
		return err
	}
	fmt.Printf("user %s removed\n", username)
	return nil
}

func (c command) UsersPasswd(username, password string) error {
	if err := c.client.SetUserPassword(context.Background(), username, password); err != nil {
		return err
	}
	fmt.Printf("password updated for %s\n", username)
	return nil
}

func (c command) UsersCount() error {
	n, err := c.client.UserCount(context.Background())
	if err != nil {
		return err
	}
	fmt.Println(n)
	return nil
}

// settingsUpdate carries only the preferences the user set on the
// command line; nil fields keep their saved values.
type settingsUpdate struct {
	autoStart         *bool
	minimizeToTray    *bool
	autoStartRegistry *bool
	allowLAN          *bool
	defaultPort       *uint16
}

func (c command) SettingsShow() error {
	s, err := c.client.Settings(context.Background())
	if err != nil {
		return err
	}
	printJSON(s)
	return nil
}

func (c command) SettingsSet(u settingsUpdate) error {
	ctx := context.Background()
	s, err := c.client.Settings(ctx)
	if err != nil {
		return err
	}
	if u.autoStart != nil {
		s.AutoStart = *u.autoStart
	}
	if u.minimizeToTray != nil {
		s.MinimizeToTray = *u.minimizeToTray
	}
	if u.autoStartRegistry != nil {
		s.AutoStartRegistry = *u.autoStartRegistry
	}
	if u.allowLAN != nil {
		s.AllowLAN = *u.allowLAN
	}
	if u.defaultPort != nil {
		s.DefaultPort = *u.defaultPort
	}
	if err := c.client.SaveSettings(ctx, s); err != nil {
		return err
	}
	printJSON(s)
	return nil
}
