package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/Sternrassler/apaas-client/pkg/client"
	"github.com/Sternrassler/apaas-client/pkg/logging"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// app carries the configuration shared by all subcommands.
type app struct {
	v       *viper.Viper
	cfgFile string
}

func newRootCommand() *cobra.Command {
	a := &app{v: viper.New()}

	root := &cobra.Command{
		Use:   "apaasctl",
		Short: "aPaaS record API command line client",
		Long: `A command-line interface for the aPaaS record API.

Credentials and namespace are read from flags, APAAS_* environment variables
or $HOME/.apaas/config.yml, in that order of precedence.`,
		Version:       fmt.Sprintf("%s (%s)", version, commit),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.initConfig()
		},
	}

	// Global flags
	pf := root.PersistentFlags()
	pf.StringVarP(&a.cfgFile, "config", "c", "", "config file (default is $HOME/.apaas/config.yml)")
	pf.String("base-url", client.DefaultBaseURL, "platform base URL")
	pf.String("client-id", "", "application client id")
	pf.String("client-secret", "", "application client secret")
	pf.StringP("namespace", "n", "", "tenant namespace")
	pf.Bool("disable-token-cache", false, "exchange credentials before every request")
	pf.Int("max-pages", 0, "stop --all reads after this many pages (0 = unbounded)")
	pf.String("redis", "", "Redis address for the metadata cache (disabled when empty)")
	pf.StringP("output", "o", OutputFormatTable, "output format (table, json, yaml)")
	pf.String("log-level", "warn", "log level (debug, info, warn, error, disabled)")

	// Bind flags to viper
	for _, name := range []string{
		"base-url", "client-id", "client-secret", "namespace", "disable-token-cache",
		"max-pages", "redis", "output", "log-level",
	} {
		_ = a.v.BindPFlag(name, pf.Lookup(name))
	}

	// Add commands
	root.AddCommand(a.newQueryCommand())
	root.AddCommand(a.newGetCommand())
	root.AddCommand(a.newCreateCommand())
	root.AddCommand(a.newUpdateCommand())
	root.AddCommand(a.newDeleteCommand())
	root.AddCommand(a.newMetaCommand())
	root.AddCommand(a.newDepartmentsCommand())
	root.AddCommand(a.newInvokeCommand())
	root.AddCommand(a.newTokenCommand())
	root.AddCommand(a.newServeCommand())

	return root
}

func (a *app) initConfig() error {
	if a.cfgFile != "" {
		a.v.SetConfigFile(a.cfgFile)
	} else if home, err := os.UserHomeDir(); err == nil {
		// Search config in ~/.apaas/config.yml
		a.v.AddConfigPath(filepath.Join(home, ".apaas"))
		a.v.SetConfigType("yml")
		a.v.SetConfigName("config")
	}

	// Read in environment variables that match, e.g. APAAS_CLIENT_ID
	a.v.SetEnvPrefix("APAAS")
	a.v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	a.v.AutomaticEnv()

	if err := a.v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if a.cfgFile != "" || !errors.As(err, &notFound) {
			return fmt.Errorf("read config: %w", err)
		}
	}

	level := a.v.GetString("log-level")
	if _, err := logging.ParseLevel(level); err != nil {
		return err
	}
	logging.Setup(logging.Config{
		Level:   logging.LogLevel(level),
		Pretty:  true,
		Output:  os.Stderr,
		Service: "apaasctl",
	})

	switch f := a.format(); f {
	case OutputFormatTable, OutputFormatJSON, OutputFormatYAML:
	default:
		return fmt.Errorf("unsupported output format %q", f)
	}

	return nil
}

func (a *app) format() string {
	return strings.ToLower(a.v.GetString("output"))
}

// newClient builds a client from the merged configuration. The returned
// function releases the client and the Redis connection it may own.
func (a *app) newClient() (*client.Client, func(), error) {
	cfg := client.DefaultConfig(
		a.v.GetString("client-id"),
		a.v.GetString("client-secret"),
		a.v.GetString("namespace"),
	)
	cfg.BaseURL = a.v.GetString("base-url")
	cfg.DisableTokenCache = a.v.GetBool("disable-token-cache")
	cfg.MaxPages = a.v.GetInt("max-pages")

	if addr := a.v.GetString("redis"); addr != "" {
		cfg.Redis = redis.NewClient(&redis.Options{Addr: addr})
	}

	c, err := client.New(cfg)
	if err != nil {
		if cfg.Redis != nil {
			_ = cfg.Redis.Close()
		}
		return nil, nil, err
	}

	return c, releaseFunc(c, cfg.Redis), nil
}

// releaseFunc closes c and then rdb when it is set.
func releaseFunc(c *client.Client, rdb *redis.Client) func() {
	return func() {
		_ = c.Close()
		if rdb != nil {
			_ = rdb.Close()
		}
	}
}
