package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/jotlabs/memochat/internal/profile"
	"github.com/jotlabs/memochat/internal/version"
	"github.com/jotlabs/memochat/server"
	"github.com/jotlabs/memochat/store"
	"github.com/jotlabs/memochat/store/db"
)

var rootCmd = &cobra.Command{
	Use:   "memochat",
	Short: `A streaming LLM chat server with persistent sessions and long-term memory.`,
	PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
		// Systemd deployments configure through the unit environment, not
		// a working-directory .env file.
		if !isRunningAsSystemdService() {
			_ = godotenv.Load()
		}
		return nil
	},
	Run: func(_ *cobra.Command, _ []string) {
		instanceProfile := &profile.Profile{
			Mode:    viper.GetString("mode"),
			Addr:    viper.GetString("addr"),
			Port:    viper.GetInt("port"),
			Data:    viper.GetString("data"),
			Driver:  viper.GetString("driver"),
			DSN:     viper.GetString("dsn"),
			Version: version.GetCurrentVersion(viper.GetString("mode")),
		}
		instanceProfile.FromEnv()
		if err := instanceProfile.Validate(); err != nil {
			slog.Error("invalid configuration", "error", err)
			os.Exit(1)
		}

		ctx, cancel := context.WithCancel(context.Background())
		dbDriver, err := db.NewDBDriver(instanceProfile)
		if err != nil {
			cancel()
			slog.Error("failed to create db driver", "error", err)
			return
		}

		storeInstance := store.New(dbDriver, instanceProfile)
		if err := storeInstance.Migrate(ctx); err != nil {
			cancel()
			slog.Error("failed to migrate", "error", err)
			return
		}

		s, err := server.NewServer(ctx, instanceProfile, storeInstance)
		if err != nil {
			cancel()
			slog.Error("failed to create server", "error", err)
			return
		}

		c := make(chan os.Signal, 1)
		signal.Notify(c, terminationSignals...)

		if err := s.Start(ctx); err != nil {
			if !errors.Is(err, http.ErrServerClosed) {
				slog.Error("failed to start server", "error", err)
				cancel()
			}
		}

		printGreetings(instanceProfile)

		go func() {
			<-c
			s.Shutdown(ctx)
			cancel()
		}()

		<-ctx.Done()
	},
}

func init() {
	viper.SetDefault("mode", "dev")
	viper.SetDefault("driver", "sqlite")
	viper.SetDefault("port", 28090)

	rootCmd.PersistentFlags().String("mode", "dev", `mode of server, can be "prod" or "dev" or "demo"`)
	rootCmd.PersistentFlags().String("addr", "", "address of server")
	rootCmd.PersistentFlags().Int("port", 28090, "port of server")
	rootCmd.PersistentFlags().String("data", "", "data directory")
	rootCmd.PersistentFlags().String("driver", "sqlite", "database driver (sqlite, postgres)")
	rootCmd.PersistentFlags().String("dsn", "", "database source name (aka. DSN)")

	for _, flag := range []string{"mode", "addr", "port", "data", "driver", "dsn"} {
		if err := viper.BindPFlag(flag, rootCmd.PersistentFlags().Lookup(flag)); err != nil {
			panic(err)
		}
	}

	viper.SetEnvPrefix("memochat")
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
}

func printGreetings(profile *profile.Profile) {
	fmt.Printf("memochat %s started successfully!\n", profile.Version)

	if profile.IsDev() {
		fmt.Fprint(os.Stderr, "Development mode is enabled\n")
		if profile.DSN != "" {
			fmt.Fprintf(os.Stderr, "Database: %s\n", profile.DSN)
		}
	}

	fmt.Printf("Data directory: %s\n", profile.Data)
	fmt.Printf("Database driver: %s\n", profile.Driver)
	fmt.Printf("Mode: %s\n", profile.Mode)

	if len(profile.Addr) == 0 {
		fmt.Printf("Server running on port %d\n", profile.Port)
		fmt.Printf("API available at: http://localhost:%d/api/v1\n", profile.Port)
	} else {
		fmt.Printf("Server running on %s:%d\n", profile.Addr, profile.Port)
		fmt.Printf("API available at: http://%s:%d/api/v1\n", profile.Addr, profile.Port)
	}
}

// isRunningAsSystemdService detects if the process is running under systemd.
func isRunningAsSystemdService() bool {
	return os.Getenv("INVOCATION_ID") != "" || os.Getenv("WATCHDOG_USEC") != ""
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		panic(err)
	}
}
