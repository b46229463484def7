// tdtpmigrate - ETL миграция между реляционными и документными базами.
//
// Usage:
//
//	tdtpmigrate run      --projects projects.yaml --config execution.yaml
//	tdtpmigrate discover --projects projects.yaml --connection src
//	tdtpmigrate suggest  --projects projects.yaml --source src --target dst
//	tdtpmigrate preview  --projects projects.yaml --project shop --table orders
//	tdtpmigrate serve    --projects projects.yaml --addr :8080
//
// Переменные окружения подключений (TDTP_CRED_<REF>_USER, TDTP_CRED_<REF>_PASSWORD) можно
// положить в .env рядом с проектом.
package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	// регистрация движков
	_ "github.com/ruslano69/tdtp-migrator/pkg/adapters/couchdb"
	_ "github.com/ruslano69/tdtp-migrator/pkg/adapters/mongodb"
	_ "github.com/ruslano69/tdtp-migrator/pkg/adapters/mssql"
	_ "github.com/ruslano69/tdtp-migrator/pkg/adapters/mysql"
	_ "github.com/ruslano69/tdtp-migrator/pkg/adapters/postgres"
	_ "github.com/ruslano69/tdtp-migrator/pkg/adapters/sqlite"
)

var (
	projectsFile string
	envFile      string
	logLevel     string
	logJSON      bool
)

var rootCmd = &cobra.Command{
	Use:   "tdtpmigrate",
	Short: "ETL migration engine",
	Long: `tdtpmigrate moves data between relational and document databases
through a staged pipeline: extract, transform, load dimensions, load facts,
validate and report.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := loadDotenv(envFile); err != nil {
			return err
		}
		return setupLogging(logLevel, logJSON)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&projectsFile, "projects", "p", "projects.yaml", "project file with connections and table mappings")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file with connection credentials")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().BoolVar(&logJSON, "log-json", false, "write JSON logs instead of console output")

	rootCmd.AddCommand(runCmd, discoverCmd, suggestCmd, previewCmd, serveCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Error().Err(err).Msg("tdtpmigrate failed")
		os.Exit(1)
	}
}

// loadDotenv подгружает .env; отсутствующий файл не ошибка.
// Уже заданные переменные окружения не перезаписываются.
func loadDotenv(path string) error {
	if path == "" {
		return nil
	}
	err := godotenv.Load(path)
	if err == nil || errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return fmt.Errorf("failed to load %s: %w", path, err)
}

func setupLogging(level string, jsonOutput bool) error {
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil {
		return fmt.Errorf("invalid log level %q: %w", level, err)
	}
	zerolog.SetGlobalLevel(lvl)

	if jsonOutput {
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	} else {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}
	return nil
}
