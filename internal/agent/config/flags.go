package config

import (
	"flag"
	"os"
	"time"

	"github.com/fieldtrace/mediasync/internal/flagx"
)

// parseFlags populates selected Config fields from command-line flags.
//
// Supported flags (short forms):
//
//	-a string   base URL of the reconciliation API
//	-f string   path to the agent SQLite database file
//	-u string   device id
//	-p string   device secret
//	-w int      upload worker count
//	-b int      claim/drain batch size
//	-r int      upload attempts before FAILED
//	-i int      sync interval in seconds
//	-o int      online check interval in seconds
//
// The function filters os.Args to only the flags it knows about, using
// flagx.FilterArgs, to avoid interference with other components.
func parseFlags(cfg *Config) {
	args := flagx.FilterArgs(os.Args[1:], []string{"-a", "-f", "-u", "-p", "-w", "-b", "-r", "-i", "-o"})

	fs := flag.NewFlagSet("main", flag.ContinueOnError)

	fs.StringVar(&cfg.ServerBaseURL, "a", cfg.ServerBaseURL, "base URL of the reconciliation API")
	fs.StringVar(&cfg.DatabasePath, "f", cfg.DatabasePath, "path to the agent database file")
	fs.StringVar(&cfg.DeviceID, "u", cfg.DeviceID, "device id")
	fs.StringVar(&cfg.DeviceSecret, "p", cfg.DeviceSecret, "device secret")
	fs.IntVar(&cfg.Workers, "w", cfg.Workers, "upload worker count")
	fs.IntVar(&cfg.BatchSize, "b", cfg.BatchSize, "claim batch size")
	fs.IntVar(&cfg.MaxRetries, "r", cfg.MaxRetries, "upload attempts before FAILED")
	syncInterval := fs.Int("i", int(cfg.SyncInterval.Seconds()), "sync interval (in seconds)")
	onlineCheckInterval := fs.Int("o", int(cfg.OnlineCheckInterval.Seconds()), "online check interval (in seconds)")

	if err := fs.Parse(args); err != nil {
		panic(err)
	}

	cfg.SyncInterval = time.Duration(*syncInterval) * time.Second
	cfg.OnlineCheckInterval = time.Duration(*onlineCheckInterval) * time.Second
}
