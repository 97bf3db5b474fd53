package cli

import (
	"crypto/rand"
	"fmt"
	"net/url"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/tkingovr/adminsync/internal/config"
	"github.com/tkingovr/adminsync/internal/twin"
)

var (
	twinAddr     string
	twinPrefix   string
	twinSecret   string
	twinSeed     int
	twinTokenTTL time.Duration
)

var twinCmd = &cobra.Command{
	Use:   "twin",
	Short: "Run an in-memory backend for local development",
	Long: `Run an in-memory twin of the REST backend serving every configured
resource. It checks the API key and a bearer token, assigns ids, pages
lists, stores uploads, and keeps summary counters. A development token
is printed on stdout; export it as ADMINSYNC_TOKEN for other commands.

Listen address and path prefix default to the host and path of
backend.base_url.`,
	Example: `  adminsync twin -c adminsync.yaml --seed 25
  adminsync twin -c adminsync.yaml -l 127.0.0.1:9000 --prefix /v1`,
	RunE: runTwin,
}

func init() {
	twinCmd.Flags().StringVarP(&twinAddr, "listen", "l", "", "listen address (default from backend.base_url)")
	twinCmd.Flags().StringVar(&twinPrefix, "prefix", "", "API path prefix (default from backend.base_url)")
	twinCmd.Flags().StringVar(&twinSecret, "secret", "", "token signing secret (or $ADMINSYNC_TWIN_SECRET, random when unset)")
	twinCmd.Flags().IntVar(&twinSeed, "seed", 0, "demo items generated per resource")
	twinCmd.Flags().DurationVar(&twinTokenTTL, "token-ttl", 24*time.Hour, "lifetime of the printed token")
	rootCmd.AddCommand(twinCmd)
}

func runTwin(cmd *cobra.Command, args []string) error {
	cfg, err := requireConfig("twin")
	if err != nil {
		return err
	}
	if len(cfg.Resources) == 0 {
		return fmt.Errorf("no resources configured")
	}

	addr, prefix := twinAddr, twinPrefix
	if u, err := url.Parse(cfg.Backend.BaseURL); err == nil {
		if addr == "" {
			addr = u.Host
		}
		if prefix == "" {
			prefix = u.Path
		}
	}
	if addr == "" {
		addr = config.DefaultTwinAddr
	}

	secret, err := twinSigningSecret()
	if err != nil {
		return err
	}

	srv := twin.New(twin.Options{
		Prefix:       prefix,
		APIKey:       cfg.Backend.APIKey,
		APIKeyHeader: cfg.Backend.APIKeyHeader,
		Secret:       secret,
		UploadPath:   cfg.Backend.UploadPath,
		Resources:    cfg.Resources,
		Logger:       logger,
	})
	if twinSeed > 0 {
		srv.SeedDemo(twinSeed)
	}

	token, err := srv.MintToken("adminsync-dev", twinTokenTTL)
	if err != nil {
		return fmt.Errorf("minting token: %w", err)
	}
	fmt.Println(token)

	ctx, cancel := signalContext()
	defer cancel()
	return srv.ListenAndServe(ctx, addr)
}

func twinSigningSecret() ([]byte, error) {
	if twinSecret != "" {
		return []byte(twinSecret), nil
	}
	if v := os.Getenv("ADMINSYNC_TWIN_SECRET"); v != "" {
		return []byte(v), nil
	}
	secret := make([]byte, 32)
	if _, err := rand.Read(secret); err != nil {
		return nil, fmt.Errorf("generating secret: %w", err)
	}
	return secret, nil
}
