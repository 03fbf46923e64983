// Package maintenance implements the operator CLI: inventory stats, invariant
// checks, reconciliation, cache sync and offline inventory loading.
package maintenance

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/caarlos0/env/v11"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/rl1809/keydrop/internal/adapter/events"
	"github.com/rl1809/keydrop/internal/adapter/secret"
	"github.com/rl1809/keydrop/internal/adapter/storage"
	"github.com/rl1809/keydrop/internal/core/domain"
	"github.com/rl1809/keydrop/internal/core/service"
	"github.com/rl1809/keydrop/internal/metrics"
	"github.com/rl1809/keydrop/internal/port"
)

const (
	CmdStats      = "stats"
	CmdCheck      = "check"
	CmdReconcile  = "reconcile"
	CmdSyncCache  = "sync-cache"
	CmdAddProduct = "add-product"
	CmdAddItems   = "add-items"
)

var commands = []string{CmdStats, CmdCheck, CmdReconcile, CmdSyncCache, CmdAddProduct, CmdAddItems}

type Config struct {
	Command string

	DBDriver      string
	DBDSN         string
	RedisAddr     string
	EncryptionKey string
	Currency      string

	ProductID    string
	Name         string
	Price        string
	ProductType  string
	Instructions string
	ItemsFile    string
	AddedBy      string

	// Input replaces stdin for add-items when ItemsFile is "-".
	Input io.Reader
}

type envConfig struct {
	DBDriver      string `env:"DB_DRIVER" envDefault:"sqlite"`
	DBDSN         string `env:"DB_DSN" envDefault:"keydrop.db"`
	RedisAddr     string `env:"REDIS_ADDR"`
	EncryptionKey string `env:"ENCRYPTION_KEY"`
	Currency      string `env:"CURRENCY" envDefault:"usd"`
}

// ParseConfig reads the environment, then flags. A nil environ means the
// process environment.
func ParseConfig(fs *flag.FlagSet, args []string, environ map[string]string) (Config, error) {
	var envCfg envConfig
	if err := env.ParseWithOptions(&envCfg, env.Options{Environment: environ}); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}

	cfg := Config{
		DBDriver:      strings.TrimSpace(envCfg.DBDriver),
		DBDSN:         strings.TrimSpace(envCfg.DBDSN),
		RedisAddr:     strings.TrimSpace(envCfg.RedisAddr),
		EncryptionKey: envCfg.EncryptionKey,
		Currency:      strings.TrimSpace(envCfg.Currency),
	}

	fs.StringVar(&cfg.Command, "cmd", "", "command: "+strings.Join(commands, "|"))
	fs.StringVar(&cfg.DBDriver, "db-driver", cfg.DBDriver, "database driver (mysql, sqlite)")
	fs.StringVar(&cfg.DBDSN, "db-dsn", cfg.DBDSN, "database DSN or SQLite path")
	fs.StringVar(&cfg.RedisAddr, "redis-addr", cfg.RedisAddr, "redis address for sync-cache")
	fs.StringVar(&cfg.ProductID, "product", "", "product id")
	fs.StringVar(&cfg.Name, "name", "", "product name for add-product")
	fs.StringVar(&cfg.Price, "price", "", "unit price in major units for add-product, e.g. 10.00")
	fs.StringVar(&cfg.ProductType, "type", string(domain.ProductTypeCode), "product type for add-product")
	fs.StringVar(&cfg.Instructions, "instructions", "", "delivery instructions for add-product")
	fs.StringVar(&cfg.ItemsFile, "items", "-", "file with one item per line for add-items, - for stdin")
	fs.StringVar(&cfg.AddedBy, "added-by", "maintenance", "operator recorded on added items")
	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	if err := validateCommand(cfg.Command); err != nil {
		return Config{}, err
	}
	switch cfg.Command {
	case CmdStats, CmdAddItems:
		if cfg.ProductID == "" {
			return Config{}, fmt.Errorf("-product is required for %s", cfg.Command)
		}
	case CmdAddProduct:
		if cfg.Name == "" || cfg.Price == "" {
			return Config{}, errors.New("-name and -price are required for add-product")
		}
	case CmdSyncCache:
		if cfg.RedisAddr == "" {
			return Config{}, errors.New("-redis-addr or REDIS_ADDR is required for sync-cache")
		}
	}
	return cfg, nil
}

func validateCommand(cmd string) error {
	for _, c := range commands {
		if cmd == c {
			return nil
		}
	}
	if cmd == "" {
		return fmt.Errorf("-cmd is required (valid commands: %s)", strings.Join(commands, ", "))
	}
	return fmt.Errorf("unknown command %q (valid commands: %s)", cmd, strings.Join(commands, ", "))
}

func Run(ctx context.Context, cfg Config, out io.Writer, errOut io.Writer) error {
	if out == nil {
		out = io.Discard
	}
	if errOut == nil {
		errOut = io.Discard
	}

	store, err := storage.Open(ctx, cfg.DBDriver, cfg.DBDSN)
	if err != nil {
		return err
	}
	defer store.Close()

	var cache port.CacheRepository
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		if err := rdb.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("connect redis: %w", err)
		}
		defer rdb.Close()
		cache = storage.NewRedisAdapter(rdb)
	}

	var secrets port.SecretStore
	if cfg.Command == CmdAddItems {
		sealer, err := secret.NewAESGCMSealer([]byte(cfg.EncryptionKey))
		if err != nil {
			return fmt.Errorf("ENCRYPTION_KEY: %w", err)
		}
		secrets = sealer
	}

	log := zap.NewNop()
	inventory := service.NewInventoryService(store, cache, secrets, events.NewLogPublisher(log), cfg.Currency, log, metrics.New())

	switch cfg.Command {
	case CmdStats:
		stats, err := inventory.GetInventoryStats(ctx, cfg.ProductID)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "product:   %s\ntotal:     %d\navailable: %d\nreserved:  %d\nsold:      %d\n",
			stats.ProductID, stats.Total, stats.Available, stats.Reserved, stats.Sold)
		return nil

	case CmdCheck:
		report, err := inventory.CheckInvariants(ctx)
		if err != nil {
			return err
		}
		if err := writeJSON(out, report); err != nil {
			return err
		}
		if !report.OK() {
			return errors.New("inventory invariants violated")
		}
		return nil

	case CmdReconcile:
		result, err := inventory.Reconcile(ctx)
		if err != nil {
			return err
		}
		if err := writeJSON(out, result); err != nil {
			return err
		}
		if !result.Report.OK() {
			fmt.Fprintln(errOut, "warning: violations remain after reconcile, manual review needed")
		}
		return nil

	case CmdSyncCache:
		n, err := inventory.SyncCache(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "synced %d products\n", n)
		return nil

	case CmdAddProduct:
		price, err := decimal.NewFromString(cfg.Price)
		if err != nil {
			return fmt.Errorf("invalid -price %q: %w", cfg.Price, err)
		}
		p, err := inventory.CreateProduct(ctx, service.ProductInput{
			ID:                   cfg.ProductID,
			Name:                 cfg.Name,
			Price:                domain.DecimalToMinor(price),
			ProductType:          domain.ProductType(cfg.ProductType),
			DeliveryInstructions: cfg.Instructions,
		})
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "created product %s\n", p.ID)
		return nil

	case CmdAddItems:
		items, err := readItems(cfg)
		if err != nil {
			return err
		}
		stats, err := inventory.AddInventoryItems(ctx, cfg.ProductID, items, cfg.AddedBy)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "added %d items, %d available\n", len(items), stats.Available)
		return nil
	}
	return validateCommand(cfg.Command)
}

// readItems returns the non-blank lines of the items source.
func readItems(cfg Config) ([]string, error) {
	var r io.Reader
	switch {
	case cfg.ItemsFile == "-" && cfg.Input != nil:
		r = cfg.Input
	case cfg.ItemsFile == "-":
		r = os.Stdin
	default:
		f, err := os.Open(cfg.ItemsFile)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		r = f
	}

	var items []string
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		if line := strings.TrimSpace(scanner.Text()); line != "" {
			items = append(items, line)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read items: %w", err)
	}
	return items, nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

