// Command seed-db populates the database with demo stores, products, deals,
// and a seller API key. It is idempotent: rows are upserted by id.
package main

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/vendimo/marketplace-core/internal/storage/postgres"
)

type catalogJSON struct {
	Stores []struct {
		ID    string `json:"id"`
		Name  string `json:"name"`
		Email string `json:"email"`
	} `json:"stores"`
	Products []struct {
		ID            string `json:"id"`
		StoreID       string `json:"storeId"`
		Name          string `json:"name"`
		Kind          string `json:"kind"`
		Price         int64  `json:"price"`
		OriginalPrice int64  `json:"originalPrice"`
		Quantity      int    `json:"quantity"`
		Sizes         []struct {
			Key      string `json:"key"`
			Price    int64  `json:"price"`
			Quantity int    `json:"quantity"`
		} `json:"sizes"`
	} `json:"products"`
	Deals []struct {
		ID             string     `json:"id"`
		Name           string     `json:"name"`
		Type           string     `json:"type"`
		Value          int64      `json:"value"`
		BuyQuantity    int        `json:"buyQuantity"`
		GetQuantity    int        `json:"getQuantity"`
		Active         bool       `json:"active"`
		StartsAt       *time.Time `json:"startsAt"`
		EndsAt         *time.Time `json:"endsAt"`
		MaxUses        int        `json:"maxUses"`
		FlashRemaining int        `json:"flashRemaining"`
		AllowedSizes   []string   `json:"allowedSizes"`
	} `json:"deals"`
}

func main() {
	var (
		databaseURL  string
		catalogFile  string
		apiKey       string
		apiKeyStore  string
		apiKeyPepper string
	)

	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&catalogFile, "catalog-file", "db/seed/catalog.json", "path to catalog JSON file")
	flag.StringVar(&apiKey, "api-key", "", "API key to seed (or VENDIMO_SEED_API_KEY env)")
	flag.StringVar(&apiKeyStore, "api-key-store", "", "store the seeded key is bound to; empty for a platform key")
	flag.StringVar(&apiKeyPepper, "api-key-pepper", "", "HMAC pepper for API key hashing (or VENDIMO_API_KEY_PEPPER env)")
	flag.Parse()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}
	if apiKey == "" {
		apiKey = os.Getenv("VENDIMO_SEED_API_KEY")
	}
	if apiKey == "" {
		slog.Error("API key is required: set --api-key or VENDIMO_SEED_API_KEY")
		os.Exit(1)
	}
	if apiKeyPepper == "" {
		apiKeyPepper = os.Getenv("VENDIMO_API_KEY_PEPPER")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, databaseURL, catalogFile, apiKey, apiKeyStore, apiKeyPepper); err != nil {
		slog.Error("seed failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("seed completed successfully")
}

func run(ctx context.Context, databaseURL, catalogFile, apiKey, apiKeyStore, pepper string) error {
	slog.Info("connecting to database")

	pool, err := postgres.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	slog.Info("running migrations")

	if err := postgres.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	catalog, err := readCatalog(catalogFile)
	if err != nil {
		return errors.Wrap(err, "read catalog")
	}

	if err := seedCatalog(ctx, pool, catalog); err != nil {
		return errors.Wrap(err, "seed catalog")
	}

	if err := seedAPIKey(ctx, pool, apiKey, apiKeyStore, pepper); err != nil {
		return errors.Wrap(err, "seed api key")
	}

	return nil
}

func readCatalog(path string) (*catalogJSON, error) {
	slog.Info("reading catalog file", slog.String("path", path))

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "read file")
	}

	var catalog catalogJSON
	if err := json.Unmarshal(data, &catalog); err != nil {
		return nil, errors.Wrap(err, "parse JSON")
	}
	return &catalog, nil
}

func seedCatalog(ctx context.Context, pool *pgxpool.Pool, catalog *catalogJSON) error {
	for _, s := range catalog.Stores {
		_, err := pool.Exec(ctx, `INSERT INTO stores (id, name, email) VALUES ($1, $2, $3)
			ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, email = EXCLUDED.email`,
			s.ID, s.Name, s.Email)
		if err != nil {
			return errors.Wrapf(err, "upsert store %s", s.ID)
		}
	}
	slog.Info("upserted stores", slog.Int("count", len(catalog.Stores)))

	for _, p := range catalog.Products {
		_, err := pool.Exec(ctx, `INSERT INTO products
				(id, store_id, name, kind, price, original_price, quantity)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			ON CONFLICT (id) DO UPDATE SET
				store_id = EXCLUDED.store_id, name = EXCLUDED.name,
				kind = EXCLUDED.kind, price = EXCLUDED.price,
				original_price = EXCLUDED.original_price, quantity = EXCLUDED.quantity`,
			p.ID, p.StoreID, p.Name, p.Kind, p.Price, p.OriginalPrice, p.Quantity)
		if err != nil {
			return errors.Wrapf(err, "upsert product %s", p.ID)
		}

		for _, size := range p.Sizes {
			_, err := pool.Exec(ctx, `INSERT INTO product_sizes (product_id, size_key, price, quantity)
				VALUES ($1, $2, $3, $4)
				ON CONFLICT (product_id, size_key) DO UPDATE SET
					price = EXCLUDED.price, quantity = EXCLUDED.quantity`,
				p.ID, size.Key, size.Price, size.Quantity)
			if err != nil {
				return errors.Wrapf(err, "upsert size %s of product %s", size.Key, p.ID)
			}
		}
	}
	slog.Info("upserted products", slog.Int("count", len(catalog.Products)))

	for _, d := range catalog.Deals {
		allowed := d.AllowedSizes
		if allowed == nil {
			allowed = []string{}
		}
		_, err := pool.Exec(ctx, `INSERT INTO deals
				(id, name, deal_type, value, buy_quantity, get_quantity, active,
				 starts_at, ends_at, max_uses, flash_remaining, allowed_sizes)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
			ON CONFLICT (id) DO UPDATE SET
				name = EXCLUDED.name, deal_type = EXCLUDED.deal_type,
				value = EXCLUDED.value, buy_quantity = EXCLUDED.buy_quantity,
				get_quantity = EXCLUDED.get_quantity, active = EXCLUDED.active,
				starts_at = EXCLUDED.starts_at, ends_at = EXCLUDED.ends_at,
				max_uses = EXCLUDED.max_uses, flash_remaining = EXCLUDED.flash_remaining,
				allowed_sizes = EXCLUDED.allowed_sizes`,
			d.ID, d.Name, d.Type, d.Value, d.BuyQuantity, d.GetQuantity, d.Active,
			d.StartsAt, d.EndsAt, d.MaxUses, d.FlashRemaining, allowed)
		if err != nil {
			return errors.Wrapf(err, "upsert deal %s", d.ID)
		}
	}
	slog.Info("upserted deals", slog.Int("count", len(catalog.Deals)))

	return nil
}

func seedAPIKey(ctx context.Context, pool *pgxpool.Pool, apiKey, storeID, pepper string) error {
	mac := hmac.New(sha256.New, []byte(pepper))
	mac.Write([]byte(apiKey))
	hash := hex.EncodeToString(mac.Sum(nil))

	_, err := pool.Exec(ctx, `INSERT INTO api_keys (id, key_hash, name, store_id, scopes)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (key_hash) DO UPDATE SET store_id = EXCLUDED.store_id, active = TRUE`,
		"seed-key", hash, "seed key", storeID, []string{"settlements"})
	if err != nil {
		return errors.Wrap(err, "upsert api key")
	}

	slog.Info("upserted api key", slog.String("store_id", storeID))
	return nil
}
